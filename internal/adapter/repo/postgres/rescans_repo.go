package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/louisb0/talos/internal/domain"
)

// RescanRepo persists CommunityRescan rows.
type RescanRepo struct {
	db *ContextDB
}

// NewRescanRepo constructs a RescanRepo over db.
func NewRescanRepo(db *ContextDB) *RescanRepo { return &RescanRepo{db: db} }

var _ domain.RescanRepository = (*RescanRepo)(nil)

// Insert creates a new CommunityRescan row and returns its id.
func (r *RescanRepo) Insert(ctx domain.Context, communityName string, ranAt time.Time) (int64, error) {
	tracer := otel.Tracer("repo.rescans")
	ctx, span := tracer.Start(ctx, "rescans.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "subreddit_rescans"),
	)

	q := `INSERT INTO subreddit_rescans (community_name, ran_at) VALUES ($1, $2) RETURNING id`
	row, err := r.db.QueryRow(ctx, q, communityName, ranAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("op=rescans.insert: %w", err)
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("op=rescans.insert_scan: %w: %v", domain.ErrDBOperational, err)
	}
	return id, nil
}

// InsertTx is Insert run inside an existing transaction, used by the
// community scanner so the CommunityRescan row shares a commit with the
// InitialPost/PostRescan rows it produces (spec.md §4.3).
func (r *RescanRepo) InsertTx(ctx domain.Context, tx Tx, communityName string, ranAt time.Time) (int64, error) {
	q := `INSERT INTO subreddit_rescans (community_name, ran_at) VALUES ($1, $2) RETURNING id`
	row := tx.QueryRow(ctx, q, communityName, ranAt.UTC())
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("op=rescans.insert_tx: %w: %v", domain.ErrDBOperational, err)
	}
	return id, nil
}

// LastSeenPostIDs returns the set of post ids belonging to the most recent
// CommunityRescan of this community that produced any posts, used as the
// stopping set for the next scan's pagination (spec.md §4.3.1).
func (r *RescanRepo) LastSeenPostIDs(ctx domain.Context, communityName string) (map[string]struct{}, error) {
	tracer := otel.Tracer("repo.rescans")
	ctx, span := tracer.Start(ctx, "rescans.LastSeenPostIDs")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "initial_posts"),
	)

	q := `
		SELECT ip.id
		FROM initial_posts ip
		WHERE ip.rescan_id = (
			SELECT sr.id
			FROM subreddit_rescans sr
			JOIN initial_posts ip2 ON ip2.rescan_id = sr.id
			WHERE sr.community_name = $1
			ORDER BY sr.ran_at DESC
			LIMIT 1
		)`
	rows, err := r.db.Query(ctx, q, communityName)
	if err != nil {
		return nil, fmt.Errorf("op=rescans.last_seen_post_ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("op=rescans.last_seen_post_ids_scan: %w", err)
		}
		out[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=rescans.last_seen_post_ids_rows: %w", err)
	}
	return out, nil
}
