package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/louisb0/talos/internal/domain"
)

// PostRepo persists InitialPost, PostRescan and UpdatedPost rows.
type PostRepo struct {
	db   *ContextDB
	txdb *TxDB
}

// NewPostRepo constructs a PostRepo. txdb may be nil for callers that only
// ever read or run single-statement writes through db.
func NewPostRepo(db *ContextDB, txdb *TxDB) *PostRepo { return &PostRepo{db: db, txdb: txdb} }

var _ domain.PostRepository = (*PostRepo)(nil)

// InsertInitialPost inserts a freshly observed post snapshot.
func (r *PostRepo) InsertInitialPost(ctx domain.Context, p domain.InitialPost) error {
	tracer := otel.Tracer("repo.posts")
	ctx, span := tracer.Start(ctx, "posts.InsertInitialPost")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "initial_posts"),
	)

	q := `INSERT INTO initial_posts (id, metadata, rescan_id) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.Execute(ctx, q, p.ID, p.Metadata, p.RescanID); err != nil {
		return fmt.Errorf("op=posts.insert_initial_post: %w", err)
	}
	return nil
}

// InsertPostRescan schedules a maturity rescan for a post and returns its id.
func (r *PostRepo) InsertPostRescan(ctx domain.Context, pr domain.PostRescan) (int64, error) {
	tracer := otel.Tracer("repo.posts")
	ctx, span := tracer.Start(ctx, "posts.InsertPostRescan")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "post_rescans"),
	)

	q := `INSERT INTO post_rescans (post_id, scheduled_start_at, began_processing) VALUES ($1, $2, FALSE) RETURNING id`
	row, err := r.db.QueryRow(ctx, q, pr.PostID, pr.ScheduledStartAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("op=posts.insert_post_rescan: %w", err)
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("op=posts.insert_post_rescan_scan: %w: %v", domain.ErrDBOperational, err)
	}
	return id, nil
}

// DuePostRescans returns PostRescan rows not yet begun whose
// scheduled_start_at has passed, per spec.md §4.2 sub-pass B.
func (r *PostRepo) DuePostRescans(ctx domain.Context, now time.Time) ([]domain.PostRescan, error) {
	tracer := otel.Tracer("repo.posts")
	ctx, span := tracer.Start(ctx, "posts.DuePostRescans")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "post_rescans"),
	)

	q := `
		SELECT id, post_id, scheduled_start_at, began_processing, started_at, last_seen
		FROM post_rescans
		WHERE began_processing = FALSE AND scheduled_start_at <= $1
		ORDER BY scheduled_start_at ASC`
	rows, err := r.db.Query(ctx, q, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("op=posts.due_post_rescans: %w", err)
	}
	defer rows.Close()

	var out []domain.PostRescan
	for rows.Next() {
		var pr domain.PostRescan
		if err := rows.Scan(&pr.ID, &pr.PostID, &pr.ScheduledStartAt, &pr.BeganProcessing, &pr.StartedAt, &pr.LastSeen); err != nil {
			return nil, fmt.Errorf("op=posts.due_post_rescans_scan: %w", err)
		}
		out = append(out, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=posts.due_post_rescans_rows: %w", err)
	}
	return out, nil
}

// MarkBegan sets began_processing=true, last_seen=now for a PostRescan. When
// called from within a WithTx scope, use MarkBeganTx instead so the update
// shares the caller's transaction.
func (r *PostRepo) MarkBegan(ctx domain.Context, id int64, now time.Time) error {
	tracer := otel.Tracer("repo.posts")
	ctx, span := tracer.Start(ctx, "posts.MarkBegan")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "post_rescans"),
	)

	q := `UPDATE post_rescans SET began_processing = TRUE, last_seen = $2 WHERE id = $1`
	if _, err := r.db.Execute(ctx, q, id, now.UTC()); err != nil {
		return fmt.Errorf("op=posts.mark_began: %w", err)
	}
	return nil
}

// MarkBeganTx is the same update as MarkBegan, run inside an existing
// transaction so MarkManyBegan can mark every post-rescan row the scheduler
// has just published in one commit (spec.md §4.2 sub-pass B).
func (r *PostRepo) MarkBeganTx(ctx domain.Context, tx Tx, id int64, now time.Time) error {
	q := `UPDATE post_rescans SET began_processing = TRUE, last_seen = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, q, id, now.UTC()); err != nil {
		return fmt.Errorf("op=posts.mark_began_tx: %w: %v", domain.ErrDBOperational, err)
	}
	return nil
}

// MarkStarted sets started_at=now for a PostRescan.
func (r *PostRepo) MarkStarted(ctx domain.Context, id int64, now time.Time) error {
	tracer := otel.Tracer("repo.posts")
	ctx, span := tracer.Start(ctx, "posts.MarkStarted")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "post_rescans"),
	)

	q := `UPDATE post_rescans SET started_at = $2 WHERE id = $1`
	if _, err := r.db.Execute(ctx, q, id, now.UTC()); err != nil {
		return fmt.Errorf("op=posts.mark_started: %w", err)
	}
	return nil
}

// MarkStartedTx is MarkStarted run inside an existing transaction.
func (r *PostRepo) MarkStartedTx(ctx domain.Context, tx Tx, id int64, now time.Time) error {
	q := `UPDATE post_rescans SET started_at = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, q, id, now.UTC()); err != nil {
		return fmt.Errorf("op=posts.mark_started_tx: %w: %v", domain.ErrDBOperational, err)
	}
	return nil
}

// InsertUpdatedPost inserts the updated post body for a base-layer rescan.
func (r *PostRepo) InsertUpdatedPost(ctx domain.Context, u domain.UpdatedPost) error {
	tracer := otel.Tracer("repo.posts")
	ctx, span := tracer.Start(ctx, "posts.InsertUpdatedPost")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "updated_posts"),
	)

	q := `INSERT INTO updated_posts (updated_metadata, post_scan_id) VALUES ($1, $2)`
	if _, err := r.db.Execute(ctx, q, u.UpdatedMetadata, u.PostScanID); err != nil {
		return fmt.Errorf("op=posts.insert_updated_post: %w", err)
	}
	return nil
}

// InsertUpdatedPostTx is InsertUpdatedPost run inside an existing transaction.
func (r *PostRepo) InsertUpdatedPostTx(ctx domain.Context, tx Tx, u domain.UpdatedPost) error {
	q := `INSERT INTO updated_posts (updated_metadata, post_scan_id) VALUES ($1, $2)`
	if _, err := tx.Exec(ctx, q, u.UpdatedMetadata, u.PostScanID); err != nil {
		return fmt.Errorf("op=posts.insert_updated_post_tx: %w: %v", domain.ErrDBOperational, err)
	}
	return nil
}

// WithTx exposes the repo's transactional scope guard to callers (the
// community scanner and post rescanner services) that need to batch several
// repository writes atomically.
func (r *PostRepo) WithTx(ctx domain.Context, fn func(ctx domain.Context, tx Tx) error) error {
	if r.txdb == nil {
		return fmt.Errorf("op=posts.with_tx: %w: no TxDB configured", domain.ErrDBNotInit)
	}
	return r.txdb.WithTx(ctx, fn)
}

// InsertInitialPostTx is InsertInitialPost run inside an existing transaction.
func (r *PostRepo) InsertInitialPostTx(ctx domain.Context, tx Tx, p domain.InitialPost) error {
	q := `INSERT INTO initial_posts (id, metadata, rescan_id) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`
	if _, err := tx.Exec(ctx, q, p.ID, p.Metadata, p.RescanID); err != nil {
		return fmt.Errorf("op=posts.insert_initial_post_tx: %w: %v", domain.ErrDBOperational, err)
	}
	return nil
}

// MarkManyBegan marks every PostRescan id began_processing=true, last_seen=now
// in a single transaction, committing once per scheduler pass per spec.md
// §4.2 sub-pass B.
func (r *PostRepo) MarkManyBegan(ctx domain.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.WithTx(ctx, func(ctx domain.Context, tx Tx) error {
		for _, id := range ids {
			if err := r.MarkBeganTx(ctx, tx, id, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertPostRescanTx is InsertPostRescan run inside an existing transaction.
func (r *PostRepo) InsertPostRescanTx(ctx domain.Context, tx Tx, pr domain.PostRescan) (int64, error) {
	q := `INSERT INTO post_rescans (post_id, scheduled_start_at, began_processing) VALUES ($1, $2, FALSE) RETURNING id`
	row := tx.QueryRow(ctx, q, pr.PostID, pr.ScheduledStartAt.UTC())
	var id int64
	if err := row.Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return 0, fmt.Errorf("op=posts.insert_post_rescan_tx: %w", domain.ErrDBOperational)
		}
		return 0, fmt.Errorf("op=posts.insert_post_rescan_tx: %w: %v", domain.ErrDBOperational, err)
	}
	return id, nil
}
