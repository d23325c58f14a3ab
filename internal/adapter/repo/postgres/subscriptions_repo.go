package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/louisb0/talos/internal/domain"
)

// SubscriptionRepo persists Subscription rows.
type SubscriptionRepo struct {
	db *ContextDB
}

// NewSubscriptionRepo constructs a SubscriptionRepo over db.
func NewSubscriptionRepo(db *ContextDB) *SubscriptionRepo { return &SubscriptionRepo{db: db} }

var _ domain.SubscriptionRepository = (*SubscriptionRepo)(nil)

// ListAll returns every subscription row.
func (r *SubscriptionRepo) ListAll(ctx domain.Context) ([]domain.Subscription, error) {
	tracer := otel.Tracer("repo.subscriptions")
	ctx, span := tracer.Start(ctx, "subscriptions.ListAll")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "subscriptions"),
	)

	q := `SELECT community_name, is_subscribed, scan_interval_seconds, last_scanned_at, is_currently_queued FROM subscriptions`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=subscriptions.list_all: %w", err)
	}
	defer rows.Close()

	var out []domain.Subscription
	for rows.Next() {
		var s domain.Subscription
		if err := rows.Scan(&s.CommunityName, &s.IsSubscribed, &s.ScanIntervalSeconds, &s.LastScannedAt, &s.IsCurrentlyQueued); err != nil {
			return nil, fmt.Errorf("op=subscriptions.list_all_scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=subscriptions.list_all_rows: %w", err)
	}
	return out, nil
}

// MarkQueued sets is_currently_queued=true for a community.
func (r *SubscriptionRepo) MarkQueued(ctx domain.Context, communityName string) error {
	tracer := otel.Tracer("repo.subscriptions")
	ctx, span := tracer.Start(ctx, "subscriptions.MarkQueued")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "subscriptions"),
	)

	q := `UPDATE subscriptions SET is_currently_queued = TRUE WHERE community_name = $1`
	if _, err := r.db.Execute(ctx, q, communityName); err != nil {
		return fmt.Errorf("op=subscriptions.mark_queued: %w", err)
	}
	return nil
}

// ClearQueuedAndScanned clears is_currently_queued and sets last_scanned_at.
func (r *SubscriptionRepo) ClearQueuedAndScanned(ctx domain.Context, communityName string, scannedAt time.Time) error {
	tracer := otel.Tracer("repo.subscriptions")
	ctx, span := tracer.Start(ctx, "subscriptions.ClearQueuedAndScanned")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "subscriptions"),
	)

	q := `UPDATE subscriptions SET is_currently_queued = FALSE, last_scanned_at = $2 WHERE community_name = $1`
	if _, err := r.db.Execute(ctx, q, communityName, scannedAt.UTC()); err != nil {
		return fmt.Errorf("op=subscriptions.clear_queued_and_scanned: %w", err)
	}
	return nil
}

// Seed inserts each subscription, ignoring rows whose community_name
// already exists. Used only by the dev/test seed loader (spec.md §9:
// runtime tunables never come from this path, only initial subscription
// rows do).
func (r *SubscriptionRepo) Seed(ctx domain.Context, subs []domain.Subscription) error {
	tracer := otel.Tracer("repo.subscriptions")
	ctx, span := tracer.Start(ctx, "subscriptions.Seed")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "subscriptions"),
	)

	q := `
		INSERT INTO subscriptions (community_name, is_subscribed, scan_interval_seconds, is_currently_queued)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (community_name) DO NOTHING`
	for _, s := range subs {
		if _, err := r.db.Execute(ctx, q, s.CommunityName, s.IsSubscribed, s.ScanIntervalSeconds, s.IsCurrentlyQueued); err != nil {
			return fmt.Errorf("op=subscriptions.seed: %w", err)
		}
	}
	return nil
}

// ClearQueuedAndScannedTx is ClearQueuedAndScanned run inside an existing
// transaction, so the community scanner can clear the subscription's queued
// state in the same commit as the CommunityRescan/InitialPost/PostRescan
// inserts it produced (spec.md §4.3).
func (r *SubscriptionRepo) ClearQueuedAndScannedTx(ctx domain.Context, tx Tx, communityName string, scannedAt time.Time) error {
	q := `UPDATE subscriptions SET is_currently_queued = FALSE, last_scanned_at = $2 WHERE community_name = $1`
	if _, err := tx.Exec(ctx, q, communityName, scannedAt.UTC()); err != nil {
		return fmt.Errorf("op=subscriptions.clear_queued_and_scanned_tx: %w: %v", domain.ErrDBOperational, err)
	}
	return nil
}

// ClearForManualRescan clears is_currently_queued and nulls last_scanned_at,
// making the community immediately eligible for a rescan (admin surface only).
func (r *SubscriptionRepo) ClearForManualRescan(ctx domain.Context, communityName string) error {
	tracer := otel.Tracer("repo.subscriptions")
	ctx, span := tracer.Start(ctx, "subscriptions.ClearForManualRescan")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "subscriptions"),
	)

	q := `UPDATE subscriptions SET is_currently_queued = FALSE, last_scanned_at = NULL WHERE community_name = $1`
	tag, err := r.db.Execute(ctx, q, communityName)
	if err != nil {
		return fmt.Errorf("op=subscriptions.clear_for_manual_rescan: %w", err)
	}
	if tag == 0 {
		return fmt.Errorf("op=subscriptions.clear_for_manual_rescan: %w: community %q", domain.ErrDBOperational, communityName)
	}
	return nil
}
