// Package communityscanner implements the consumer role for the
// community.rescan queue: paginate a community's newest posts down to the
// last-seen boundary, snapshot them, and schedule their maturity rescans
// (spec.md §4.3).
package communityscanner

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisb0/talos/internal/adapter/repo/postgres"
	"github.com/louisb0/talos/internal/domain"
	"github.com/louisb0/talos/internal/platform/metrics"
)

// RescanRepo is the subset of rescan operations the scanner needs.
type RescanRepo interface {
	LastSeenPostIDs(ctx domain.Context, communityName string) (map[string]struct{}, error)
	InsertTx(ctx domain.Context, tx postgres.Tx, communityName string, ranAt time.Time) (int64, error)
}

// PostRepo is the subset of repository operations the scanner needs,
// scoped to the concrete postgres adapter so the service can share one
// transaction across rescan/post/post-rescan inserts.
type PostRepo interface {
	InsertInitialPostTx(ctx domain.Context, tx postgres.Tx, p domain.InitialPost) error
	InsertPostRescanTx(ctx domain.Context, tx postgres.Tx, pr domain.PostRescan) (int64, error)
	WithTx(ctx domain.Context, fn func(ctx domain.Context, tx postgres.Tx) error) error
}

// SubscriptionRepo is the subset of subscription operations the scanner
// needs, Tx-scoped so the queued-state clear commits with the rest of the
// scan's writes.
type SubscriptionRepo interface {
	ClearQueuedAndScannedTx(ctx domain.Context, tx postgres.Tx, communityName string, scannedAt time.Time) error
}

// Service handles one community.rescan message end to end.
type Service struct {
	Rescans  RescanRepo
	Posts    PostRepo
	Subs     SubscriptionRepo
	HTTP     HTTPSender
	BaseURL  string
	PageSize int
}

// HandleMessage processes one community.rescan message (spec.md §4.3).
func (s *Service) HandleMessage(ctx domain.Context, body []byte) error {
	var msg domain.CommunityRescanMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("op=communityscanner.handle_message.unmarshal: %w: %v", domain.ErrQueueMalformed, err)
	}

	stopping, err := s.Rescans.LastSeenPostIDs(ctx, msg.Community)
	if err != nil {
		return fmt.Errorf("op=communityscanner.handle_message.last_seen: %w", err)
	}

	collector := NewPostCollector(s.HTTP, s.BaseURL, msg.Community, s.PageSize, stopping)
	posts, err := collector.GetUnseenPosts(ctx)
	if err != nil {
		return fmt.Errorf("op=communityscanner.handle_message.collect: %w", err)
	}

	now := time.Now().UTC()
	err = s.Posts.WithTx(ctx, func(ctx domain.Context, tx postgres.Tx) error {
		rescanID, err := s.Rescans.InsertTx(ctx, tx, msg.Community, now)
		if err != nil {
			return err
		}
		for _, p := range posts {
			createdAt, err := time.Parse(time.RFC3339Nano, p.CreatedAt)
			if err != nil {
				createdAt = now
			}
			if err := s.Posts.InsertInitialPostTx(ctx, tx, domain.InitialPost{
				ID:       p.ID,
				Metadata: []byte(p.Raw),
				RescanID: rescanID,
			}); err != nil {
				return err
			}
			if _, err := s.Posts.InsertPostRescanTx(ctx, tx, domain.PostRescan{
				PostID:           p.ID,
				ScheduledStartAt: maturityTime(createdAt, now),
			}); err != nil {
				return err
			}
		}
		return s.Subs.ClearQueuedAndScannedTx(ctx, tx, msg.Community, now)
	})
	if err != nil {
		return fmt.Errorf("op=communityscanner.handle_message.tx: %w", err)
	}

	metrics.MessagesConsumed.WithLabelValues("community.rescan", "ok").Inc()
	return nil
}
