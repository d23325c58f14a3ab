// Package scheduler implements the producer role: it scans subscriptions
// for communities due a rescan and scans post rescans due processing,
// publishing work onto the two durable queues (spec.md §4.2).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/louisb0/talos/internal/domain"
	"github.com/louisb0/talos/internal/platform/metrics"
)

// Queue is the subset of the amqp adapter the scheduler needs.
type Queue interface {
	Publish(ctx context.Context, queueName string, body []byte) error
}

// PostRescanBatch is the transactional scope used to mark a batch of
// PostRescan rows began_processing=true after publishing their base-layer
// messages (spec.md §4.2 sub-pass B: "commit once per pass").
type PostRescanBatch interface {
	MarkManyBegan(ctx context.Context, ids []int64, now time.Time) error
}

// Service runs one scheduling pass.
type Service struct {
	Subs             domain.SubscriptionRepository
	Posts            domain.PostRepository
	Batch            PostRescanBatch
	Queue            Queue
	CommunityQueue   string
	PostQueue        string
}

// RunPass performs sub-pass A (community rescans) then sub-pass B (post
// rescans), per spec.md §4.2. Both sub-passes run even if one fails, so a
// problem in one does not starve the other of a chance to make progress.
func (s *Service) RunPass(ctx context.Context) error {
	errA := s.runCommunityRescans(ctx)
	if errA != nil {
		slog.Error("sub-pass A failed", slog.Any("error", errA))
	}
	errB := s.runPostRescans(ctx)
	if errB != nil {
		slog.Error("sub-pass B failed", slog.Any("error", errB))
	}
	if errA != nil {
		return errA
	}
	return errB
}

func (s *Service) runCommunityRescans(ctx context.Context) error {
	subs, err := s.Subs.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("op=scheduler.run_community_rescans.list: %w", err)
	}

	now := time.Now().UTC()
	for _, sub := range subs {
		if !sub.RescanDue(now) {
			continue
		}

		msg := domain.CommunityRescanMessage{Community: sub.CommunityName, TraceID: ulid.Make().String()}
		body, err := marshalJSON(msg)
		if err != nil {
			return fmt.Errorf("op=scheduler.run_community_rescans.marshal: %w", err)
		}
		if err := s.Queue.Publish(ctx, s.CommunityQueue, body); err != nil {
			return fmt.Errorf("op=scheduler.run_community_rescans.publish: %w", err)
		}
		metrics.MessagesPublished.WithLabelValues(s.CommunityQueue, "ok").Inc()

		// Publish-then-mark is deliberately non-atomic (spec.md §4.2): a crash
		// here yields a duplicate enqueue, which the consumer's idempotent
		// upserts absorb.
		if err := s.Subs.MarkQueued(ctx, sub.CommunityName); err != nil {
			return fmt.Errorf("op=scheduler.run_community_rescans.mark_queued: %w", err)
		}
	}
	return nil
}

func (s *Service) runPostRescans(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := s.Posts.DuePostRescans(ctx, now)
	if err != nil {
		return fmt.Errorf("op=scheduler.run_post_rescans.list: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	published := make([]int64, 0, len(due))
	for _, pr := range due {
		apiReq := domain.APIRequest{
			URL:    fmt.Sprintf("/postcomments/%s", pr.PostID),
			Method: domain.MethodGET,
		}
		msg := domain.PostRescanMessage{
			PostID:        pr.PostID,
			PostRescansID: pr.ID,
			Type:          domain.PostRescanBase,
			APIRequest:    apiReq,
			TraceID:       ulid.Make().String(),
		}
		body, err := marshalJSON(msg)
		if err != nil {
			return fmt.Errorf("op=scheduler.run_post_rescans.marshal: %w", err)
		}
		if err := s.Queue.Publish(ctx, s.PostQueue, body); err != nil {
			return fmt.Errorf("op=scheduler.run_post_rescans.publish: %w", err)
		}
		metrics.MessagesPublished.WithLabelValues(s.PostQueue, "ok").Inc()
		published = append(published, pr.ID)
	}

	if err := s.Batch.MarkManyBegan(ctx, published, now); err != nil {
		return fmt.Errorf("op=scheduler.run_post_rescans.mark_began: %w: %v", domain.ErrDBOperational, err)
	}
	return nil
}
