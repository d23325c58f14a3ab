// Package postrescanner implements the consumer role for the post.rescan
// queue: fetch a post's comment tree, classify it with a CommentCollector,
// persist new comments, and fan out follow-up requests for anything left
// unexpanded (spec.md §4.4).
package postrescanner

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisb0/talos/internal/adapter/repo/postgres"
	"github.com/louisb0/talos/internal/domain"
	"github.com/louisb0/talos/internal/platform/metrics"
	"github.com/louisb0/talos/internal/platform/retry"
)

// HTTPSender is the subset of httpclient.Client the rescanner depends on.
type HTTPSender interface {
	SendQueued(ctx domain.Context, req domain.APIRequest, out any) error
}

// Publisher is the subset of the queue wrapper the rescanner depends on.
type Publisher interface {
	Publish(ctx domain.Context, queueName string, body []byte) error
}

// PostRepo is the subset of post operations the rescanner needs.
type PostRepo interface {
	InsertUpdatedPostTx(ctx domain.Context, tx postgres.Tx, u domain.UpdatedPost) error
	MarkStartedTx(ctx domain.Context, tx postgres.Tx, id int64, now time.Time) error
	WithTx(ctx domain.Context, fn func(ctx domain.Context, tx postgres.Tx) error) error
}

// CommentRepo is the subset of comment operations the rescanner needs.
type CommentRepo interface {
	InsertCommentsTx(ctx domain.Context, tx postgres.Tx, comments []domain.ScrapedComment) error
}

// Service handles one post.rescan message end to end.
type Service struct {
	Posts     PostRepo
	Comments  CommentRepo
	Queue     Publisher
	HTTP      HTTPSender
	BaseURL   string
	PostQueue string
	PostSleep time.Duration
}

// HandleMessage processes one post.rescan message (spec.md §4.4).
func (s *Service) HandleMessage(ctx domain.Context, body []byte) error {
	var msg domain.PostRescanMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("op=postrescanner.handle_message.unmarshal: %w: %v", domain.ErrQueueMalformed, err)
	}

	var resp commentsResponse
	fetch := func(ctx domain.Context) error {
		resp = commentsResponse{}
		return s.HTTP.SendQueued(ctx, msg.APIRequest, &resp)
	}
	if err := retry.Exponential(ctx, "postrescanner.fetch", time.Second, 30*time.Second, 3*time.Minute, domain.IsRetryable, fetch); err != nil {
		return fmt.Errorf("op=postrescanner.handle_message.fetch: %w", err)
	}

	raw, more, cont := CollectComments(resp)

	if msg.Type == domain.PostRescanContinue && len(raw) > 0 {
		raw = raw[1:]
	}

	if msg.Type == domain.PostRescanBase {
		postBody, ok := resp.Posts[msg.PostID]
		if !ok {
			return fmt.Errorf("op=postrescanner.handle_message.base: %w: post %q missing from response", domain.ErrHTTPDecode, msg.PostID)
		}
		now := time.Now().UTC()
		err := s.Posts.WithTx(ctx, func(ctx domain.Context, tx postgres.Tx) error {
			if err := s.Posts.InsertUpdatedPostTx(ctx, tx, domain.UpdatedPost{
				UpdatedMetadata: []byte(postBody),
				PostScanID:      msg.PostRescansID,
			}); err != nil {
				return err
			}
			return s.Posts.MarkStartedTx(ctx, tx, msg.PostRescansID, now)
		})
		if err != nil {
			return fmt.Errorf("op=postrescanner.handle_message.base_tx: %w", err)
		}
	}

	if len(raw) > 0 {
		comments := make([]domain.ScrapedComment, 0, len(raw))
		for _, n := range raw {
			comments = append(comments, domain.ScrapedComment{
				ID:          n.ID,
				ParentID:    n.ParentID,
				CommentData: []byte(n.Raw),
				PostScanID:  msg.PostRescansID,
			})
		}
		err := s.Posts.WithTx(ctx, func(ctx domain.Context, tx postgres.Tx) error {
			return s.Comments.InsertCommentsTx(ctx, tx, comments)
		})
		if err != nil {
			return fmt.Errorf("op=postrescanner.handle_message.comments_tx: %w", err)
		}
	}

	if err := s.publishFollowUps(ctx, msg, more, cont); err != nil {
		return fmt.Errorf("op=postrescanner.handle_message.publish: %w", err)
	}

	metrics.MessagesConsumed.WithLabelValues("post.rescan", "ok").Inc()

	select {
	case <-time.After(s.PostSleep):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

type moreCommentBody struct {
	Token string `json:"token"`
}

// publishFollowUps emits one post.rescan message per unexpanded more/continue
// node surfaced by the comment collector (spec.md §4.4 step 5).
func (s *Service) publishFollowUps(ctx domain.Context, msg domain.PostRescanMessage, more, cont []commentNode) error {
	for _, m := range more {
		body, err := json.Marshal(moreCommentBody{Token: m.Token})
		if err != nil {
			return fmt.Errorf("op=postrescanner.publish_follow_ups.more_marshal: %w", err)
		}
		follow := domain.PostRescanMessage{
			PostID:        msg.PostID,
			PostRescansID: msg.PostRescansID,
			Type:          domain.PostRescanMore,
			APIRequest: domain.APIRequest{
				URL:    fmt.Sprintf("%s/morecomments/%s", s.BaseURL, m.ID),
				Method: domain.MethodPOST,
				Body:   body,
			},
			TraceID: msg.TraceID,
		}
		if err := s.publishOne(ctx, follow); err != nil {
			return err
		}
	}

	for _, c := range cont {
		follow := domain.PostRescanMessage{
			PostID:        msg.PostID,
			PostRescansID: msg.PostRescansID,
			Type:          domain.PostRescanContinue,
			APIRequest: domain.APIRequest{
				URL:    fmt.Sprintf("%s/postcomments/%s/%s", s.BaseURL, msg.PostID, c.ID),
				Method: domain.MethodGET,
			},
			TraceID: msg.TraceID,
		}
		if err := s.publishOne(ctx, follow); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) publishOne(ctx domain.Context, msg domain.PostRescanMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("op=postrescanner.publish_one.marshal: %w", err)
	}
	if err := s.Queue.Publish(ctx, s.PostQueue, payload); err != nil {
		return fmt.Errorf("op=postrescanner.publish_one: %w", err)
	}
	metrics.MessagesPublished.WithLabelValues(s.PostQueue, "ok").Inc()
	return nil
}
