package postrescanner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/louisb0/talos/internal/adapter/repo/postgres"
	"github.com/louisb0/talos/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	resp commentsResponse
}

func (s *stubSender) SendQueued(ctx domain.Context, req domain.APIRequest, out any) error {
	target, ok := out.(*commentsResponse)
	if !ok {
		return nil
	}
	*target = s.resp
	return nil
}

type stubPublisher struct {
	published []struct {
		queue string
		body  []byte
	}
}

func (s *stubPublisher) Publish(ctx domain.Context, queueName string, body []byte) error {
	s.published = append(s.published, struct {
		queue string
		body  []byte
	}{queueName, body})
	return nil
}

type stubPostRepo struct {
	updated      []domain.UpdatedPost
	startedIDs   []int64
	withTxCalled int
}

func (s *stubPostRepo) InsertUpdatedPostTx(ctx domain.Context, tx postgres.Tx, u domain.UpdatedPost) error {
	s.updated = append(s.updated, u)
	return nil
}

func (s *stubPostRepo) MarkStartedTx(ctx domain.Context, tx postgres.Tx, id int64, now time.Time) error {
	s.startedIDs = append(s.startedIDs, id)
	return nil
}

func (s *stubPostRepo) WithTx(ctx domain.Context, fn func(ctx domain.Context, tx postgres.Tx) error) error {
	s.withTxCalled++
	return fn(ctx, postgres.Tx{})
}

type stubCommentRepo struct {
	inserted []domain.ScrapedComment
}

func (s *stubCommentRepo) InsertCommentsTx(ctx domain.Context, tx postgres.Tx, comments []domain.ScrapedComment) error {
	s.inserted = append(s.inserted, comments...)
	return nil
}

func TestHandleMessageBaseTypeInsertsPostAndComments(t *testing.T) {
	resp := commentsResponse{
		Posts: map[string]json.RawMessage{
			"post1": json.RawMessage(`{"title":"hi"}`),
		},
		Comments: map[string]json.RawMessage{
			"c1": rawNode(t, "c1", "c2"),
			"c2": rawNode(t, "c2", ""),
		},
	}
	sender := &stubSender{resp: resp}
	publisher := &stubPublisher{}
	posts := &stubPostRepo{}
	comments := &stubCommentRepo{}

	svc := &Service{
		Posts:     posts,
		Comments:  comments,
		Queue:     publisher,
		HTTP:      sender,
		BaseURL:   "https://example.com",
		PostQueue: "post.rescan",
		PostSleep: 0,
	}

	msg := domain.PostRescanMessage{
		PostID:        "post1",
		PostRescansID: 42,
		Type:          domain.PostRescanBase,
	}
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	err = svc.HandleMessage(context.Background(), body)
	require.NoError(t, err)

	require.Len(t, posts.updated, 1)
	assert.Equal(t, int64(42), posts.updated[0].PostScanID)
	require.Len(t, posts.startedIDs, 1)
	assert.Equal(t, int64(42), posts.startedIDs[0])
	assert.Len(t, comments.inserted, 2)
}

func TestHandleMessageContinueTypeStripsFirstRawComment(t *testing.T) {
	resp := commentsResponse{
		Comments: map[string]json.RawMessage{
			"x": rawNode(t, "x", "y"),
			"y": rawNode(t, "y", "z"),
			"z": rawNode(t, "z", ""),
		},
	}
	sender := &stubSender{resp: resp}
	publisher := &stubPublisher{}
	posts := &stubPostRepo{}
	comments := &stubCommentRepo{}

	svc := &Service{
		Posts:     posts,
		Comments:  comments,
		Queue:     publisher,
		HTTP:      sender,
		BaseURL:   "https://example.com",
		PostQueue: "post.rescan",
		PostSleep: 0,
	}

	msg := domain.PostRescanMessage{
		PostID:        "post1",
		PostRescansID: 7,
		Type:          domain.PostRescanContinue,
	}
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	err = svc.HandleMessage(context.Background(), body)
	require.NoError(t, err)

	assert.Empty(t, posts.updated)
	assert.Len(t, comments.inserted, 2)
	var ids []string
	for _, c := range comments.inserted {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{"y", "z"}, ids)
}

func TestHandleMessagePublishesFollowUpsForMoreAndContinue(t *testing.T) {
	resp := commentsResponse{
		MoreComments: map[string]json.RawMessage{
			"m1": rawNode(t, "m1", "t1"),
		},
		ContinueThreads: map[string]json.RawMessage{
			"t1": rawNode(t, "t1", ""),
		},
	}
	sender := &stubSender{resp: resp}
	publisher := &stubPublisher{}
	posts := &stubPostRepo{}
	comments := &stubCommentRepo{}

	svc := &Service{
		Posts:     posts,
		Comments:  comments,
		Queue:     publisher,
		HTTP:      sender,
		BaseURL:   "https://example.com",
		PostQueue: "post.rescan",
		PostSleep: 0,
	}

	msg := domain.PostRescanMessage{
		PostID:        "post1",
		PostRescansID: 7,
		Type:          domain.PostRescanMore,
	}
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	err = svc.HandleMessage(context.Background(), body)
	require.NoError(t, err)

	require.Len(t, publisher.published, 2)
	assert.Equal(t, "post.rescan", publisher.published[0].queue)

	var follow domain.PostRescanMessage
	require.NoError(t, json.Unmarshal(publisher.published[0].body, &follow))
	assert.Equal(t, domain.PostRescanMore, follow.Type)
	assert.Contains(t, follow.APIRequest.URL, "/morecomments/m1")

	var cont domain.PostRescanMessage
	require.NoError(t, json.Unmarshal(publisher.published[1].body, &cont))
	assert.Equal(t, domain.PostRescanContinue, cont.Type)
	assert.Contains(t, cont.APIRequest.URL, "/postcomments/post1/t1")
}

func TestHandleMessageRejectsMalformedBody(t *testing.T) {
	svc := &Service{}
	err := svc.HandleMessage(context.Background(), []byte("not json"))
	assert.Error(t, err)
}
