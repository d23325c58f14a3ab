package communityscanner

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

type stubRescanRepo struct {
	lastSeen      map[string]struct{}
	insertedNames []string
}

func (s *stubRescanRepo) LastSeenPostIDs(ctx domain.Context, communityName string) (map[string]struct{}, error) {
	return s.lastSeen, nil
}

func (s *stubRescanRepo) InsertTx(ctx domain.Context, tx postgres.Tx, communityName string, ranAt time.Time) (int64, error) {
	s.insertedNames = append(s.insertedNames, communityName)
	return 1, nil
}

type stubPostRepoService struct {
	initialPosts []domain.InitialPost
	postRescans  []domain.PostRescan
}

func (s *stubPostRepoService) InsertInitialPostTx(ctx domain.Context, tx postgres.Tx, p domain.InitialPost) error {
	s.initialPosts = append(s.initialPosts, p)
	return nil
}

func (s *stubPostRepoService) InsertPostRescanTx(ctx domain.Context, tx postgres.Tx, pr domain.PostRescan) (int64, error) {
	s.postRescans = append(s.postRescans, pr)
	return int64(len(s.postRescans)), nil
}

func (s *stubPostRepoService) WithTx(ctx domain.Context, fn func(ctx domain.Context, tx postgres.Tx) error) error {
	return fn(ctx, postgres.Tx{})
}

type stubSubscriptionRepo struct {
	cleared bool
}

func (s *stubSubscriptionRepo) ClearQueuedAndScannedTx(ctx domain.Context, tx postgres.Tx, communityName string, scannedAt time.Time) error {
	s.cleared = true
	return nil
}

func TestHandleMessageFreshCommunityInsertsAllUnseenPosts(t *testing.T) {
	sender := &stubPostSender{pages: []listingResponse{pageOf("p1", "p2")}}
	rescans := &stubRescanRepo{lastSeen: map[string]struct{}{}}
	posts := &stubPostRepoService{}
	subs := &stubSubscriptionRepo{}

	svc := &Service{
		Rescans:  rescans,
		Posts:    posts,
		Subs:     subs,
		HTTP:     sender,
		BaseURL:  "https://example.com",
		PageSize: 2,
	}

	body, err := json.Marshal(domain.CommunityRescanMessage{Community: "golang"})
	require.NoError(t, err)

	err = svc.HandleMessage(context.Background(), body)
	require.NoError(t, err)

	assert.Len(t, posts.initialPosts, 2)
	assert.Len(t, posts.postRescans, 2)
	assert.Equal(t, []string{"golang"}, rescans.insertedNames)
	assert.True(t, subs.cleared)
}

func TestHandleMessageNoUnseenPostsStillClearsQueuedState(t *testing.T) {
	sender := &stubPostSender{pages: []listingResponse{pageOf("p1")}}
	rescans := &stubRescanRepo{lastSeen: map[string]struct{}{"p1": {}}}
	posts := &stubPostRepoService{}
	subs := &stubSubscriptionRepo{}

	svc := &Service{
		Rescans:  rescans,
		Posts:    posts,
		Subs:     subs,
		HTTP:     sender,
		BaseURL:  "https://example.com",
		PageSize: 1,
	}

	body, err := json.Marshal(domain.CommunityRescanMessage{Community: "golang"})
	require.NoError(t, err)

	err = svc.HandleMessage(context.Background(), body)
	require.NoError(t, err)

	assert.Empty(t, posts.initialPosts)
	assert.True(t, subs.cleared)
}

func TestHandleMessageRejectsMalformedBody(t *testing.T) {
	svc := &Service{}
	err := svc.HandleMessage(context.Background(), []byte("not json"))
	assert.Error(t, err)
}
