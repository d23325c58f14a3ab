package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisb0/talos/internal/adapter/repo/postgres"
	"github.com/louisb0/talos/internal/domain"
)

func TestSubscriptionRepoMarkQueuedWrapsExecError(t *testing.T) {
	pool := &poolStub{execErr: errors.New("connection reset")}
	repo := postgres.NewSubscriptionRepo(postgres.NewContextDB(pool))

	err := repo.MarkQueued(context.Background(), "golang")
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestSubscriptionRepoMarkQueuedSucceeds(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewSubscriptionRepo(postgres.NewContextDB(pool))

	err := repo.MarkQueued(context.Background(), "golang")
	assert.NoError(t, err)
}

func TestSubscriptionRepoClearForManualRescanFailsWhenNoRowAffected(t *testing.T) {
	pool := &poolStub{execTag: pgconn.NewCommandTag("UPDATE 0")}
	repo := postgres.NewSubscriptionRepo(postgres.NewContextDB(pool))

	err := repo.ClearForManualRescan(context.Background(), "unknown-community")
	assert.Error(t, err)
}

func TestSubscriptionRepoClearForManualRescanSucceedsWhenRowAffected(t *testing.T) {
	pool := &poolStub{execTag: pgconn.NewCommandTag("UPDATE 1")}
	repo := postgres.NewSubscriptionRepo(postgres.NewContextDB(pool))

	err := repo.ClearForManualRescan(context.Background(), "golang")
	assert.NoError(t, err)
}

func TestSubscriptionRepoSeedInsertsEachSubscription(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewSubscriptionRepo(postgres.NewContextDB(pool))

	err := repo.Seed(context.Background(), []domain.Subscription{
		{CommunityName: "golang", IsSubscribed: true, ScanIntervalSeconds: 3600},
		{CommunityName: "rust", IsSubscribed: true, ScanIntervalSeconds: 7200},
	})
	assert.NoError(t, err)
}
