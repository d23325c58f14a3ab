package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisb0/talos/internal/adapter/repo/postgres"
)

func TestRescanRepoInsertReturnsScannedID(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*int64)) = 42
		return nil
	}}}
	repo := postgres.NewRescanRepo(postgres.NewContextDB(pool))

	id, err := repo.Insert(context.Background(), "golang", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestRescanRepoInsertWrapsScanError(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewRescanRepo(postgres.NewContextDB(pool))

	_, err := repo.Insert(context.Background(), "golang", time.Now())
	assert.Error(t, err)
}

func TestRescanRepoLastSeenPostIDsWrapsQueryError(t *testing.T) {
	pool := &poolStub{queryErr: errors.New("connection reset")}
	repo := postgres.NewRescanRepo(postgres.NewContextDB(pool))

	_, err := repo.LastSeenPostIDs(context.Background(), "golang")
	assert.Error(t, err)
}
