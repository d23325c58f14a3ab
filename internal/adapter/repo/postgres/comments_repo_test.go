package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisb0/talos/internal/adapter/repo/postgres"
	"github.com/louisb0/talos/internal/domain"
)

func TestCommentRepoInsertCommentsIsNoopOnEmptySlice(t *testing.T) {
	repo := postgres.NewCommentRepo(postgres.NewContextDB(&poolStub{}), nil)

	err := repo.InsertComments(context.Background(), nil)
	assert.NoError(t, err)
}

func TestCommentRepoInsertCommentsSucceeds(t *testing.T) {
	pool := &poolStub{}
	repo := postgres.NewCommentRepo(postgres.NewContextDB(pool), nil)

	err := repo.InsertComments(context.Background(), []domain.ScrapedComment{
		{ID: "c1", ParentID: "", CommentData: []byte(`{}`), PostScanID: 1},
		{ID: "c2", ParentID: "c1", CommentData: []byte(`{}`), PostScanID: 1},
	})
	assert.NoError(t, err)
}

func TestCommentRepoInsertCommentsWrapsExecError(t *testing.T) {
	pool := &poolStub{execErr: errors.New("connection reset")}
	repo := postgres.NewCommentRepo(postgres.NewContextDB(pool), nil)

	err := repo.InsertComments(context.Background(), []domain.ScrapedComment{
		{ID: "c1", CommentData: []byte(`{}`), PostScanID: 1},
	})
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}
