package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/louisb0/talos/internal/domain"
)

// CommentRepo persists ScrapedComment rows.
type CommentRepo struct {
	db   *ContextDB
	txdb *TxDB
}

// NewCommentRepo constructs a CommentRepo. txdb may be nil for callers that
// only ever insert outside of a shared transaction.
func NewCommentRepo(db *ContextDB, txdb *TxDB) *CommentRepo { return &CommentRepo{db: db, txdb: txdb} }

var _ domain.CommentRepository = (*CommentRepo)(nil)

const insertCommentSQL = `
	INSERT INTO scraped_comments (id, parent_id, comment_data, post_scan_id)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id, post_scan_id) DO NOTHING`

// InsertComments idempotently inserts scraped comments for a post rescan.
// Re-delivery of the same post.rescan message reinserts the same rows
// without error or duplication, per spec.md §9's resolution of the
// ScrapedComment uniqueness Open Question.
func (r *CommentRepo) InsertComments(ctx domain.Context, comments []domain.ScrapedComment) error {
	if len(comments) == 0 {
		return nil
	}

	tracer := otel.Tracer("repo.comments")
	ctx, span := tracer.Start(ctx, "comments.InsertComments")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "scraped_comments"),
		attribute.Int("comment.count", len(comments)),
	)

	for _, c := range comments {
		if _, err := r.db.Execute(ctx, insertCommentSQL, c.ID, nullableParentID(c.ParentID), c.CommentData, c.PostScanID); err != nil {
			return fmt.Errorf("op=comments.insert_comments: %w", err)
		}
	}
	return nil
}

// InsertCommentsTx is InsertComments run inside an existing transaction, so
// the post rescanner can commit all of a message's comments together
// (spec.md §4.4). The updated_posts row of a base message is committed in an
// earlier, separate transaction.
func (r *CommentRepo) InsertCommentsTx(ctx domain.Context, tx Tx, comments []domain.ScrapedComment) error {
	for _, c := range comments {
		if _, err := tx.Exec(ctx, insertCommentSQL, c.ID, nullableParentID(c.ParentID), c.CommentData, c.PostScanID); err != nil {
			return fmt.Errorf("op=comments.insert_comments_tx: %w: %v", domain.ErrDBOperational, err)
		}
	}
	return nil
}

func nullableParentID(id string) any {
	if id == "" {
		return nil
	}
	return id
}
