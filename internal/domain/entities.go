// Package domain defines the core entities, repository ports, and
// domain-specific errors shared by every talos worker role.
package domain

import (
	"context"
	"time"
)

// Context is an alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// Subscription is one row per subscribed community.
type Subscription struct {
	CommunityName       string
	IsSubscribed        bool
	ScanIntervalSeconds  int
	LastScannedAt        *time.Time
	IsCurrentlyQueued    bool
}

// RescanDue reports whether this subscription is eligible for a community
// rescan at the given instant, per spec.md §4.2 sub-pass A.
func (s Subscription) RescanDue(now time.Time) bool {
	if !s.IsSubscribed || s.IsCurrentlyQueued {
		return false
	}
	if s.LastScannedAt == nil {
		return true
	}
	due := s.LastScannedAt.Add(time.Duration(s.ScanIntervalSeconds) * time.Second)
	return !now.Before(due)
}

// CommunityRescan is one record per executed community scan.
type CommunityRescan struct {
	ID            int64
	CommunityName string
	RanAt         time.Time
}

// InitialPost is a snapshot of a post as first observed during a community scan.
type InitialPost struct {
	ID         string // platform post id
	Metadata   []byte // opaque JSON blob
	RescanID   int64
}

// PostRescan is a scheduled second look at a post once it matures.
type PostRescan struct {
	ID                int64
	PostID            string
	ScheduledStartAt  time.Time
	BeganProcessing   bool
	StartedAt         *time.Time
	LastSeen          *time.Time
}

// UpdatedPost is the later snapshot of post metadata captured by the base
// layer of a post rescan.
type UpdatedPost struct {
	ID              int64
	UpdatedMetadata []byte
	PostScanID      int64
}

// ScrapedComment is a single comment observed during a post rescan.
type ScrapedComment struct {
	ID          string
	ParentID    string
	CommentData []byte
	PostScanID  int64
}

// Repositories (ports)

// SubscriptionRepository manages Subscription rows.
type SubscriptionRepository interface {
	// ListAll returns every subscription row.
	ListAll(ctx Context) ([]Subscription, error)
	// MarkQueued sets is_currently_queued=true for a community.
	MarkQueued(ctx Context, communityName string) error
	// ClearQueuedAndScanned clears is_currently_queued and sets last_scanned_at=scannedAt.
	ClearQueuedAndScanned(ctx Context, communityName string, scannedAt time.Time) error
	// ClearForManualRescan clears is_currently_queued and nulls last_scanned_at,
	// making the community immediately eligible again (admin surface only).
	ClearForManualRescan(ctx Context, communityName string) error
}

// RescanRepository manages CommunityRescan rows and the stopping-id set query.
type RescanRepository interface {
	// Insert creates a new CommunityRescan row and returns its id.
	Insert(ctx Context, communityName string, ranAt time.Time) (int64, error)
	// LastSeenPostIDs returns the set of post ids belonging to the most
	// recent CommunityRescan of this community that produced any posts.
	LastSeenPostIDs(ctx Context, communityName string) (map[string]struct{}, error)
}

// PostRepository manages InitialPost, PostRescan and UpdatedPost rows.
type PostRepository interface {
	// InsertInitialPost inserts a freshly observed post snapshot.
	InsertInitialPost(ctx Context, p InitialPost) error
	// InsertPostRescan schedules a maturity rescan for a post.
	InsertPostRescan(ctx Context, pr PostRescan) (int64, error)
	// DuePostRescans returns PostRescan rows not yet begun whose
	// scheduled_start_at has passed.
	DuePostRescans(ctx Context, now time.Time) ([]PostRescan, error)
	// MarkBegan sets began_processing=true, last_seen=now() for a PostRescan.
	MarkBegan(ctx Context, id int64, now time.Time) error
	// MarkStarted sets started_at=now() for a PostRescan.
	MarkStarted(ctx Context, id int64, now time.Time) error
	// InsertUpdatedPost inserts the updated post body for a base-layer rescan.
	InsertUpdatedPost(ctx Context, u UpdatedPost) error
}

// CommentRepository manages ScrapedComment rows.
type CommentRepository interface {
	// InsertComments idempotently inserts scraped comments for a post rescan.
	InsertComments(ctx Context, comments []ScrapedComment) error
}
