package domain

// CommunityRescanMessage is the payload published onto the community.rescan queue.
type CommunityRescanMessage struct {
	Community string `json:"community"`
	TraceID   string `json:"trace_id,omitempty"`
}

// HTTPMethod mirrors the wire encoding used in PostRescanMessage.APIRequest:
// 0=GET, 1=POST, matching spec.md §6.
type HTTPMethod int

const (
	// MethodGET is the wire value for an HTTP GET request.
	MethodGET HTTPMethod = 0
	// MethodPOST is the wire value for an HTTP POST request.
	MethodPOST HTTPMethod = 1
)

// APIRequest describes an upstream call to perform, embedded in a
// PostRescanMessage and dispatched by httpclient.Client.SendQueued.
type APIRequest struct {
	URL    string     `json:"url"`
	Method HTTPMethod `json:"method"`
	Body   []byte     `json:"body,omitempty"`
}

// PostRescanMessageType enumerates the three post.rescan message shapes.
type PostRescanMessageType string

const (
	// PostRescanBase is the initial request for a post's comments.
	PostRescanBase PostRescanMessageType = "base"
	// PostRescanMore is a follow-up for an unexpanded "more comments" stub.
	PostRescanMore PostRescanMessageType = "more"
	// PostRescanContinue is a follow-up for a "continue thread" stub.
	PostRescanContinue PostRescanMessageType = "continue"
)

// PostRescanMessage is the payload published onto the post.rescan queue.
type PostRescanMessage struct {
	PostID        string                `json:"post_id"`
	PostRescansID int64                 `json:"post_rescans_id"`
	Type          PostRescanMessageType `json:"type"`
	APIRequest    APIRequest            `json:"api_request"`
	TraceID       string                `json:"trace_id,omitempty"`
}
