package communityscanner

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisb0/talos/internal/adapter/httpclient"
	"github.com/louisb0/talos/internal/domain"
	"github.com/louisb0/talos/internal/platform/retry"
)

// HTTPSender is the subset of httpclient.Client the collector depends on.
type HTTPSender interface {
	Send(ctx context.Context, url string, verb httpclient.Verb, body []byte, parseJSON bool, withAuth bool, out any) error
}

// rawPost is one edge node from the upstream listing response, kept
// opaque apart from the handful of control fields the collector needs.
type rawPost struct {
	Typename  string          `json:"__typename"`
	ID        string          `json:"id"`
	CreatedAt string          `json:"createdAt"`
	Raw       json.RawMessage `json:"-"`
}

type listingResponse struct {
	Data struct {
		SubredditInfoByName struct {
			Elements struct {
				Edges []struct {
					Node json.RawMessage `json:"node"`
				} `json:"edges"`
			} `json:"elements"`
		} `json:"subredditInfoByName"`
	} `json:"data"`
}

// PostCollector paginates a community's newest-post listing, stopping at
// the first post id already present in the stopping set (spec.md §4.3.1).
type PostCollector struct {
	http        HTTPSender
	baseURL     string
	community   string
	pageSize    int
	stopping    map[string]struct{}
	cursor      string
	unprocessed []rawPost
}

// NewPostCollector constructs a collector for one community scan.
func NewPostCollector(http HTTPSender, baseURL, community string, pageSize int, stopping map[string]struct{}) *PostCollector {
	return &PostCollector{http: http, baseURL: baseURL, community: community, pageSize: pageSize, stopping: stopping}
}

type listingRequestVariables struct {
	Name     string `json:"name"`
	Sort     string `json:"sort"`
	PageSize int    `json:"pageSize"`
	After    string `json:"after,omitempty"`
}

type listingRequest struct {
	ID        string                  `json:"id"`
	Variables listingRequestVariables `json:"variables"`
}

// fetchPage issues one listing request and appends its SubredditPost nodes
// to the unprocessed FIFO, advancing the cursor to the last id seen.
func (c *PostCollector) fetchPage(ctx context.Context) error {
	vars := listingRequestVariables{Name: c.community, Sort: "NEW", PageSize: c.pageSize}
	if c.cursor != "" {
		vars.After = base64.StdEncoding.EncodeToString([]byte(c.cursor))
	}
	reqBody, err := json.Marshal(listingRequest{ID: "e111e3a11997", Variables: vars})
	if err != nil {
		return fmt.Errorf("op=postcollector.fetch_page.marshal: %w", err)
	}

	var resp listingResponse
	op := func(ctx context.Context) error {
		return c.http.Send(ctx, c.baseURL, httpclient.VerbPOST, reqBody, true, true, &resp)
	}
	if err := retry.Exponential(ctx, "communityscanner.fetch_page", time.Second, 30*time.Second, 3*time.Minute, domain.IsRetryable, op); err != nil {
		return fmt.Errorf("op=postcollector.fetch_page: %w", err)
	}

	var newPosts []rawPost
	for _, edge := range resp.Data.SubredditInfoByName.Elements.Edges {
		var p rawPost
		if err := json.Unmarshal(edge.Node, &p); err != nil {
			continue
		}
		if p.Typename != "SubredditPost" {
			continue
		}
		p.Raw = edge.Node
		newPosts = append(newPosts, p)
	}
	if len(newPosts) > 0 {
		c.cursor = newPosts[len(newPosts)-1].ID
	}
	c.unprocessed = append(c.unprocessed, newPosts...)
	return nil
}

// GetUnseenPosts pages through the listing until it hits a previously-seen
// post id (the stopping set) or the upstream listing is exhausted,
// returning every post observed before the boundary (spec.md §4.3.1).
func (c *PostCollector) GetUnseenPosts(ctx context.Context) ([]rawPost, error) {
	var accumulated []rawPost
	for {
		if len(c.unprocessed) == 0 {
			before := len(c.unprocessed)
			if err := c.fetchPage(ctx); err != nil {
				return nil, err
			}
			if len(c.unprocessed) == before {
				return accumulated, nil
			}
		}

		head := c.unprocessed[0]
		c.unprocessed = c.unprocessed[1:]
		if _, stop := c.stopping[head.ID]; stop {
			return accumulated, nil
		}
		accumulated = append(accumulated, head)
	}
}
