package httpclient

import "github.com/louisb0/talos/internal/domain"

// SendQueued dispatches the APIRequest embedded in a post.rescan message,
// decoding the JSON response into out (spec.md §4.4 step 1: parse_json=true,
// with_auth=true) and mapping the wire HTTPMethod into the verb Send expects.
func (c *Client) SendQueued(ctx domain.Context, req domain.APIRequest, out any) error {
	verb := VerbGET
	if req.Method == domain.MethodPOST {
		verb = VerbPOST
	}
	return c.Send(ctx, req.URL, verb, req.Body, true, true, out)
}
