package lark

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const batchGetIDPath = "/open-apis/contact/v3/users/batch_get_id"

// MaxLookupEmails is the most emails one batch_get_id call accepts.
const MaxLookupEmails = 50

type batchGetIDResponse struct {
	UserList []struct {
		UserID string `json:"user_id"`
		Email  string `json:"email"`
	} `json:"user_list"`
}

// LookupUserIDs resolves emails to ids of the given kind (user_id or open_id).
// Emails without an account are absent from the result.
func (c *Client) LookupUserIDs(ctx context.Context, emails []string, kind DestinationKind) (map[string]string, error) {
	switch kind {
	case KindUserID, KindOpenID:
	default:
		return nil, fmt.Errorf("cannot look up ids of kind %q", kind)
	}

	out := make(map[string]string, len(emails))
	for start := 0; start < len(emails); start += MaxLookupEmails {
		end := min(start+MaxLookupEmails, len(emails))
		q := url.Values{"user_id_type": {string(kind)}}

		var resp batchGetIDResponse
		if err := c.do(ctx, "lookup", http.MethodPost, batchGetIDPath, q, map[string]any{"emails": emails[start:end]}, &resp); err != nil {
			return nil, err
		}
		for _, u := range resp.UserList {
			if u.UserID != "" {
				out[u.Email] = u.UserID
			}
		}
	}
	return out, nil
}
