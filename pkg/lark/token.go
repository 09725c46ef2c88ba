package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const tenantTokenPath = "/open-apis/auth/v3/tenant_access_token/internal/"

// refreshBefore is how long before expiry a tenant token is considered stale.
const refreshBefore = 5 * time.Minute

// Credentials identify the Lark app. TenantToken, when set, is used as-is and never refreshed.
type Credentials struct {
	AppID       string
	AppSecret   string
	TenantToken string
}

// NewTokenSource returns a token provider for creds. Exchanged tokens are cached until
// shortly before they expire, then fetched again.
func NewTokenSource(ctx context.Context, baseURL string, creds Credentials, hc *http.Client) (oauth2.TokenSource, error) {
	if creds.TenantToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.TenantToken, TokenType: "Bearer"}), nil
	}
	if creds.AppID == "" || creds.AppSecret == "" {
		return nil, ErrNoCredentials
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	src := &tenantTokenSource{
		ctx:       ctx,
		hc:        hc,
		url:       baseURL + tenantTokenPath,
		appID:     creds.AppID,
		appSecret: creds.AppSecret,
		now:       time.Now,
	}
	return oauth2.ReuseTokenSourceWithExpiry(nil, src, refreshBefore), nil
}

// tenantTokenSource exchanges app credentials for a tenant access token on every call.
type tenantTokenSource struct {
	ctx       context.Context
	hc        *http.Client
	url       string
	appID     string
	appSecret string
	now       func() time.Time
}

type tenantTokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int64  `json:"expire"`
}

func (s *tenantTokenSource) Token() (*oauth2.Token, error) {
	body, err := json.Marshal(map[string]string{
		"app_id":     s.appID,
		"app_secret": s.appSecret,
	})
	if err != nil {
		return nil, &TransportError{Op: "auth", Err: err}
	}

	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "auth", Err: err}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "auth", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Op: "auth", StatusCode: resp.StatusCode}
	}

	var out tenantTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransportError{Op: "auth", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Code != 0 {
		return nil, &TransportError{Op: "auth", StatusCode: resp.StatusCode, Code: out.Code, Msg: out.Msg}
	}
	if out.TenantAccessToken == "" {
		return nil, &TransportError{Op: "auth", StatusCode: resp.StatusCode, Err: fmt.Errorf("empty tenant_access_token")}
	}

	tok := &oauth2.Token{AccessToken: out.TenantAccessToken, TokenType: "Bearer"}
	if out.Expire > 0 {
		tok.Expiry = s.now().Add(time.Duration(out.Expire) * time.Second)
	}
	return tok, nil
}
