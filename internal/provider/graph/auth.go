package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// tokenExpiryBuffer is subtracted from the reported lifetime so a token is
// never used right before it expires.
const tokenExpiryBuffer = 5 * time.Minute

const graphScope = "https://graph.microsoft.com/.default"

// tokenCache holds one client-credentials access token and refreshes it on
// demand. Safe for concurrent use by several dispatcher workers.
type tokenCache struct {
	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time

	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

func newTokenCache(tokenURL, clientID, clientSecret string, httpClient *http.Client) *tokenCache {
	return &tokenCache{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
	}
}

// Token returns the cached token or fetches a new one once it has expired.
func (tc *tokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.accessToken != "" && time.Now().Before(tc.expiresAt) {
		return tc.accessToken, nil
	}
	return tc.refresh(ctx)
}

// ForceRefresh drops the cached token and fetches a new one, used after the
// API rejected the current token with 401.
func (tc *tokenCache) ForceRefresh(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.accessToken = ""
	tc.expiresAt = time.Time{}
	return tc.refresh(ctx)
}

// refresh must be called with tc.mu held.
func (tc *tokenCache) refresh(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {tc.clientID},
		"client_secret": {tc.clientSecret},
		"scope":         {graphScope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("parsing token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}

	tc.accessToken = tr.AccessToken
	tc.expiresAt = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenExpiryBuffer)
	return tc.accessToken, nil
}
