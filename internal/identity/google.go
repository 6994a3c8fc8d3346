package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	googleCacheTTL    = 2 * time.Minute
)

// GoogleVerifier accepts Google OAuth access tokens by resolving them against
// the userinfo endpoint. Results are cached briefly and concurrent lookups of
// the same token share one request.
type GoogleVerifier struct {
	UserInfoURL string
	HTTPClient  *http.Client
	Now         func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cachedClaims
}

type cachedClaims struct {
	claims  Claims
	expires time.Time
}

type googleUserInfo struct {
	Sub   string `json:"sub"`
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (g *GoogleVerifier) VerifyToken(ctx context.Context, bearer string) (Claims, error) {
	if bearer == "" {
		return Claims{}, ErrInvalidToken
	}
	if c, ok := g.cached(bearer); ok {
		return c, nil
	}
	v, err, _ := g.group.Do(bearer, func() (interface{}, error) {
		return g.fetch(ctx, bearer)
	})
	if err != nil {
		return Claims{}, err
	}
	claims := v.(Claims)
	g.store(bearer, claims)
	return claims, nil
}

func (g *GoogleVerifier) fetch(ctx context.Context, bearer string) (Claims, error) {
	if g.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.HTTPClient)
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearer, TokenType: "Bearer"}))
	endpoint := g.UserInfoURL
	if endpoint == "" {
		endpoint = googleUserInfoURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Claims{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Claims{}, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Claims{}, ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		return Claims{}, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Claims{}, fmt.Errorf("decode userinfo: %w", err)
	}
	// Some responses use "id" instead of "sub".
	if info.Sub == "" {
		info.Sub = info.ID
	}
	if info.Sub == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{Subject: "google:" + info.Sub, Email: info.Email, Name: info.Name}, nil
}

func (g *GoogleVerifier) cached(bearer string) (Claims, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.cache[bearer]
	if !ok {
		return Claims{}, false
	}
	if g.now().After(c.expires) {
		delete(g.cache, bearer)
		return Claims{}, false
	}
	return c.claims, true
}

func (g *GoogleVerifier) store(bearer string, claims Claims) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cache == nil {
		g.cache = make(map[string]cachedClaims)
	}
	g.cache[bearer] = cachedClaims{claims: claims, expires: g.now().Add(googleCacheTTL)}
}

func (g *GoogleVerifier) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}
