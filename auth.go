package pipa

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ambiyansyah-risyal/pipa/internal/singleflight"
)

// AccessToken is a bearer token with its expiry.
type AccessToken struct {
	Token     string
	ExpiresOn time.Time
}

// TokenCredential mints access tokens for a set of scopes. Implementations
// must be safe for concurrent use; callers cache the result, so GetToken is
// only invoked when no valid token is held.
type TokenCredential interface {
	GetToken(ctx context.Context, scopes []string) (AccessToken, error)
}

// TokenCredentialFunc adapts a function to the TokenCredential interface.
type TokenCredentialFunc func(ctx context.Context, scopes []string) (AccessToken, error)

// GetToken implements TokenCredential.
func (f TokenCredentialFunc) GetToken(ctx context.Context, scopes []string) (AccessToken, error) {
	return f(ctx, scopes)
}

// StaticTokenCredential returns a fixed token that never expires. Useful for
// tests and tools holding a pre-issued token.
type StaticTokenCredential struct {
	token string
}

// NewStaticTokenCredential creates a credential around a pre-issued token.
func NewStaticTokenCredential(token string) *StaticTokenCredential {
	return &StaticTokenCredential{token: token}
}

// GetToken implements TokenCredential.
func (c *StaticTokenCredential) GetToken(ctx context.Context, scopes []string) (AccessToken, error) {
	return AccessToken{Token: c.token, ExpiresOn: time.Now().Add(24 * time.Hour)}, nil
}

// defaultRefreshWindow is how long before expiry a cached token is replaced.
const defaultRefreshWindow = 5 * time.Minute

// replayedValue marks a call that already replayed after a 401 challenge.
const replayedValue = "pipa.authReplayed"

// crossHostValue records the foreign host a redirect crossed to; the bearer
// policy withholds the Authorization header only while the request targets
// that host, so a later resend to the original host is authenticated again.
const crossHostValue = "pipa.crossHostRedirect"

// BearerTokenOptions configures NewBearerTokenPolicy.
type BearerTokenOptions struct {
	// RefreshWindow is how close to expiry a cached token may get before it
	// is proactively replaced. Default 5 minutes.
	RefreshWindow time.Duration
}

// BearerTokenPolicy attaches an Authorization header minted by a
// TokenCredential. Tokens are cached per scope set for the lifetime of the
// policy, refreshed proactively inside the refresh window and reactively
// once per call on a 401 bearer challenge. Concurrent refreshes for the same
// scopes coalesce into a single credential call.
type BearerTokenPolicy struct {
	cred          TokenCredential
	scopes        []string
	refreshWindow time.Duration
	group         *singleflight.Group
	metrics       *MetricsCollector
	logger        Logger

	mu    sync.RWMutex
	cache map[string]AccessToken
}

// NewBearerTokenPolicy creates a bearer auth policy for the given credential
// and scopes.
func NewBearerTokenPolicy(cred TokenCredential, scopes []string, opts *BearerTokenOptions) *BearerTokenPolicy {
	return newBearerTokenPolicy(cred, scopes, opts, nil, nil)
}

func newBearerTokenPolicy(cred TokenCredential, scopes []string, opts *BearerTokenOptions, metrics *MetricsCollector, logger Logger) *BearerTokenPolicy {
	refreshWindow := defaultRefreshWindow
	if opts != nil && opts.RefreshWindow > 0 {
		refreshWindow = opts.RefreshWindow
	}
	return &BearerTokenPolicy{
		cred:          cred,
		scopes:        scopes,
		refreshWindow: refreshWindow,
		group:         singleflight.New(),
		metrics:       metrics,
		logger:        logger,
		cache:         make(map[string]AccessToken),
	}
}

func (b *BearerTokenPolicy) scopeKey() string {
	return strings.Join(b.scopes, " ")
}

// token returns a cached token still outside the refresh window, or fetches a
// fresh one. force bypasses the cache after a 401 challenge.
func (b *BearerTokenPolicy) token(ctx context.Context, force bool) (AccessToken, error) {
	key := b.scopeKey()

	if !force {
		b.mu.RLock()
		tok, ok := b.cache[key]
		b.mu.RUnlock()
		if ok && time.Until(tok.ExpiresOn) > b.refreshWindow {
			return tok, nil
		}
	}

	v, err := b.group.Do(key, func() (interface{}, error) {
		if !force {
			// another caller may have refreshed while we waited on the group
			b.mu.RLock()
			tok, ok := b.cache[key]
			b.mu.RUnlock()
			if ok && time.Until(tok.ExpiresOn) > b.refreshWindow {
				return tok, nil
			}
		}
		tok, err := b.cred.GetToken(ctx, b.scopes)
		if err != nil {
			b.metrics.RecordTokenRefresh(key, "error")
			return AccessToken{}, err
		}
		b.mu.Lock()
		b.cache[key] = tok
		b.mu.Unlock()
		b.metrics.RecordTokenRefresh(key, "ok")
		if b.logger != nil {
			b.logger.Debug("Token refreshed", "scopes", key, "expiresOn", tok.ExpiresOn)
		}
		return tok, nil
	})
	if err != nil {
		return AccessToken{}, err
	}
	return v.(AccessToken), nil
}

// Do implements Policy.
func (b *BearerTokenPolicy) Do(req *Request) (*Response, error) {
	if host, ok := req.Value(crossHostValue); ok && host == req.Raw().URL.Host {
		req.Raw().Header.Del("Authorization")
		return req.Next()
	}

	tok, err := b.token(req.Context(), false)
	if err != nil {
		return nil, authError(req, err)
	}
	req.Raw().Header.Set("Authorization", "Bearer "+tok.Token)

	resp, err := req.Next()
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == 401 && hasBearerChallenge(resp) {
		if _, replayed := req.Value(replayedValue); !replayed {
			req.SetValue(replayedValue, true)
			resp.Drain()

			tok, err = b.token(req.Context(), true)
			if err != nil {
				return nil, authError(req, err)
			}
			if rerr := req.RewindBody(); rerr != nil {
				return nil, rerr
			}
			req.Raw().Header.Set("Authorization", "Bearer "+tok.Token)
			return req.Next()
		}
	}

	return resp, nil
}

func hasBearerChallenge(resp *Response) bool {
	challenge := resp.Header.Get("WWW-Authenticate")
	return strings.Contains(strings.ToLower(challenge), "bearer")
}

func authError(req *Request, cause error) *ClientError {
	return &ClientError{
		Type:      ErrorTypeAuthentication,
		Message:   "failed to acquire token",
		Cause:     cause,
		Method:    req.Raw().Method,
		URL:       req.Raw().URL.String(),
		Timestamp: time.Now(),
	}
}

// KeyCredentialPolicy attaches a static key header, for services
// authenticating with an API key rather than a bearer token.
type KeyCredentialPolicy struct {
	header string
	key    string
}

// NewKeyCredentialPolicy creates a policy setting header to the given key on
// every request.
func NewKeyCredentialPolicy(header, key string) *KeyCredentialPolicy {
	return &KeyCredentialPolicy{header: header, key: key}
}

// Do implements Policy.
func (p *KeyCredentialPolicy) Do(req *Request) (*Response, error) {
	req.Raw().Header.Set(p.header, p.key)
	return req.Next()
}
