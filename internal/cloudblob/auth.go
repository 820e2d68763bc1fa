package cloudblob

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"google.golang.org/api/drive/v3"

	"flashrevise/api/internal/syncer"
	"flashrevise/api/internal/util"
)

const (
	googleRevokeURL = "https://oauth2.googleapis.com/revoke"

	// DefaultPendingTTL is how long a consent page stays redeemable.
	DefaultPendingTTL = 10 * time.Minute
)

// ErrUnknownState is returned for an OAuth callback that matches no pending
// authorization.
var ErrUnknownState = errors.New("cloudblob: unknown or expired auth state")

// PendingAuth is an authorization the user has not finished yet. URL is the
// consent page; Wait resolves once the callback arrives.
type PendingAuth struct {
	URL   string `json:"url"`
	State string `json:"state"`

	verifier string
	timer    *time.Timer
	done     chan struct{}
	once     sync.Once
	err      error
}

// Wait blocks until the authorization completes or ctx ends.
func (p *PendingAuth) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PendingAuth) resolve(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// DriveAuth runs the OAuth authorization-code flow with PKCE for the
// drive.file scope and caches the resulting token in memory.
type DriveAuth struct {
	config    *oauth2.Config
	RevokeURL string
	Client    *http.Client

	// PendingTTL bounds how long an unanswered authorization is kept.
	PendingTTL time.Duration

	mu      sync.Mutex
	token   *oauth2.Token
	pending map[string]*PendingAuth
}

func NewDriveAuth(clientID, clientSecret, redirectURL string) *DriveAuth {
	return NewDriveAuthWithEndpoint(clientID, clientSecret, redirectURL, endpoints.Google)
}

func NewDriveAuthWithEndpoint(clientID, clientSecret, redirectURL string, endpoint oauth2.Endpoint) *DriveAuth {
	return &DriveAuth{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{drive.DriveFileScope},
			Endpoint:     endpoint,
		},
		RevokeURL:  googleRevokeURL,
		Client:     http.DefaultClient,
		PendingTTL: DefaultPendingTTL,
		pending:    make(map[string]*PendingAuth),
	}
}

// BeginAuth starts an authorization and returns immediately. If no callback
// arrives within PendingTTL the authorization resolves as cancelled.
func (a *DriveAuth) BeginAuth() *PendingAuth {
	p := &PendingAuth{
		State:    util.NewID("st"),
		verifier: oauth2.GenerateVerifier(),
		done:     make(chan struct{}),
	}
	p.URL = a.config.AuthCodeURL(p.State, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(p.verifier))

	ttl := a.PendingTTL
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	a.mu.Lock()
	a.pending[p.State] = p
	p.timer = time.AfterFunc(ttl, func() {
		if expired, err := a.take(p.State); err == nil {
			expired.resolve(fmt.Errorf("consent expired after %s: %w", ttl, syncer.ErrUserCancelled))
		}
	})
	a.mu.Unlock()
	return p
}

// Close cancels every authorization still waiting for its callback.
func (a *DriveAuth) Close() {
	a.mu.Lock()
	pending := a.pending
	a.pending = make(map[string]*PendingAuth)
	a.mu.Unlock()
	for _, p := range pending {
		p.timer.Stop()
		p.resolve(fmt.Errorf("shutting down: %w", syncer.ErrUserCancelled))
	}
}

// Pending reports how many authorizations are waiting for a callback.
func (a *DriveAuth) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// CompleteAuth exchanges the code delivered to the redirect URL and resolves
// the matching pending authorization.
func (a *DriveAuth) CompleteAuth(ctx context.Context, state, code string) error {
	p, err := a.take(state)
	if err != nil {
		return err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.Client)
	token, err := a.config.Exchange(ctx, code, oauth2.VerifierOption(p.verifier))
	if err != nil {
		err = fmt.Errorf("%w: exchange authorization code: %v", syncer.ErrPermissionDenied, err)
		p.resolve(err)
		return err
	}
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
	p.resolve(nil)
	return nil
}

// Deny resolves a pending authorization the user refused on the consent page.
func (a *DriveAuth) Deny(state, reason string) error {
	p, err := a.take(state)
	if err != nil {
		return err
	}
	p.resolve(fmt.Errorf("consent %s: %w", reason, syncer.ErrUserCancelled))
	return nil
}

func (a *DriveAuth) Authenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token != nil
}

// TokenSource returns a refreshing source over the cached token.
func (a *DriveAuth) TokenSource() (oauth2.TokenSource, error) {
	a.mu.Lock()
	token := a.token
	a.mu.Unlock()
	if token == nil {
		return nil, fmt.Errorf("%w: drive is not authorized", syncer.ErrPermissionDenied)
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, a.Client)
	return a.config.TokenSource(ctx, token), nil
}

// SignOut revokes the cached token and forgets it. The token is dropped
// even when revocation fails.
func (a *DriveAuth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	token := a.token
	a.token = nil
	a.mu.Unlock()
	if token == nil {
		return nil
	}

	value := token.RefreshToken
	if value == "" {
		value = token.AccessToken
	}
	form := url.Values{"token": {value}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := a.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: revoke token: %v", syncer.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: revoke token: status %d", syncer.ErrTransport, resp.StatusCode)
	}
	return nil
}

func (a *DriveAuth) take(state string) (*PendingAuth, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pending[state]
	if !ok {
		return nil, ErrUnknownState
	}
	delete(a.pending, state)
	p.timer.Stop()
	return p, nil
}
