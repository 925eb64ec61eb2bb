// Package oauth manages vendor OAuth credentials stored on the connection
// document.
package oauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/stridecoach/server/pkg/types"
)

// defaultTokenURL is the Garmin OAuth2 token endpoint.
const defaultTokenURL = "https://connectapi.garmin.com/di-oauth2-service/oauth/token"

// Token is the credential triple stored on a connection.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// TokenSource returns a valid token.
// It is safe for concurrent use by multiple goroutines.
type TokenSource interface {
	Token(context.Context) (*Token, error)
	ForceRefresh(context.Context) (*Token, error)
}

// ConnectionDocs is the slice of the connection store the token source
// needs: reading the stored credential and persisting a refreshed one.
type ConnectionDocs interface {
	GetConnection(ctx context.Context, userID string) (*types.ConnectionState, error)
	UpdateConnection(ctx context.Context, userID string, fields map[string]interface{}) error
}

// Config carries the OAuth application credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the vendor token endpoint. Empty means the
	// production Garmin endpoint.
	TokenURL string
}

// ConnectionTokenSource reads credentials from the connection document and
// refreshes them against the vendor token endpoint when needed.
type ConnectionTokenSource struct {
	docs   ConnectionDocs
	userID string
	cfg    Config
	mu     sync.Mutex
}

func NewConnectionTokenSource(docs ConnectionDocs, userID string, cfg Config) *ConnectionTokenSource {
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	return &ConnectionTokenSource{docs: docs, userID: userID, cfg: cfg}
}

// Token returns the stored token, refreshing it first when it is expired or
// expiring within the next minute.
func (s *ConnectionTokenSource) Token(ctx context.Context) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	if state.AccessToken == "" {
		return nil, fmt.Errorf("no access token stored for user %s", s.userID)
	}
	if state.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token stored for user %s", s.userID)
	}

	// Proactive refresh: don't hand out a token about to expire mid-call.
	if state.TokenExpiry != nil && time.Now().Add(1*time.Minute).After(*state.TokenExpiry) {
		return s.refresh(ctx, state.RefreshToken)
	}

	tok := &Token{AccessToken: state.AccessToken, RefreshToken: state.RefreshToken}
	if state.TokenExpiry != nil {
		tok.Expiry = *state.TokenExpiry
	}
	return tok, nil
}

// ForceRefresh exchanges the stored refresh token regardless of expiry. Used
// after the vendor rejects a token that looked valid locally.
func (s *ConnectionTokenSource) ForceRefresh(ctx context.Context) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-read the refresh token: another invocation may have rotated it.
	state, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if state.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token stored for user %s", s.userID)
	}
	return s.refresh(ctx, state.RefreshToken)
}

func (s *ConnectionTokenSource) load(ctx context.Context) (*types.ConnectionState, error) {
	state, err := s.docs.GetConnection(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read connection: %w", err)
	}
	if state == nil || state.Status == types.ConnectionDisconnected {
		return nil, fmt.Errorf("user %s has no linked connection", s.userID)
	}
	return state, nil
}

// refresh performs the refresh-token grant and persists the new credential.
func (s *ConnectionTokenSource) refresh(ctx context.Context, refreshToken string) (*Token, error) {
	conf := &oauth2.Config{
		ClientID:     s.cfg.ClientID,
		ClientSecret: s.cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: s.cfg.TokenURL},
	}

	newTok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	// Update with dotted paths so the rest of the connection document
	// (scopes, cursor, error state) survives the write.
	fields := map[string]interface{}{
		"access_token": newTok.AccessToken,
		"token_expiry": newTok.Expiry,
		"last_used_at": time.Now(),
	}
	// Some vendors don't rotate refresh tokens; writing the empty response
	// value would wipe the stored one.
	if newTok.RefreshToken != "" {
		fields["refresh_token"] = newTok.RefreshToken
	}
	if err := s.docs.UpdateConnection(ctx, s.userID, fields); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	newRefresh := newTok.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	return &Token{
		AccessToken:  newTok.AccessToken,
		RefreshToken: newRefresh,
		Expiry:       newTok.Expiry,
	}, nil
}
