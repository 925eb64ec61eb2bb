package oauth

import (
	"context"
	"fmt"
)

// AccessTokenProvider adapts a TokenSource to callers that only need the
// bearer token string, such as the vendor API client. The proactive expiry
// check happens inside Source.Token; reactive refresh after a vendor
// rejection is the caller's responsibility.
type AccessTokenProvider struct {
	Source TokenSource
}

func (p AccessTokenProvider) AccessToken(ctx context.Context) (string, error) {
	tok, err := p.Source.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("oauth: cannot get token: %w", err)
	}
	return tok.AccessToken, nil
}
