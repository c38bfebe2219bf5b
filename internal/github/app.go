// internal/github/app.go
package github

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
)

const (
	// GitHub rejects app JWTs valid for longer than 10 minutes.
	appJWTLifetime = 9 * time.Minute
	appJWTDrift    = 60 * time.Second
	// Tokens are refreshed this long before they expire.
	tokenEarlyExpiry = time.Minute
)

// appTokenSource signs short-lived app JWTs used to mint installation tokens.
type appTokenSource struct {
	appID int64
	key   *rsa.PrivateKey
	now   func() time.Time
}

func newAppTokenSource(appID int64, privateKeyPEM string) (*appTokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &appTokenSource{appID: appID, key: key, now: time.Now}, nil
}

func (s *appTokenSource) Token() (*oauth2.Token, error) {
	now := s.now()
	expiresAt := now.Add(appJWTLifetime)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-appJWTDrift)),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    strconv.FormatInt(s.appID, 10),
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign app token: %w", err)
	}
	return &oauth2.Token{AccessToken: signed, TokenType: "Bearer", Expiry: expiresAt}, nil
}

// installationTokenSource exchanges the app JWT for an installation access token.
type installationTokenSource struct {
	app            *github.Client
	installationID int64
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tok, _, err := s.app.Apps.CreateInstallationToken(ctx, s.installationID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create token for installation %d: %w", s.installationID, err)
	}
	return &oauth2.Token{
		AccessToken: tok.GetToken(),
		TokenType:   "token",
		Expiry:      tok.GetExpiresAt().Time,
	}, nil
}
