// internal/jira/jwt.go
package jira

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type connectClaims struct {
	jwt.RegisteredClaims
	QSH string `json:"qsh"`
}

// TokenSigner mints per-request Atlassian Connect tokens bound to the request's
// method, path and query.
type TokenSigner struct {
	issuer string
	secret []byte
	ttl    time.Duration
	skew   time.Duration
	now    func() time.Time
}

func NewTokenSigner(issuer, sharedSecret string, ttl, skew time.Duration) *TokenSigner {
	return &TokenSigner{
		issuer: issuer,
		secret: []byte(sharedSecret),
		ttl:    ttl,
		skew:   skew,
		now:    time.Now,
	}
}

// Sign returns an HS256 token for a single request.
func (s *TokenSigner) Sign(method string, u *url.URL) (string, error) {
	now := s.now()
	claims := connectClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: s.issuer,
			// Backdated so a Jira clock running slightly behind still accepts it.
			IssuedAt:  jwt.NewNumericDate(now.Add(-s.skew)),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		QSH: QueryStringHash(method, u),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign jira token: %w", err)
	}
	return signed, nil
}

// QueryStringHash computes the qsh claim: sha256 of "METHOD&path&canonical-query".
func QueryStringHash(method string, u *url.URL) string {
	sum := sha256.Sum256([]byte(CanonicalRequest(method, u)))
	return hex.EncodeToString(sum[:])
}

func CanonicalRequest(method string, u *url.URL) string {
	return strings.ToUpper(method) + "&" + canonicalPath(u.Path) + "&" + canonicalQuery(u.Query())
}

func canonicalPath(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return strings.ReplaceAll(p, "&", "%26")
}

func canonicalQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		if k == "jwt" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		values := make([]string, len(q[k]))
		for i, v := range q[k] {
			values[i] = encodeRFC3986(v)
		}
		sort.Strings(values)
		parts = append(parts, encodeRFC3986(k)+"="+strings.Join(values, ","))
	}
	return strings.Join(parts, "&")
}

func encodeRFC3986(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
