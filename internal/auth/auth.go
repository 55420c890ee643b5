// Package auth authenticates API callers by bearer token and decides which commands
// each token may invoke.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/mattjoyce/telbridge/internal/dispatch"
)

const (
	ScopeAll       = "*"
	ScopeSMSSend   = "sms:send"
	ScopeCallPlace = "call:place"
	ScopeEventsRO  = "events:ro"
)

// KnownScopes lists every scope a token may carry.
var KnownScopes = []string{ScopeAll, ScopeSMSSend, ScopeCallPlace, ScopeEventsRO}

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Name   string
	Token  string
	Scopes []string
}

type Principal struct {
	Name   string
	Scopes map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errors.New("missing API key")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented token against the legacy API key (all scopes)
// and then the scoped tokens.
func Authenticate(presented, legacyAPIKey string, tokens []TokenConfig) (Principal, bool) {
	if constantTimeEqual(presented, legacyAPIKey) {
		return Principal{Name: "api_key", Scopes: map[string]struct{}{ScopeAll: {}}}, true
	}

	for _, t := range tokens {
		if constantTimeEqual(presented, t.Token) {
			return Principal{Name: t.Name, Scopes: normalizeScopes(t.Scopes)}, true
		}
	}
	return Principal{}, false
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}

// ScopeForCommand returns the scope needed to invoke command. Unrecognised commands
// need none.
func ScopeForCommand(command string) (string, bool) {
	switch command {
	case dispatch.CommandSendSMS:
		return ScopeSMSSend, true
	case dispatch.CommandCallNumber:
		return ScopeCallPlace, true
	default:
		return "", false
	}
}

// IsKnownScope reports whether s is a scope telbridge understands.
func IsKnownScope(s string) bool {
	for _, k := range KnownScopes {
		if s == k {
			return true
		}
	}
	return false
}
