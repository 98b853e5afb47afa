// Package auth extracts caller credentials for the gateway. Browser
// clients send a bearer token; the voice agent's server-to-server calls
// send X-Api-Key, mirroring what the workflow service expects from us.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// Credential sources, recorded on the principal for access logging.
const (
	ViaBearer = "bearer"
	ViaHeader = "api_key_header"
)

type Principal struct {
	APIKey string
	Via    string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// Credential returns the API key presented on the request, preferring the
// Authorization bearer form over the X-Api-Key header.
func Credential(r *http.Request) (key, via string, ok bool) {
	if token, found := bearerToken(r); found {
		return token, ViaBearer, true
	}
	if key := strings.TrimSpace(r.Header.Get("X-Api-Key")); key != "" {
		return key, ViaHeader, true
	}
	return "", "", false
}

func bearerToken(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if authz == "" || !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
