// Package mcpauth guards the MCP endpoint with a pre-shared API key.
package mcpauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/auth"
)

const (
	// APIKeyEnv names the variable holding the key clients present as a
	// bearer token.
	APIKeyEnv = "DATADUMPER_MCP_API_KEY"

	Scope = "mcp:full"
)

type AuthMode string

const AuthModeAPIKey AuthMode = "api_key"

type tokenInfoKey struct{}

func ContextWithTokenInfo(ctx context.Context, info *auth.TokenInfo) context.Context {
	return context.WithValue(ctx, tokenInfoKey{}, info)
}

func TokenInfoFromContext(ctx context.Context) *auth.TokenInfo {
	info, _ := ctx.Value(tokenInfoKey{}).(*auth.TokenInfo)
	return info
}

// Authenticator only keeps a digest of the key.
type Authenticator struct {
	digest []byte
}

func NewAuthenticator(apiKey string) *Authenticator {
	a := &Authenticator{}
	if apiKey != "" {
		a.digest = digest(apiKey)
	}
	return a
}

// FromEnv reads the key from DATADUMPER_MCP_API_KEY.
func FromEnv() *Authenticator {
	return NewAuthenticator(os.Getenv(APIKeyEnv))
}

func digest(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

func (a *Authenticator) Enabled() bool {
	return a.digest != nil
}

// Verify has the shape of an auth.TokenVerifier.
func (a *Authenticator) Verify(_ context.Context, token string, _ *http.Request) (*auth.TokenInfo, error) {
	if !a.Enabled() || token == "" {
		return nil, auth.ErrInvalidToken
	}
	if subtle.ConstantTimeCompare(digest(token), a.digest) != 1 {
		return nil, auth.ErrInvalidToken
	}
	return &auth.TokenInfo{
		Scopes: []string{Scope},
		Extra:  map[string]any{"auth_mode": AuthModeAPIKey},
	}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware admits requests carrying the configured key. Rejections point
// clients at resourceMetaURL through the WWW-Authenticate header.
func (a *Authenticator) Middleware(resourceMetaURL string) func(http.Handler) http.Handler {
	challenge := fmt.Sprintf(`Bearer resource_metadata=%q, scope=%q`, resourceMetaURL, Scope)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Enabled() {
				http.Error(w, "MCP endpoint not configured", http.StatusServiceUnavailable)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, challenge)
				return
			}
			info, err := a.Verify(r.Context(), token, r)
			if err != nil {
				unauthorized(w, challenge)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithTokenInfo(r.Context(), info)))
		})
	}
}

func unauthorized(w http.ResponseWriter, challenge string) {
	w.Header().Set("WWW-Authenticate", challenge)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
