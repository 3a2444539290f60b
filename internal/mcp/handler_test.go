package mcp

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/localrivet/datadumper/internal/config"
	"github.com/localrivet/datadumper/internal/mcp/mcpauth"
	"github.com/localrivet/datadumper/internal/mcp/tools"
)

func newTestHandler(key string) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tc := &tools.ToolContext{Config: &config.Config{}, Logger: logger}
	return NewHandler(tc, mcpauth.NewAuthenticator(key), "http://dumper.local:8080/", logger)
}

func TestHandler_Enabled(t *testing.T) {
	if newTestHandler("").Enabled() {
		t.Error("Enabled() = true without a key, want false")
	}
	if !newTestHandler("k").Enabled() {
		t.Error("Enabled() = false with a key, want true")
	}
}

func TestHandler_RejectsWithoutToken(t *testing.T) {
	mux := http.NewServeMux()
	newTestHandler("k").RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, Path, strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	want := `resource_metadata="http://dumper.local:8080/.well-known/oauth-protected-resource"`
	if got := rec.Header().Get("WWW-Authenticate"); !strings.Contains(got, want) {
		t.Errorf("WWW-Authenticate = %q, want it to contain %q", got, want)
	}
}

func TestHandler_Discovery(t *testing.T) {
	mux := http.NewServeMux()
	newTestHandler("k").RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, protectedResourceURI, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var meta ProtectedResourceMetadata
	if err := json.NewDecoder(rec.Body).Decode(&meta); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if meta.Resource != "http://dumper.local:8080/mcp" {
		t.Errorf("Resource = %q, want http://dumper.local:8080/mcp", meta.Resource)
	}
	if len(meta.AuthorizationServers) != 1 || meta.AuthorizationServers[0] != "http://dumper.local:8080" {
		t.Errorf("AuthorizationServers = %v", meta.AuthorizationServers)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, authServerURI, nil))
	var as AuthorizationServerMetadata
	if err := json.NewDecoder(rec.Body).Decode(&as); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if as.Issuer != "http://dumper.local:8080" {
		t.Errorf("Issuer = %q, want http://dumper.local:8080", as.Issuer)
	}
	if len(as.GrantTypesSupported) != 0 {
		t.Errorf("GrantTypesSupported = %v, want none", as.GrantTypesSupported)
	}
}
