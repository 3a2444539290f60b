package mcp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/localrivet/datadumper/internal/mcp/mcpauth"
	"github.com/localrivet/datadumper/internal/mcp/tools"
)

const (
	Path                 = "/mcp"
	protectedResourceURI = "/.well-known/oauth-protected-resource"
	authServerURI        = "/.well-known/oauth-authorization-server"
)

// ProtectedResourceMetadata is served for RFC 9728 discovery.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
}

// AuthorizationServerMetadata advertises bearer API keys only; there is no
// authorization code or token grant.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

// Handler serves the MCP endpoint behind API key authentication.
type Handler struct {
	baseURL string
	auth    *mcpauth.Authenticator
	logger  *slog.Logger
	next    http.Handler
}

// NewHandler builds a stateless streamable HTTP handler. baseURL is the
// externally visible origin used in discovery documents.
func NewHandler(tc *tools.ToolContext, authn *mcpauth.Authenticator, baseURL string, logger *slog.Logger) *Handler {
	h := &Handler{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		auth:    authn,
		logger:  logger,
	}
	if !authn.Enabled() {
		logger.Warn(mcpauth.APIKeyEnv + " not set, MCP endpoint will reject all requests")
	}

	server := NewServer(tc)
	stream := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{Stateless: true})

	h.next = authn.Middleware(h.baseURL + protectedResourceURI)(stream)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("MCP request",
		"method", r.Method,
		"path", r.URL.Path,
		"session", r.Header.Get("Mcp-Session-Id"),
	)
	h.next.ServeHTTP(w, r)
}

func (h *Handler) Enabled() bool {
	return h.auth.Enabled()
}

// RegisterRoutes mounts the endpoint and its discovery documents on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(Path, h)
	mux.HandleFunc("GET "+protectedResourceURI, h.protectedResource)
	mux.HandleFunc("GET "+authServerURI, h.authServer)
}

func (h *Handler) protectedResource(w http.ResponseWriter, _ *http.Request) {
	writeDiscovery(w, ProtectedResourceMetadata{
		Resource:               h.baseURL + Path,
		AuthorizationServers:   []string{h.baseURL},
		ScopesSupported:        []string{mcpauth.Scope},
		BearerMethodsSupported: []string{"header"},
	})
}

func (h *Handler) authServer(w http.ResponseWriter, _ *http.Request) {
	writeDiscovery(w, AuthorizationServerMetadata{
		Issuer:                            h.baseURL,
		ScopesSupported:                   []string{mcpauth.Scope},
		ResponseTypesSupported:            []string{},
		GrantTypesSupported:               []string{},
		TokenEndpointAuthMethodsSupported: []string{"bearer"},
	})
}

func writeDiscovery(w http.ResponseWriter, v any) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
