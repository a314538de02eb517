package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mcpoauth "github.com/giantswarm/mcp-oauth"
	"github.com/giantswarm/mcp-oauth/providers"
	"github.com/giantswarm/mcp-oauth/storage"
	"github.com/giantswarm/mcp-oauth/storage/memory"
	"golang.org/x/oauth2"

	"github.com/teemow/ipdocket/internal/logging"
)

const (
	// ProtectedResourcePath serves the RFC 9728 metadata document.
	ProtectedResourcePath = "/.well-known/oauth-protected-resource"

	googleIssuer      = "https://accounts.google.com"
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

	tokenStoreTimeout = 5 * time.Second
)

// ErrNoAllowedEmails is returned by NewHandler when no operator may call the
// MCP tools.
var ErrNoAllowedEmails = errors.New("at least one allowed email or @domain is required to serve MCP over HTTP")

// UserInfoFunc resolves the Google account behind an access token.
type UserInfoFunc func(ctx context.Context, token *oauth2.Token) (*providers.UserInfo, error)

// Config configures Handler.
type Config struct {
	// Resource is the public URL of the MCP server.
	Resource string
	// AllowedEmails lists the accounts that may call the tools. An entry
	// starting with "@" admits a whole domain.
	AllowedEmails []string
	// UserInfo defaults to Google's userinfo endpoint.
	UserInfo UserInfoFunc
	Logger   *slog.Logger
}

type tokenStore interface {
	storage.TokenStore
	Stop()
}

// Handler validates bearer tokens in front of the MCP transport.
type Handler struct {
	resource string
	emails   map[string]bool
	domains  map[string]bool
	userInfo UserInfoFunc
	store    tokenStore
	logger   *slog.Logger
}

// NewHandler builds a Handler from config. Call Stop when done.
func NewHandler(config Config) (*Handler, error) {
	if config.Resource == "" {
		return nil, fmt.Errorf("resource URL cannot be empty")
	}

	h := &Handler{
		resource: strings.TrimSuffix(config.Resource, "/"),
		emails:   make(map[string]bool),
		domains:  make(map[string]bool),
		userInfo: config.UserInfo,
		logger:   config.Logger,
	}
	for _, entry := range config.AllowedEmails {
		entry = strings.ToLower(strings.TrimSpace(entry))
		switch {
		case entry == "" || entry == "@":
		case strings.HasPrefix(entry, "@"):
			h.domains[entry[1:]] = true
		default:
			h.emails[entry] = true
		}
	}
	if len(h.emails) == 0 && len(h.domains) == 0 {
		return nil, ErrNoAllowedEmails
	}
	if h.userInfo == nil {
		h.userInfo = googleUserInfo
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.store = memory.New()
	return h, nil
}

// RegisterEndpoints adds the protected resource metadata endpoint to mux.
func (h *Handler) RegisterEndpoints(mux *http.ServeMux) {
	mux.HandleFunc(ProtectedResourcePath, h.serveProtectedResourceMetadata)
}

// Protect rejects requests without a valid bearer token from an allowed
// account and passes the rest to next with the caller in the context.
func (h *Handler) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			h.writeUnauthorized(w, "missing_token", "Missing Authorization header")
			return
		}
		scheme, accessToken, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(accessToken) == "" {
			h.writeUnauthorized(w, "invalid_token", "Invalid Authorization header format")
			return
		}

		token := &oauth2.Token{AccessToken: strings.TrimSpace(accessToken), TokenType: "Bearer"}
		userInfo, err := h.userInfo(r.Context(), token)
		if err != nil || userInfo == nil || userInfo.Email == "" {
			h.logger.Debug("Bearer token rejected", logging.Err(err))
			h.writeUnauthorized(w, "invalid_token", "Token validation failed, re-authenticate with Google")
			return
		}
		if !h.allowed(userInfo.Email) {
			h.logger.Warn("MCP access denied", logging.UserHash(userInfo.Email))
			writeError(w, http.StatusForbidden, "access_denied", "Account is not allowed to use this server")
			return
		}

		storeCtx, cancel := context.WithTimeout(r.Context(), tokenStoreTimeout)
		if err := h.store.SaveToken(storeCtx, userInfo.Email, token); err != nil {
			h.logger.Warn("Failed to store bearer token", logging.UserHash(userInfo.Email), logging.Err(err))
		}
		cancel()

		next.ServeHTTP(w, r.WithContext(mcpoauth.ContextWithUserInfo(r.Context(), userInfo)))
	})
}

// Stop releases the token store.
func (h *Handler) Stop() {
	h.store.Stop()
}

func (h *Handler) allowed(email string) bool {
	email = strings.ToLower(email)
	if h.emails[email] {
		return true
	}
	_, domain, ok := strings.Cut(email, "@")
	return ok && h.domains[domain]
}

func (h *Handler) serveProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"resource":                 h.resource,
		"authorization_servers":    []string{googleIssuer},
		"bearer_methods_supported": []string{"header"},
		"scopes_supported":         []string{"openid", "email"},
	})
}

func (h *Handler) writeUnauthorized(w http.ResponseWriter, code, description string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(
		`Bearer resource_metadata="%s%s", error="%s"`, h.resource, ProtectedResourcePath, code))
	writeError(w, http.StatusUnauthorized, code, description)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func googleUserInfo(ctx context.Context, token *oauth2.Token) (*providers.UserInfo, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleUserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	var info struct {
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	if !info.VerifiedEmail {
		return nil, fmt.Errorf("email %s is not verified", logging.AnonymizeEmail(info.Email))
	}
	return &providers.UserInfo{Email: info.Email, Name: info.Name}, nil
}
