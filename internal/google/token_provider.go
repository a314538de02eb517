package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/ipdocket/internal/logging"
)

// TokenProvider is an interface for providing OAuth tokens for Google APIs
type TokenProvider interface {
	// GetTokenForAccount returns a token for account that is valid for at
	// least a few more minutes.
	GetTokenForAccount(ctx context.Context, account string) (*oauth2.Token, error)

	// HasTokenForAccount checks if a token exists for the specified account
	HasTokenForAccount(account string) bool
}

// StoreTokenProvider serves tokens from a FileTokenStore and refreshes those
// that are about to expire.
type StoreTokenProvider struct {
	store      *FileTokenStore
	config     *oauth2.Config
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewStoreTokenProvider creates a provider. httpClient is used for refresh
// requests when set.
func NewStoreTokenProvider(store *FileTokenStore, config *oauth2.Config, httpClient *http.Client, logger *slog.Logger) *StoreTokenProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreTokenProvider{
		store:      store,
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

// HasTokenForAccount checks if a token exists for the specified account
func (p *StoreTokenProvider) HasTokenForAccount(account string) bool {
	return p.store.Has(account)
}

// GetTokenForAccount loads the token for account, refreshing and saving it
// when it expires within five minutes.
func (p *StoreTokenProvider) GetTokenForAccount(ctx context.Context, account string) (*oauth2.Token, error) {
	token, err := p.store.Load(account)
	if err != nil {
		return nil, err
	}
	if !isTokenExpired(token, p.now(), refreshThreshold) {
		return token, nil
	}

	refreshed, err := p.refresh(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token for account %s: %w", account, err)
	}

	if err := p.store.Save(account, refreshed); err != nil {
		// We still have the new token
		p.logger.Warn("Failed to save refreshed token", logging.Account(account), logging.Err(err))
	}
	return refreshed, nil
}

func (p *StoreTokenProvider) refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}
	if p.config == nil {
		return nil, fmt.Errorf("no OAuth config available")
	}
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	// Clearing the access token makes the token source hit the token endpoint.
	stale := *token
	stale.AccessToken = ""
	newToken, err := p.config.TokenSource(ctx, &stale).Token()
	if err != nil {
		return nil, err
	}
	if newToken.RefreshToken == "" {
		newToken.RefreshToken = token.RefreshToken
	}
	return newToken, nil
}

// ExchangeAndSave trades an authorization code for a token and stores it.
func (p *StoreTokenProvider) ExchangeAndSave(ctx context.Context, account, code string) error {
	if p.config == nil {
		return fmt.Errorf("no OAuth config available")
	}
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange auth code: %w", err)
	}
	return p.store.Save(account, token)
}

// AuthURL returns the consent URL for the configured scopes.
func (p *StoreTokenProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}
