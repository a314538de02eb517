package google

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	"golang.org/x/oauth2"
)

// ErrNoToken is returned when no token is stored for an account.
var ErrNoToken = errors.New("no Google OAuth token stored")

var accountNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateAccountName(account string) error {
	if account == "" {
		return fmt.Errorf("account name cannot be empty")
	}
	if !accountNamePattern.MatchString(account) {
		return fmt.Errorf("invalid account name %q: only letters, digits, hyphens and underscores are allowed", account)
	}
	return nil
}

// FileTokenStore keeps one token file per account in a directory.
type FileTokenStore struct {
	dir string
	enc *TokenEncryption
}

// NewFileTokenStore creates a store in dir, or DefaultTokenDir when dir is
// empty. A nil enc stores tokens in plaintext.
func NewFileTokenStore(dir string, enc *TokenEncryption) *FileTokenStore {
	if dir == "" {
		dir = DefaultTokenDir()
	}
	return &FileTokenStore{dir: dir, enc: enc}
}

// DefaultTokenDir is the ipdocket directory in the user cache directory.
func DefaultTokenDir() string {
	return filepath.Join(userCacheDir(), "ipdocket")
}

func (s *FileTokenStore) tokenFilePath(account string) string {
	return filepath.Join(s.dir, fmt.Sprintf("google-%s.token", account))
}

// Has reports whether a token file exists for account.
func (s *FileTokenStore) Has(account string) bool {
	if validateAccountName(account) != nil {
		return false
	}
	_, err := os.Stat(s.tokenFilePath(account))
	return err == nil
}

// Save writes token for account with 0600 permissions.
func (s *FileTokenStore) Save(account string, token *oauth2.Token) error {
	if err := validateAccountName(account); err != nil {
		return err
	}
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	data, err = s.enc.Encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(s.tokenFilePath(account), data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Load reads the token for account. It returns ErrNoToken when there is none.
func (s *FileTokenStore) Load(account string) (*oauth2.Token, error) {
	if err := validateAccountName(account); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.tokenFilePath(account))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("account %s: %w", account, ErrNoToken)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	data, err = s.enc.Decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token for account %s: %w", account, err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("invalid token file for account %s: %w", account, err)
	}
	return &token, nil
}

// Delete removes the token for account. Deleting a missing token is not an error.
func (s *FileTokenStore) Delete(account string) error {
	if err := validateAccountName(account); err != nil {
		return err
	}
	if err := os.Remove(s.tokenFilePath(account)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}

func userCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	if runtime.GOOS == "windows" {
		return os.TempDir()
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}
