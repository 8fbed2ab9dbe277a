package provider

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mailbot/pkg/crypto"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned when the consent flow has not been completed yet.
var ErrNoToken = errors.New("no stored oauth token")

// TokenStore keeps the mailbox OAuth token in a local file.
// With an encryptor the file holds the sealed token instead of plain JSON.
type TokenStore struct {
	path string
	enc  *crypto.Encryptor
	mu   sync.Mutex
}

// NewTokenStore creates a token store. enc may be nil.
func NewTokenStore(path string, enc *crypto.Encryptor) *TokenStore {
	return &TokenStore{path: path, enc: enc}
}

// Path returns the token file location.
func (s *TokenStore) Path() string { return s.path }

// Load reads the stored token.
func (s *TokenStore) Load() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	if s.enc != nil {
		plain, err := s.enc.Open(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("open sealed token: %w", err)
		}
		data = plain
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, ErrNoToken
	}
	return &token, nil
}

// Save writes the token atomically with owner-only permissions.
func (s *TokenStore) Save(token *oauth2.Token) error {
	if token == nil {
		return errors.New("nil token")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if s.enc != nil {
		sealed, err := s.enc.Seal(data)
		if err != nil {
			return err
		}
		data = []byte(sealed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// persistingTokenSource saves refreshed tokens back to the store.
type persistingTokenSource struct {
	src   oauth2.TokenSource
	store *TokenStore

	mu   sync.Mutex
	last string
}

func newPersistingTokenSource(src oauth2.TokenSource, store *TokenStore, initial *oauth2.Token) *persistingTokenSource {
	ts := &persistingTokenSource{src: src, store: store}
	if initial != nil {
		ts.last = initial.AccessToken
	}
	return ts
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if token.AccessToken != p.last {
		p.last = token.AccessToken
		// A failed save only costs a refresh on the next start.
		_ = p.store.Save(token)
	}
	return token, nil
}
