// Package secrets keeps relay tokens in a per-user file (0600) encrypted
// with AES-GCM. It is obfuscation rather than a keychain, but keeps tokens
// out of the plain-text config.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

const fileName = "tokens.json"

// ErrNotFound is returned when no token is stored for a remote.
var ErrNotFound = errors.New("token not found")

type secretFile struct {
	Tokens map[string]string `json:"tokens"` // remote -> base64(ciphertext)
}

// Store is a token file.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open uses dir for the token file, creating it when needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil { // restrict directory
		return nil, fmt.Errorf("create secrets dir: %w", err)
	}
	return &Store{path: filepath.Join(dir, fileName)}, nil
}

// Default opens the store under the user config dir.
func Default() (*Store, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	return Open(filepath.Join(dir, "moneysync"))
}

// SetToken stores the bearer token used for remote.
func (s *Store) SetToken(remote, token string) error {
	if remote = norm(remote); remote == "" {
		return fmt.Errorf("remote required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := load(s.path)
	if err != nil {
		return err
	}
	if sf.Tokens == nil {
		sf.Tokens = map[string]string{}
	}
	ct, err := encrypt([]byte(token))
	if err != nil {
		return err
	}
	sf.Tokens[remote] = base64.StdEncoding.EncodeToString(ct)
	return save(s.path, sf)
}

// Token returns the token stored for remote.
func (s *Store) Token(remote string) (string, error) {
	if remote = norm(remote); remote == "" {
		return "", fmt.Errorf("remote required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := load(s.path)
	if err != nil {
		return "", err
	}
	enc, ok := sf.Tokens[remote]
	if !ok {
		return "", ErrNotFound
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", err
	}
	pt, err := decrypt(raw)
	if err != nil {
		return "", fmt.Errorf("decrypt token: %w", err)
	}
	return string(pt), nil
}

// DeleteToken forgets the token for remote.
func (s *Store) DeleteToken(remote string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := load(s.path)
	if err != nil {
		return err
	}
	delete(sf.Tokens, norm(remote))
	return save(s.path, sf)
}

// Resolve prefers the env var named envName, then the stored token. A
// missing token is not an error; relays without auth accept empty tokens.
func (s *Store) Resolve(remote, envName string) (string, error) {
	if envName != "" {
		if tok := strings.TrimSpace(os.Getenv(envName)); tok != "" {
			return tok, nil
		}
	}
	tok, err := s.Token(remote)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return tok, err
}

func load(path string) (secretFile, error) {
	var sf secretFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return secretFile{}, nil
		}
		return sf, err
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		return sf, fmt.Errorf("decode %s: %w", path, err)
	}
	return sf, nil
}

func save(path string, sf secretFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func norm(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "/")
}

func gcm() (cipher.AEAD, error) {
	base := fmt.Sprintf("moneysync-%s-%s", runtime.GOOS, os.Getenv("USER"))
	key := sha256.Sum256([]byte(base))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func encrypt(plain []byte) ([]byte, error) {
	aead, err := gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func decrypt(ciphertext []byte) ([]byte, error) {
	aead, err := gcm()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce := ciphertext[:aead.NonceSize()]
	body := ciphertext[aead.NonceSize():]
	return aead.Open(nil, nonce, body, nil)
}
