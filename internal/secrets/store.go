// Package secrets keeps remote-store credentials encrypted at rest with a
// Fernet key that lives next to them in the data directory.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fernet/fernet-go"
	"gopkg.in/yaml.v3"

	"github.com/spherical/sweetspot/internal/domain"
)

// Credentials is the Dropbox key/secret/refresh-token triple
type Credentials struct {
	AppKey       string `yaml:"app_key"`
	AppSecret    string `yaml:"app_secret"`
	RefreshToken string `yaml:"refresh_token"`
}

// Complete reports whether all three values are present
func (c Credentials) Complete() bool {
	return c.AppKey != "" && c.AppSecret != "" && c.RefreshToken != ""
}

// Merge returns c with empty fields taken from other
func (c Credentials) Merge(other Credentials) Credentials {
	if c.AppKey == "" {
		c.AppKey = other.AppKey
	}
	if c.AppSecret == "" {
		c.AppSecret = other.AppSecret
	}
	if c.RefreshToken == "" {
		c.RefreshToken = other.RefreshToken
	}
	return c
}

// Store reads and writes the encrypted credentials file
type Store struct {
	key       *fernet.Key
	credsPath string
}

// Open loads the key at keyPath, generating and saving one if it does not
// exist yet.
func Open(keyPath, credsPath string) (*Store, error) {
	key, err := loadOrGenerateKey(keyPath)
	if err != nil {
		return nil, err
	}
	return &Store{key: key, credsPath: credsPath}, nil
}

func loadOrGenerateKey(path string) (*fernet.Key, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, derr := fernet.DecodeKey(strings.TrimSpace(string(data)))
		if derr != nil {
			return nil, domain.ConfigError(fmt.Sprintf("invalid encryption key in %s", path), derr)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, domain.IOError("Failed to read encryption key", err)
	}

	var key fernet.Key
	if err := key.Generate(); err != nil {
		return nil, domain.ConfigError("Failed to generate encryption key", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, domain.IOError("Failed to create key directory", err)
	}
	if err := os.WriteFile(path, []byte(key.Encode()), 0o600); err != nil {
		return nil, domain.IOError("Failed to save encryption key", err)
	}
	return &key, nil
}

// Encrypt returns a Fernet token for plaintext
func (s *Store) Encrypt(plaintext []byte) ([]byte, error) {
	tok, err := fernet.EncryptAndSign(plaintext, s.key)
	if err != nil {
		return nil, domain.ConfigError("Failed to encrypt data", err)
	}
	return tok, nil
}

// Decrypt verifies and decrypts a Fernet token
func (s *Store) Decrypt(token []byte) ([]byte, error) {
	msg := fernet.VerifyAndDecrypt(token, 0, []*fernet.Key{s.key})
	if msg == nil {
		return nil, domain.ConfigError("Failed to decrypt data: wrong key or corrupted file", nil)
	}
	return msg, nil
}

// Load returns the stored credentials. A missing file yields empty credentials.
func (s *Store) Load() (Credentials, error) {
	var creds Credentials
	data, err := os.ReadFile(s.credsPath)
	if errors.Is(err, os.ErrNotExist) {
		return creds, nil
	}
	if err != nil {
		return creds, domain.IOError("Failed to read credentials", err)
	}

	plain, err := s.Decrypt([]byte(strings.TrimSpace(string(data))))
	if err != nil {
		return creds, err
	}
	if err := yaml.Unmarshal(plain, &creds); err != nil {
		return creds, domain.ConfigError("Failed to parse credentials", err)
	}
	return creds, nil
}

// Save encrypts and writes creds with owner-only permissions
func (s *Store) Save(creds Credentials) error {
	plain, err := yaml.Marshal(creds)
	if err != nil {
		return domain.ConfigError("Failed to encode credentials", err)
	}
	tok, err := s.Encrypt(plain)
	if err != nil {
		return err
	}

	tmp := s.credsPath + ".tmp"
	if err := os.WriteFile(tmp, tok, 0o600); err != nil {
		return domain.IOError("Failed to write credentials", err)
	}
	if err := os.Rename(tmp, s.credsPath); err != nil {
		os.Remove(tmp)
		return domain.IOError("Failed to write credentials", err)
	}
	return nil
}
