package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/pbkdf2"
)

const (
	sealIterations = 480000
	sealKeyLen     = 32
)

// ErrUnsealable is returned when a sealed value was written on another machine or is corrupt.
var ErrUnsealable = errors.New("sealed value cannot be opened on this machine")

// machineIDFiles are read in order; the first non-empty one identifies the host.
var machineIDFiles = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// Sealer encrypts short secrets with AES-256-GCM under a key bound to this machine.
// Sealed values are base64(nonce || ciphertext).
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the key from secret with PBKDF2-SHA256. The salt is the SHA-256 of
// the secret so the same machine always derives the same key.
func NewSealer(secret []byte, iterations int) (*Sealer, error) {
	salt := sha256.Sum256(secret)
	key := pbkdf2.Key(secret, salt[:], iterations, sealKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

var (
	machineSealerOnce sync.Once
	machineSealer     *Sealer
	machineSealerErr  error
)

// MachineSealer returns the process-wide sealer keyed to this host. The key is derived
// once per process.
func MachineSealer() (*Sealer, error) {
	machineSealerOnce.Do(func() {
		machineSealer, machineSealerErr = NewSealer(machineSecret(), sealIterations)
	})
	return machineSealer, machineSealerErr
}

// machineSecret joins the host identifiers that survive a restart.
func machineSecret() []byte {
	parts := []string{runtime.GOOS, runtime.GOARCH}
	for _, path := range machineIDFiles {
		if raw, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(raw)); id != "" {
				parts = append(parts, id)
				break
			}
		}
	}
	if host, err := os.Hostname(); err == nil {
		parts = append(parts, host)
	}
	if home, err := homedir.Dir(); err == nil {
		parts = append(parts, home)
	}
	return []byte(strings.Join(parts, "|"))
}

// Seal encrypts plaintext. The empty string seals to the empty string.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsealable, err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n+s.aead.Overhead() {
		return "", fmt.Errorf("%w: value too short", ErrUnsealable)
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsealable, err)
	}
	return string(plain), nil
}
