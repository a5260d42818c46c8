package secrets

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/99designs/keyring"
)

// ErrNotFound is returned when no secret exists under a key
var ErrNotFound = errors.New("secret not found")

// openTimeout bounds keyring.Open. On headless Linux the D-Bus
// SecretService can hang indefinitely when gnome-keyring is installed
// but not running.
const openTimeout = 5 * time.Second

// Options configures the secret store backend
type Options struct {
	ServiceName string
	// Backend is "auto" or "file"
	Backend      string
	FileDir      string
	FilePassword string
}

// Store persists opaque secrets in the OS keyring, falling back to an
// encrypted file backend on headless machines.
type Store struct {
	ring keyring.Keyring
	name string
}

// Open opens the keyring described by opts
func Open(opts Options) (*Store, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "mail-sync-infra"
	}

	var backends []keyring.BackendType
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "auto":
		if runtime.GOOS == "linux" && os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
			backends = []keyring.BackendType{keyring.FileBackend}
		}
	case "file":
		backends = []keyring.BackendType{keyring.FileBackend}
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", opts.Backend)
	}

	cfg := keyring.Config{
		ServiceName:              opts.ServiceName,
		KeychainTrustApplication: false,
		AllowedBackends:          backends,
		FileDir:                  opts.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(opts.FilePassword),
	}

	ring, err := openWithTimeout(cfg, openTimeout)
	if err != nil {
		return nil, err
	}

	return &Store{ring: ring, name: opts.ServiceName}, nil
}

type openResult struct {
	ring keyring.Keyring
	err  error
}

func openWithTimeout(cfg keyring.Config, timeout time.Duration) (keyring.Keyring, error) {
	ch := make(chan openResult, 1)

	go func() {
		ring, err := keyring.Open(cfg)
		ch <- openResult{ring, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("failed to open keyring: %w", res.err)
		}
		return res.ring, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("keyring open timed out after %v; set secrets.backend=file to use encrypted file storage", timeout)
	}
}

// Set stores data under key, replacing any existing value
func (s *Store) Set(key string, data []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("missing secret key")
	}

	item := keyring.Item{
		Key:   key,
		Data:  data,
		Label: s.name,
	}
	if err := s.ring.Set(item); err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}

// Get reads the secret under key; ErrNotFound when absent
func (s *Store) Get(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("missing secret key")
	}

	item, err := s.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	return item.Data, nil
}

// Delete removes the secret under key; deleting a missing key is not an error
func (s *Store) Delete(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("missing secret key")
	}

	if err := s.ring.Remove(key); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}
