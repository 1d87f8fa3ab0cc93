package tokenstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Storage backend names accepted by NewStorage.
const (
	BackendFile    = "file"
	BackendKeyring = "keyring"
	BackendMemory  = "memory"
)

const (
	defaultDirName   = "observastack"
	defaultTokenFile = "tokens.json"
)

// DefaultPath returns the token file used by the file backend.
func DefaultPath() string {
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultDirName, defaultTokenFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+defaultDirName, defaultTokenFile)
}

// NewStorage returns the storage backend with the given name. An empty name
// selects the file backend.
func NewStorage(backend, path, keyringService string) (Storage, error) {
	switch backend {
	case "", BackendFile:
		if path == "" {
			path = DefaultPath()
		}
		return NewFileStorage(path), nil
	case BackendKeyring:
		return NewKeyringStorage(keyringService), nil
	case BackendMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown token storage backend: %s", backend)
	}
}

var (
	defaultOnce  sync.Once
	defaultStore *Store
)

// Default returns the process-wide Store, created on first use over the file
// backend at DefaultPath. It lives until process exit; ClearTokens is its only
// teardown. Components receive it by injection rather than calling Default.
func Default() *Store {
	defaultOnce.Do(func() {
		defaultStore = New(NewFileStorage(DefaultPath()))
	})
	return defaultStore
}
