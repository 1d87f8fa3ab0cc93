package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zalando/go-keyring"
)

var (
	// ErrNotFound is returned by Storage.Get when the key holds no value.
	ErrNotFound = errors.New("storage key not found")
	// ErrCorrupt is returned by Storage.Get when the backing data cannot be
	// parsed. Delete on the same key discards it.
	ErrCorrupt = errors.New("storage data is corrupt")
)

// Storage is a persistent string key/value scope.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// MemoryStorage keeps values in process memory only.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: map[string]string{}}
}

func (m *MemoryStorage) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// FileStorage stores all keys as one JSON object in a file readable by the
// current user only.
type FileStorage struct {
	Path string

	mu sync.Mutex
}

type fileContents struct {
	Entries map[string]string `json:"entries"`
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{Path: path}
}

func (f *FileStorage) load() (*fileContents, error) {
	content, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileContents{Entries: map[string]string{}}, nil
		}
		return nil, err
	}
	var contents fileContents
	if err := json.Unmarshal(content, &contents); err != nil {
		return nil, fmt.Errorf("failed to parse token file %s: %w: %v", f.Path, ErrCorrupt, err)
	}
	if contents.Entries == nil {
		contents.Entries = map[string]string{}
	}
	return &contents, nil
}

func (f *FileStorage) save(contents *fileContents) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	content, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token file: %w", err)
	}
	// Write then rename so readers never see a partially written file.
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

func (f *FileStorage) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	contents, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := contents.Entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *FileStorage) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	contents, err := f.load()
	if err != nil {
		// An unreadable file is replaced rather than blocking every future write.
		contents = &fileContents{Entries: map[string]string{}}
	}
	contents.Entries[key] = value
	return f.save(contents)
}

func (f *FileStorage) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	contents, err := f.load()
	if errors.Is(err, ErrCorrupt) {
		return os.Remove(f.Path)
	}
	if err != nil {
		return err
	}
	if _, ok := contents.Entries[key]; !ok {
		return nil
	}
	delete(contents.Entries, key)
	return f.save(contents)
}

// KeyringStorage stores values in the OS credential manager (macOS Keychain,
// Windows Credential Manager, Secret Service on Linux) under one service name.
type KeyringStorage struct {
	Service string
}

// DefaultKeyringService is the keyring service name used when none is configured.
const DefaultKeyringService = "observastack"

func NewKeyringStorage(service string) *KeyringStorage {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringStorage{Service: service}
}

func (k *KeyringStorage) Get(key string) (string, error) {
	v, err := keyring.Get(k.Service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read keyring entry: %w", err)
	}
	return v, nil
}

func (k *KeyringStorage) Set(key, value string) error {
	if err := keyring.Set(k.Service, key, value); err != nil {
		return fmt.Errorf("failed to write keyring entry: %w", err)
	}
	return nil
}

func (k *KeyringStorage) Delete(key string) error {
	if err := keyring.Delete(k.Service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keyring entry: %w", err)
	}
	return nil
}
