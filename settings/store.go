package settings

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sync"

	"github.com/mr-tron/base58"
)

// DefaultNetworkEntryPoint is the network entry point used before the user
// configures one.
const DefaultNetworkEntryPoint = "http://localhost:8899"

// Store exposes the wallet configuration: the network entry point the ledger
// client connects to and the account secret material. Consumers can
// subscribe to change notifications; the returned cancel func detaches the
// listener so a torn-down session never acts on a stale notification.
type Store interface {
	// NetworkEntryPoint returns the configured network entry point URL.
	NetworkEntryPoint() string

	// SetNetworkEntryPoint replaces the configured network entry point.
	SetNetworkEntryPoint(entryPoint string) error

	// AccountSecret returns the configured account secret material, or
	// nil when no account is configured.
	AccountSecret() []byte

	// SetAccountSecret replaces the account secret material.
	SetAccountSecret(secret []byte) error

	// Subscribe registers a change listener that fires after any setting
	// is replaced. The returned func detaches the listener.
	Subscribe(listener func()) (cancel func())
}

// storeFile is the JSON structure persisted by the file store.
type storeFile struct {
	NetworkEntryPoint string `json:"network_entry_point"`

	// AccountSecret is the base58 encoding of the secret material, empty
	// when no account is configured.
	AccountSecret string `json:"account_secret,omitempty"`
}

// listenerSet manages change subscriptions shared by both store flavors.
type listenerSet struct {
	listeners map[uint64]func()
	nextID    uint64
	mu        sync.Mutex
}

func newListenerSet() *listenerSet {
	return &listenerSet{
		listeners: make(map[uint64]func()),
	}
}

// subscribe adds a listener and returns its detach func.
func (l *listenerSet) subscribe(listener func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	l.listeners[id] = listener

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		delete(l.listeners, id)
	}
}

// notify invokes all registered listeners. Called without the store lock
// held so listeners can read back from the store.
func (l *listenerSet) notify() {
	l.mu.Lock()
	listeners := make([]func(), 0, len(l.listeners))
	for _, listener := range l.listeners {
		listeners = append(listeners, listener)
	}
	l.mu.Unlock()

	for _, listener := range listeners {
		listener()
	}
}

// validateEntryPoint rejects entry points that do not parse as absolute
// URLs. The funding channel compares and swaps entry points by origin, so a
// relative or schemeless value would poison those comparisons.
func validateEntryPoint(entryPoint string) error {
	parsed, err := url.Parse(entryPoint)
	if err != nil {
		return fmt.Errorf("invalid network entry point %q: %w",
			entryPoint, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("network entry point %q is not an "+
			"absolute URL", entryPoint)
	}

	return nil
}

// FileStore implements Store backed by a JSON file.
type FileStore struct {
	filePath string

	state     storeFile
	secret    []byte
	listeners *listenerSet
	mu        sync.RWMutex
}

// NewFileStore creates a file-backed settings store. A missing file is not
// an error; defaults apply until the first write creates it.
func NewFileStore(filePath string) (*FileStore, error) {
	store := &FileStore{
		filePath: filePath,
		state: storeFile{
			NetworkEntryPoint: DefaultNetworkEntryPoint,
		},
		listeners: newListenerSet(),
	}

	if err := store.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load settings: %w",
				err)
		}
	}

	return store, nil
}

// NetworkEntryPoint returns the configured network entry point URL.
func (s *FileStore) NetworkEntryPoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.NetworkEntryPoint
}

// SetNetworkEntryPoint replaces the configured network entry point.
func (s *FileStore) SetNetworkEntryPoint(entryPoint string) error {
	if err := validateEntryPoint(entryPoint); err != nil {
		return err
	}

	s.mu.Lock()
	s.state.NetworkEntryPoint = entryPoint
	err := s.save()
	s.mu.Unlock()

	if err != nil {
		return err
	}

	s.listeners.notify()

	return nil
}

// AccountSecret returns the configured account secret material.
func (s *FileStore) AccountSecret() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.secret == nil {
		return nil
	}

	secret := make([]byte, len(s.secret))
	copy(secret, s.secret)

	return secret
}

// SetAccountSecret replaces the account secret material.
func (s *FileStore) SetAccountSecret(secret []byte) error {
	s.mu.Lock()
	s.secret = append([]byte(nil), secret...)
	if len(secret) == 0 {
		s.secret = nil
		s.state.AccountSecret = ""
	} else {
		s.state.AccountSecret = base58.Encode(secret)
	}
	err := s.save()
	s.mu.Unlock()

	if err != nil {
		return err
	}

	s.listeners.notify()

	return nil
}

// Subscribe registers a change listener.
func (s *FileStore) Subscribe(listener func()) func() {
	return s.listeners.subscribe(listener)
}

// load reads the settings file.
func (s *FileStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var state storeFile
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	if state.NetworkEntryPoint == "" {
		state.NetworkEntryPoint = DefaultNetworkEntryPoint
	}

	var secret []byte
	if state.AccountSecret != "" {
		secret, err = base58.Decode(state.AccountSecret)
		if err != nil {
			return fmt.Errorf("failed to decode account "+
				"secret: %w", err)
		}
	}

	s.state = state
	s.secret = secret

	return nil
}

// save writes the settings file. Called with the write lock held.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(s.filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	return nil
}

// MemoryStore implements Store using in-memory state only.
type MemoryStore struct {
	entryPoint string
	secret     []byte
	listeners  *listenerSet
	mu         sync.RWMutex
}

// NewMemoryStore creates an in-memory settings store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entryPoint: DefaultNetworkEntryPoint,
		listeners:  newListenerSet(),
	}
}

// NetworkEntryPoint returns the configured network entry point URL.
func (s *MemoryStore) NetworkEntryPoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.entryPoint
}

// SetNetworkEntryPoint replaces the configured network entry point.
func (s *MemoryStore) SetNetworkEntryPoint(entryPoint string) error {
	if err := validateEntryPoint(entryPoint); err != nil {
		return err
	}

	s.mu.Lock()
	s.entryPoint = entryPoint
	s.mu.Unlock()

	s.listeners.notify()

	return nil
}

// AccountSecret returns the configured account secret material.
func (s *MemoryStore) AccountSecret() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.secret == nil {
		return nil
	}

	secret := make([]byte, len(s.secret))
	copy(secret, s.secret)

	return secret
}

// SetAccountSecret replaces the account secret material.
func (s *MemoryStore) SetAccountSecret(secret []byte) error {
	s.mu.Lock()
	if len(secret) == 0 {
		s.secret = nil
	} else {
		s.secret = append([]byte(nil), secret...)
	}
	s.mu.Unlock()

	s.listeners.notify()

	return nil
}

// Subscribe registers a change listener.
func (s *MemoryStore) Subscribe(listener func()) func() {
	return s.listeners.subscribe(listener)
}

// Compile time checks.
var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
