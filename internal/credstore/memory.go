package credstore

import "sync"

// MemoryStore keeps credentials in process memory. Used by tests and by the
// CLI's --ephemeral mode.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[Kind]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Kind]string)}
}

func (m *MemoryStore) Get(kind Kind) (string, error) {
	if err := validKind(kind); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.entries[kind], nil
}

func (m *MemoryStore) Set(kind Kind, value string) error {
	if err := validKind(kind); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[kind] = value

	return nil
}

func (m *MemoryStore) SetPair(p Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[KindAccess] = p.Access
	m.entries[KindRefresh] = p.Refresh

	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.entries)

	return nil
}
