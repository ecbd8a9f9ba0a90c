package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"

	"bestoffer/storage"
)

// Manager provides the deterministic-addressing persistence substrate for the
// settlement core: typed record accessors over a key-value store, the token
// ledger, and per-call atomicity via buffered units of work.
//
// Mutating units are serialized by a single mutex, giving the single-writer
// guarantee the settlement engine relies on. Reads issued inside a unit
// observe that unit's staged writes; reads outside a unit observe committed
// state.
type Manager struct {
	mu      sync.Mutex
	stageMu sync.RWMutex
	db      storage.Database
	stage   map[string][]byte
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var errNestedUnit = errors.New("state: unit of work already open")

// WithUnit runs fn as a single atomic unit of work: every write performed
// through the manager inside fn is buffered and committed together when fn
// returns nil, or discarded entirely when it returns an error. Units do not
// nest.
func (m *Manager) WithUnit(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stageMu.Lock()
	if m.stage != nil {
		m.stageMu.Unlock()
		return errNestedUnit
	}
	m.stage = make(map[string][]byte)
	m.stageMu.Unlock()

	defer func() {
		m.stageMu.Lock()
		m.stage = nil
		m.stageMu.Unlock()
	}()

	if err := fn(); err != nil {
		return err
	}

	m.stageMu.RLock()
	staged := m.stage
	m.stageMu.RUnlock()
	if len(staged) == 0 {
		return nil
	}
	batch := new(leveldb.Batch)
	for key, value := range staged {
		batch.Put([]byte(key), value)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit unit: %w", err)
	}
	return nil
}

func (m *Manager) write(key, value []byte) error {
	m.stageMu.Lock()
	defer m.stageMu.Unlock()
	if m.stage != nil {
		m.stage[string(key)] = append([]byte(nil), value...)
		return nil
	}
	return m.db.Put(key, value)
}

func (m *Manager) read(key []byte) ([]byte, bool, error) {
	m.stageMu.RLock()
	if m.stage != nil {
		if value, ok := m.stage[string(key)]; ok {
			m.stageMu.RUnlock()
			return append([]byte(nil), value...), true, nil
		}
	}
	m.stageMu.RUnlock()
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// kvKey hashes a prefixed record key into the flat storage namespace.
func kvKey(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte(nil), prefix...)
	for _, part := range parts {
		buf = append(buf, ':')
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

// kvPut RLP-encodes value and stores it under key.
func (m *Manager) kvPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.write(key, encoded)
}

// kvGet loads and RLP-decodes the value stored under key. The boolean result
// reports whether a record exists.
func (m *Manager) kvGet(key []byte, out interface{}) (bool, error) {
	data, ok, err := m.read(key)
	if err != nil || !ok {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}
