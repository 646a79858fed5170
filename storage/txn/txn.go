package txn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/jrife/plover/protocol"
	"github.com/jrife/plover/storage/kv"
	"github.com/jrife/plover/utils/log"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyInTransaction indicates a BEGIN while a transaction
	// is already active for the client
	ErrAlreadyInTransaction = errors.New("Already in transaction")
	// ErrNoTransaction indicates a COMMIT with no active transaction
	ErrNoTransaction = errors.New("no_transaction")
	// ErrNoActiveTransaction indicates a ROLLBACK with no active
	// transaction
	ErrNoActiveTransaction = errors.New("No active transaction")
)

// AtomicityError indicates that commit-time validation found a key in
// the read set whose committed value changed after it was first read
type AtomicityError struct {
	Key string
}

func (err *AtomicityError) Error() string {
	return fmt.Sprintf("Atomicity failure (%s)", err.Key)
}

// EngineConfig contains configuration for a transaction engine
type EngineConfig struct {
	// Logger is the logger used by the engine
	Logger *zap.Logger
	// Store is the committed store reads and writes resolve against
	Store kv.Store
	// Dir is the directory transaction records are persisted to
	Dir string
}

// Engine tracks one optimistic transaction per client. Reads inside a
// transaction record the value observed at first read; writes are
// buffered until commit. Commit validates the read set against the
// committed store and applies the write set through the store one key
// at a time, so each write is atomic but the group is not: concurrent
// observers may see a partial prefix of a commit's writes.
//
// Records are held in an in-memory map keyed by client id and written
// through to disk after every mutating operation, so a crash between
// operations leaves the transaction active. The engine's mutex guards
// only the record map: validation and write-back go through the
// store's own lock with no additional global lock held. A single
// client is expected to issue serial commands; concurrent commands
// under the same client id are not supported.
type Engine struct {
	logger  *zap.Logger
	store   kv.Store
	dir     string
	mu      sync.Mutex
	records map[string]*Record
}

// New creates a transaction engine persisting records under
// config.Dir, creating the directory if necessary
func New(config EngineConfig) (*Engine, error) {
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create transaction directory %s: %s", config.Dir, err.Error())
	}

	engine := &Engine{
		logger:  config.Logger,
		store:   config.Store,
		dir:     config.Dir,
		records: map[string]*Record{},
	}

	if engine.logger == nil {
		engine.logger = zap.L()
	}

	return engine, nil
}

// record returns the active record for client, consulting disk when
// the in-memory map has no entry so that records survive a restart.
// It returns nil if the client has no active transaction.
func (engine *Engine) record(client string) (*Record, error) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	if record, ok := engine.records[client]; ok {
		return record, nil
	}

	record, err := loadRecord(engine.dir, client)

	if err != nil {
		return nil, err
	}

	if record != nil {
		engine.records[client] = record
	}

	return record, nil
}

// insert registers a fresh record for client. It fails if a record
// already exists in memory or on disk.
func (engine *Engine) insert(client string, record *Record) error {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	if _, ok := engine.records[client]; ok {
		return ErrAlreadyInTransaction
	}

	existing, err := loadRecord(engine.dir, client)

	if err != nil {
		return err
	}

	if existing != nil {
		engine.records[client] = existing

		return ErrAlreadyInTransaction
	}

	if err := saveRecord(engine.dir, client, record); err != nil {
		return err
	}

	engine.records[client] = record

	return nil
}

// destroy removes the record for client from memory and disk
func (engine *Engine) destroy(client string) error {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	delete(engine.records, client)

	return removeRecord(engine.dir, client)
}

// Begin starts a transaction for client. It fails if the client is
// already in a transaction.
func (engine *Engine) Begin(ctx context.Context, client string) error {
	logger := log.WithContext(ctx, engine.logger).With(zap.String("operation", "Begin"))

	if err := engine.insert(client, newRecord()); err != nil {
		return err
	}

	logger.Debug("transaction started")

	return nil
}

// Commit validates the read set of the client's transaction against
// the committed store and, if every key still holds the value observed
// at first read, applies the write set in sequence and destroys the
// record. The first key that fails validation aborts the commit with
// an AtomicityError naming it; the record is destroyed either way so
// the client returns to the idle state.
func (engine *Engine) Commit(ctx context.Context, client string) error {
	logger := log.WithContext(ctx, engine.logger).With(zap.String("operation", "Commit"))

	record, err := engine.record(client)

	if err != nil {
		return err
	}

	if record == nil {
		return ErrNoTransaction
	}

	for _, key := range sortedKeys(record.Reads) {
		observed := record.Reads[key]
		current, found, err := engine.store.Get(ctx, key)

		if err != nil {
			return fmt.Errorf("could not validate key %s: %s", key, err.Error())
		}

		if !found {
			current = protocol.Nil()
		}

		if !current.Equal(observed) {
			logger.Debug("read set validation failed", zap.String("key", key))

			if err := engine.destroy(client); err != nil {
				return err
			}

			return &AtomicityError{Key: key}
		}
	}

	for _, key := range sortedKeys(record.Writes) {
		if _, _, err := engine.store.Set(ctx, key, record.Writes[key]); err != nil {
			return fmt.Errorf("could not apply write for key %s: %s", key, err.Error())
		}
	}

	logger.Debug("transaction committed",
		zap.Int("reads", len(record.Reads)),
		zap.Int("writes", len(record.Writes)))

	return engine.destroy(client)
}

// Rollback discards the client's transaction without applying any of
// its writes
func (engine *Engine) Rollback(ctx context.Context, client string) error {
	logger := log.WithContext(ctx, engine.logger).With(zap.String("operation", "Rollback"))

	record, err := engine.record(client)

	if err != nil {
		return err
	}

	if record == nil {
		return ErrNoActiveTransaction
	}

	logger.Debug("transaction rolled back")

	return engine.destroy(client)
}

// Get reads a key on behalf of client. Inside a transaction a pending
// write wins; otherwise the committed value is returned and recorded
// into the read set the first time the key is read. Outside a
// transaction the read goes straight to the store.
func (engine *Engine) Get(ctx context.Context, client string, key string) (protocol.Value, bool, error) {
	record, err := engine.record(client)

	if err != nil {
		return protocol.Value{}, false, err
	}

	if record == nil {
		return engine.store.Get(ctx, key)
	}

	if value, ok := record.Writes[key]; ok {
		return value, true, nil
	}

	value, found, err := engine.store.Get(ctx, key)

	if err != nil {
		return protocol.Value{}, false, err
	}

	if _, ok := record.Reads[key]; !ok {
		observed := value

		if !found {
			observed = protocol.Nil()
		}

		record.Reads[key] = observed

		if err := saveRecord(engine.dir, client, record); err != nil {
			return protocol.Value{}, false, err
		}
	}

	return value, found, nil
}

// Set writes a key on behalf of client. Inside a transaction the
// write is buffered in the write set; the returned old value is the
// current committed store value, read fresh. Outside a transaction
// the write goes straight to the store.
func (engine *Engine) Set(ctx context.Context, client string, key string, value protocol.Value) (protocol.Value, bool, error) {
	record, err := engine.record(client)

	if err != nil {
		return protocol.Value{}, false, err
	}

	if record == nil {
		return engine.store.Set(ctx, key, value)
	}

	old, hadOld, err := engine.store.Get(ctx, key)

	if err != nil {
		return protocol.Value{}, false, err
	}

	record.Writes[key] = value

	if err := saveRecord(engine.dir, client, record); err != nil {
		return protocol.Value{}, false, err
	}

	return old, hadOld, nil
}

// InTransaction returns true if client has an active transaction
func (engine *Engine) InTransaction(client string) (bool, error) {
	record, err := engine.record(client)

	if err != nil {
		return false, err
	}

	return record != nil, nil
}

func sortedKeys(m map[string]protocol.Value) []string {
	keys := make([]string, 0, len(m))

	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
