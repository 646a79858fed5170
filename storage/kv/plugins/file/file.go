package file

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/jrife/plover/protocol"
	"github.com/jrife/plover/storage/kv"
	"github.com/jrife/plover/utils/uuid"
	"go.uber.org/zap"
)

const (
	// DriverName is the name this plugin registers under
	DriverName = "file"

	storeFileName = "storage.dat"
	lockFileName  = "storage.lock"
)

// Plugins returns the plugins implemented by this package
func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&FilePlugin{},
	}
}

// FilePlugin is the kv.Plugin for single-file stores
type FilePlugin struct {
}

// Name implements Plugin.Name
func (plugin *FilePlugin) Name() string {
	return DriverName
}

// NewStore implements Plugin.NewStore
func (plugin *FilePlugin) NewStore(options kv.PluginOptions) (kv.Store, error) {
	var config StoreConfig

	if path, ok := options["path"]; !ok {
		return nil, fmt.Errorf("\"path\" is required")
	} else if pathString, ok := path.(string); !ok {
		return nil, fmt.Errorf("\"path\" must be a string")
	} else {
		config.Dir = pathString
	}

	if logger, ok := options["logger"]; ok {
		if l, ok := logger.(*zap.Logger); ok {
			config.Logger = l
		}
	}

	return New(config)
}

// NewTempStore implements Plugin.NewTempStore
func (plugin *FilePlugin) NewTempStore() (kv.Store, error) {
	return plugin.NewStore(kv.PluginOptions{
		"path": filepath.Join(os.TempDir(), fmt.Sprintf("plover-file-%s", uuid.MustUUID())),
	})
}

// StoreConfig contains configuration for a file store
type StoreConfig struct {
	// Dir is the directory holding the store file and the
	// lock sentinel
	Dir string
	// Logger is the logger used by the store
	Logger *zap.Logger
}

var _ kv.Store = (*Store)(nil)

// Store materializes the whole key-value map as one file. Every
// operation reads the file under an exclusive lock, and Set applies
// its change and writes the file back before releasing it: the lock
// sentinel serializes
// operations across processes and the mutex serializes goroutines
// within this process so they don't spin on the sentinel.
type Store struct {
	dir    string
	logger *zap.Logger
	lock   sentinelLock
	mu     sync.Mutex
}

// New creates a file store rooted at config.Dir, creating the
// directory if necessary
func New(config StoreConfig) (*Store, error) {
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create store directory %s: %s", config.Dir, err.Error())
	}

	store := &Store{
		dir:    config.Dir,
		logger: config.Logger,
		lock:   sentinelLock{path: filepath.Join(config.Dir, lockFileName)},
	}

	if store.logger == nil {
		store.logger = zap.L()
	}

	return store, nil
}

// imageEntry is one key-value pair in the serialized store image
type imageEntry struct {
	Key   string
	Value protocol.Value
}

// Get implements Store.Get
func (store *Store) Get(ctx context.Context, key string) (protocol.Value, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if err := store.lock.Acquire(ctx); err != nil {
		return protocol.Value{}, false, fmt.Errorf("could not acquire store lock: %s", err.Error())
	}

	defer store.lock.Release()

	image := store.load()
	value, ok := image.Get(key)

	if !ok {
		return protocol.Value{}, false, nil
	}

	return value.(protocol.Value), true, nil
}

// Set implements Store.Set
func (store *Store) Set(ctx context.Context, key string, value protocol.Value) (protocol.Value, bool, error) {
	if value.IsNil() {
		return protocol.Value{}, false, fmt.Errorf("nil is not a storable value")
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	if err := store.lock.Acquire(ctx); err != nil {
		return protocol.Value{}, false, fmt.Errorf("could not acquire store lock: %s", err.Error())
	}

	defer store.lock.Release()

	image := store.load()
	old, hadOld := image.Get(key)
	image.Put(key, value)

	if err := store.save(image); err != nil {
		return protocol.Value{}, false, err
	}

	if !hadOld {
		return protocol.Value{}, false, nil
	}

	return old.(protocol.Value), true, nil
}

// load reads the store image from disk. A missing or unreadable file
// is an empty store.
func (store *Store) load() *treemap.Map {
	image := treemap.NewWithStringComparator()
	data, err := ioutil.ReadFile(filepath.Join(store.dir, storeFileName))

	if err != nil {
		if !os.IsNotExist(err) {
			store.logger.Warn("could not read store file, treating store as empty", zap.Error(err))
		}

		return image
	}

	var entries []imageEntry

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
		store.logger.Warn("could not decode store file, treating store as empty", zap.Error(err))

		return image
	}

	for _, entry := range entries {
		image.Put(entry.Key, entry.Value)
	}

	return image
}

// save serializes the store image in ascending key order and swaps it
// into place atomically
func (store *Store) save(image *treemap.Map) error {
	entries := make([]imageEntry, 0, image.Size())
	iter := image.Iterator()

	for iter.Next() {
		entries = append(entries, imageEntry{
			Key:   iter.Key().(string),
			Value: iter.Value().(protocol.Value),
		})
	}

	tempFile, err := ioutil.TempFile(store.dir, storeFileName+".*")

	if err != nil {
		return fmt.Errorf("could not create temp store file: %s", err.Error())
	}

	if err := gob.NewEncoder(tempFile).Encode(entries); err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())

		return fmt.Errorf("could not serialize store image: %s", err.Error())
	}

	if err := tempFile.Close(); err != nil {
		os.Remove(tempFile.Name())

		return fmt.Errorf("could not write store file: %s", err.Error())
	}

	if err := os.Rename(tempFile.Name(), filepath.Join(store.dir, storeFileName)); err != nil {
		os.Remove(tempFile.Name())

		return fmt.Errorf("could not replace store file: %s", err.Error())
	}

	return nil
}

// Close implements Store.Close
func (store *Store) Close() error {
	return nil
}

// Delete implements Store.Delete
func (store *Store) Delete() error {
	if err := os.RemoveAll(store.dir); err != nil {
		return fmt.Errorf("could not remove store directory %s: %s", store.dir, err.Error())
	}

	return nil
}
