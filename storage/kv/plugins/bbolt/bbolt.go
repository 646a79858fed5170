package bbolt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jrife/plover/protocol"
	"github.com/jrife/plover/storage/kv"
	"github.com/jrife/plover/utils/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	// DriverName is the name this plugin registers under
	DriverName = "bbolt"
)

var keysBucket = []byte("keys")

// Plugins returns the plugins implemented by this package
func Plugins() []kv.Plugin {
	return []kv.Plugin{
		&BBoltPlugin{},
	}
}

// BBoltPlugin is the kv.Plugin for bbolt stores. It exists because
// the file driver's lock sentinel does not survive a crashed holder:
// bbolt holds an OS advisory lock on its database file that the
// operating system releases when the process exits.
type BBoltPlugin struct {
}

// Name implements Plugin.Name
func (plugin *BBoltPlugin) Name() string {
	return DriverName
}

// NewStore implements Plugin.NewStore
func (plugin *BBoltPlugin) NewStore(options kv.PluginOptions) (kv.Store, error) {
	var config StoreConfig

	if path, ok := options["path"]; !ok {
		return nil, fmt.Errorf("\"path\" is required")
	} else if pathString, ok := path.(string); !ok {
		return nil, fmt.Errorf("\"path\" must be a string")
	} else {
		config.Dir = pathString
	}

	return New(config)
}

// NewTempStore implements Plugin.NewTempStore
func (plugin *BBoltPlugin) NewTempStore() (kv.Store, error) {
	return plugin.NewStore(kv.PluginOptions{
		"path": filepath.Join(os.TempDir(), fmt.Sprintf("plover-bbolt-%s", uuid.MustUUID())),
	})
}

// StoreConfig contains configuration for a bbolt store
type StoreConfig struct {
	// Dir is the directory holding the database file
	Dir string
}

var _ kv.Store = (*Store)(nil)

// Store is a kv.Store backed by a single bbolt database
type Store struct {
	db *bolt.DB
}

// New creates a bbolt store rooted at config.Dir, creating the
// directory if necessary
func New(config StoreConfig) (*Store, error) {
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create store directory %s: %s", config.Dir, err.Error())
	}

	path := filepath.Join(config.Dir, "storage.db")
	db, err := bolt.Open(path, 0666, nil)

	if err != nil {
		return nil, fmt.Errorf("could not open bbolt store at %s: %s", path, err.Error())
	}

	if err := db.Update(func(txn *bolt.Tx) error {
		_, err := txn.CreateBucketIfNotExists(keysBucket)

		return err
	}); err != nil {
		db.Close()

		return nil, fmt.Errorf("could not ensure keys bucket exists: %s", err.Error())
	}

	return &Store{db: db}, nil
}

// Get implements Store.Get
func (store *Store) Get(ctx context.Context, key string) (protocol.Value, bool, error) {
	var value protocol.Value
	var found bool

	if err := store.db.View(func(txn *bolt.Tx) error {
		data := txn.Bucket(keysBucket).Get([]byte(key))

		if data == nil {
			return nil
		}

		decoded, err := kv.DecodeValue(data)

		if err != nil {
			return err
		}

		value = decoded
		found = true

		return nil
	}); err != nil {
		return protocol.Value{}, false, fmt.Errorf("could not read key %s: %s", key, err.Error())
	}

	return value, found, nil
}

// Set implements Store.Set
func (store *Store) Set(ctx context.Context, key string, value protocol.Value) (protocol.Value, bool, error) {
	if value.IsNil() {
		return protocol.Value{}, false, fmt.Errorf("nil is not a storable value")
	}

	var old protocol.Value
	var hadOld bool

	if err := store.db.Update(func(txn *bolt.Tx) error {
		bucket := txn.Bucket(keysBucket)
		data := bucket.Get([]byte(key))

		if data != nil {
			decoded, err := kv.DecodeValue(data)

			if err != nil {
				return err
			}

			old = decoded
			hadOld = true
		}

		encoded, err := kv.EncodeValue(value)

		if err != nil {
			return err
		}

		return bucket.Put([]byte(key), encoded)
	}); err != nil {
		return protocol.Value{}, false, fmt.Errorf("could not write key %s: %s", key, err.Error())
	}

	return old, hadOld, nil
}

// Close implements Store.Close
func (store *Store) Close() error {
	return store.db.Close()
}

// Delete implements Store.Delete
func (store *Store) Delete() error {
	path := store.db.Path()

	if err := store.Close(); err != nil {
		return fmt.Errorf("could not close store: %s", err.Error())
	}

	if err := os.RemoveAll(filepath.Dir(path)); err != nil {
		return fmt.Errorf("could not remove path %s: %s", path, err.Error())
	}

	return nil
}
