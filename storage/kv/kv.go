package kv

import (
	"context"

	"github.com/jrife/plover/protocol"
)

// PluginOptions contains driver-specific initialization options
type PluginOptions map[string]interface{}

// Plugin represents a kv storage plugin
type Plugin interface {
	// Name returns the name of the storage plugin
	Name() string
	// NewStore returns an instance of the plugin store
	NewStore(options PluginOptions) (Store, error)
	// NewTempStore returns an instance of the plugin store
	// initialized with some sane defaults. It is meant for
	// tests that need an initialized instance of the plugin's
	// store without knowing how to initialize it
	NewTempStore() (Store, error)
}

// Store is a durable map from keys to protocol values. Operations are
// linearizable: at most one operation is observable at a time across
// all clients and all processes that share the same backing directory.
// The nil sentinel is never a stored value.
type Store interface {
	// Get returns the value stored under key. The second return
	// value is false if the key does not exist.
	Get(ctx context.Context, key string) (protocol.Value, bool, error)
	// Set stores value under key and returns the value the key held
	// before the write. The second return value is false if the key
	// did not exist. Storing the nil sentinel is an error.
	Set(ctx context.Context, key string, value protocol.Value) (protocol.Value, bool, error)
	// Close releases any resources held by the store
	Close() error
	// Delete closes the store and removes its backing files
	Delete() error
}
