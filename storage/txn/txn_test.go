package txn_test

import (
	"context"
	"io/ioutil"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/plover/protocol"
	"github.com/jrife/plover/storage/kv"
	"github.com/jrife/plover/storage/kv/plugins"
	"github.com/jrife/plover/storage/txn"
)

func tempEngine(t *testing.T) (*txn.Engine, kv.Store, string, func()) {
	t.Helper()

	store, err := plugins.Plugin("file").NewTempStore()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	dir, err := ioutil.TempDir("", "plover-txn-test-")

	if err != nil {
		store.Delete()
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	engine, err := txn.New(txn.EngineConfig{Store: store, Dir: dir})

	if err != nil {
		store.Delete()
		os.RemoveAll(dir)
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	return engine, store, dir, func() {
		store.Delete()
		os.RemoveAll(dir)
	}
}

func TestStateMachine(t *testing.T) {
	engine, _, _, cleanup := tempEngine(t)
	defer cleanup()

	ctx := context.Background()

	if err := engine.Commit(ctx, "a"); err != txn.ErrNoTransaction {
		t.Fatalf("expected ErrNoTransaction, got %#v", err)
	}

	if err := engine.Rollback(ctx, "a"); err != txn.ErrNoActiveTransaction {
		t.Fatalf("expected ErrNoActiveTransaction, got %#v", err)
	}

	if err := engine.Begin(ctx, "a"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := engine.Begin(ctx, "a"); err != txn.ErrAlreadyInTransaction {
		t.Fatalf("expected ErrAlreadyInTransaction, got %#v", err)
	}

	if err := engine.Rollback(ctx, "a"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := engine.Commit(ctx, "a"); err != txn.ErrNoTransaction {
		t.Fatalf("expected ErrNoTransaction after rollback, got %#v", err)
	}
}

func TestWritesInvisibleUntilCommit(t *testing.T) {
	engine, _, _, cleanup := tempEngine(t)
	defer cleanup()

	ctx := context.Background()

	if err := engine.Begin(ctx, "a"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, _, err := engine.Set(ctx, "a", "tx_key", protocol.String("v")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, found, err := engine.Get(ctx, "b", "tx_key"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	} else if found {
		t.Fatalf("expected pending write to be invisible to other clients")
	}

	if err := engine.Commit(ctx, "a"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	value, found, err := engine.Get(ctx, "b", "tx_key")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if !found {
		t.Fatalf("expected committed write to be visible")
	}

	if diff := cmp.Diff(protocol.String("v"), value); diff != "" {
		t.Fatalf("value differs: %s", diff)
	}
}

func TestReadYourOwnWrites(t *testing.T) {
	engine, _, _, cleanup := tempEngine(t)
	defer cleanup()

	ctx := context.Background()

	if _, _, err := engine.Set(ctx, "a", "k", protocol.String("committed")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := engine.Begin(ctx, "a"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, _, err := engine.Set(ctx, "a", "k", protocol.String("pending")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	value, found, err := engine.Get(ctx, "a", "k")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if !found {
		t.Fatalf("expected key to exist")
	}

	if diff := cmp.Diff(protocol.String("pending"), value); diff != "" {
		t.Fatalf("expected the pending write, got: %s", diff)
	}
}

func TestSetInTransactionReturnsCommittedOldValue(t *testing.T) {
	engine, _, _, cleanup := tempEngine(t)
	defer cleanup()

	ctx := context.Background()

	if _, _, err := engine.Set(ctx, "a", "k", protocol.Integer(1)); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := engine.Begin(ctx, "a"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, _, err := engine.Set(ctx, "a", "k", protocol.Integer(2)); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	// The old value comes from the committed store, not the write set
	old, hadOld, err := engine.Set(ctx, "a", "k", protocol.Integer(3))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if !hadOld {
		t.Fatalf("expected an old value")
	}

	if diff := cmp.Diff(protocol.Integer(1), old); diff != "" {
		t.Fatalf("old value differs: %s", diff)
	}
}

func TestAtomicityFailure(t *testing.T) {
	engine, _, _, cleanup := tempEngine(t)
	defer cleanup()

	ctx := context.Background()

	if _, _, err := engine.Set(ctx, "a", "atomic_key", protocol.String("initial")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := engine.Begin(ctx, "a"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	value, _, err := engine.Get(ctx, "a", "atomic_key")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff(protocol.String("initial"), value); diff != "" {
		t.Fatalf("value differs: %s", diff)
	}

	old, _, err := engine.Set(ctx, "b", "atomic_key", protocol.String("modified"))

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff(protocol.String("initial"), old); diff != "" {
		t.Fatalf("old value differs: %s", diff)
	}

	err = engine.Commit(ctx, "a")

	if err == nil {
		t.Fatalf("expected commit to fail validation")
	}

	expected := "Atomicity failure (atomic_key)"

	if err.Error() != expected {
		t.Fatalf("expected error %q, got %q", expected, err.Error())
	}

	// A failed commit destroys the record: the client is idle again
	if err := engine.Commit(ctx, "a"); err != txn.ErrNoTransaction {
		t.Fatalf("expected ErrNoTransaction after failed commit, got %#v", err)
	}
}

func TestObservedMissingKeyFailsValidationWhenCreated(t *testing.T) {
	engine, _, _, cleanup := tempEngine(t)
	defer cleanup()

	ctx := context.Background()

	if err := engine.Begin(ctx, "a"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, found, err := engine.Get(ctx, "a", "k"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	} else if found {
		t.Fatalf("expected key to be missing")
	}

	if _, _, err := engine.Set(ctx, "b", "k", protocol.String("v")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := engine.Commit(ctx, "a"); err == nil {
		t.Fatalf("expected commit to fail validation")
	}
}

func TestDisjointCommittersBothSucceed(t *testing.T) {
	engine, _, _, cleanup := tempEngine(t)
	defer cleanup()

	ctx := context.Background()

	for _, client := range []string{"a", "b"} {
		if err := engine.Begin(ctx, client); err != nil {
			t.Fatalf("expected err to be nil, got %#v", err)
		}
	}

	if _, _, err := engine.Set(ctx, "a", "ka", protocol.Integer(1)); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, _, err := engine.Set(ctx, "b", "kb", protocol.Integer(2)); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := engine.Commit(ctx, "a"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := engine.Commit(ctx, "b"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	engine, _, _, cleanup := tempEngine(t)
	defer cleanup()

	ctx := context.Background()

	if err := engine.Begin(ctx, "a"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, _, err := engine.Set(ctx, "a", "k", protocol.String("v")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := engine.Rollback(ctx, "a"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, found, err := engine.Get(ctx, "a", "k"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	} else if found {
		t.Fatalf("expected rolled back write to be discarded")
	}
}

func TestRecordsSurviveRestart(t *testing.T) {
	engine, store, dir, cleanup := tempEngine(t)
	defer cleanup()

	ctx := context.Background()

	if err := engine.Begin(ctx, "a"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, _, err := engine.Set(ctx, "a", "k", protocol.String("v")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	// A new engine over the same directory sees the active transaction
	restarted, err := txn.New(txn.EngineConfig{Store: store, Dir: dir})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if inTxn, err := restarted.InTransaction("a"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	} else if !inTxn {
		t.Fatalf("expected the transaction to still be active")
	}

	if err := restarted.Commit(ctx, "a"); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	value, found, err := store.Get(ctx, "k")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if !found {
		t.Fatalf("expected committed write to be in the store")
	}

	if diff := cmp.Diff(protocol.String("v"), value); diff != "" {
		t.Fatalf("value differs: %s", diff)
	}
}

func TestClientIDsAreEscapedInRecordPaths(t *testing.T) {
	engine, _, _, cleanup := tempEngine(t)
	defer cleanup()

	ctx := context.Background()
	client := "../escape/../../attempt"

	if err := engine.Begin(ctx, client); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if _, _, err := engine.Set(ctx, client, "k", protocol.String("v")); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := engine.Commit(ctx, client); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}
}
