package file

import (
	"context"
	"fmt"
	"os"
	"time"
)

const lockRetryInterval = 10 * time.Millisecond

// sentinelLock is an advisory cross-process lock whose critical
// section is entered by exclusively creating the sentinel file.
// Losers back off and retry until the sentinel disappears or the
// context is canceled. The sentinel must not survive a successful
// operation, so Release is called on every exit path.
type sentinelLock struct {
	path string
}

// Acquire blocks until this process creates the sentinel file or the
// context is canceled. A sentinel left behind by a crashed holder
// blocks acquisition until it is removed out of band.
func (lock *sentinelLock) Acquire(ctx context.Context) error {
	for {
		f, err := os.OpenFile(lock.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)

		if err == nil {
			f.Close()

			return nil
		}

		if !os.IsExist(err) {
			return fmt.Errorf("could not create lock sentinel %s: %s", lock.path, err.Error())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// Release removes the sentinel file
func (lock *sentinelLock) Release() error {
	if err := os.Remove(lock.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not remove lock sentinel %s: %s", lock.path, err.Error())
	}

	return nil
}
