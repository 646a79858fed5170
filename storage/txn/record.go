package txn

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"

	"github.com/jrife/plover/protocol"
)

const recordFileSuffix = ".transaction"

// Record is the state of one client's active transaction. A record
// exists exactly while the client is between BEGIN and COMMIT or
// ROLLBACK.
type Record struct {
	// Reads maps each key read inside the transaction to the value
	// observed at first read. The nil sentinel records a key that
	// did not exist when it was read.
	Reads map[string]protocol.Value
	// Writes maps each key written inside the transaction to its
	// pending value. Pending values are never the nil sentinel.
	Writes map[string]protocol.Value
	// OriginalValues is reserved. It is carried in the serialized
	// form but never populated.
	OriginalValues map[string]protocol.Value
}

func newRecord() *Record {
	return &Record{
		Reads:          map[string]protocol.Value{},
		Writes:         map[string]protocol.Value{},
		OriginalValues: map[string]protocol.Value{},
	}
}

// recordPath maps a client id to the record's file. Client ids are
// opaque UTF-8 and may contain path separators, so the id is escaped
// before it becomes a file name.
func recordPath(dir string, client string) string {
	return filepath.Join(dir, url.PathEscape(client)+recordFileSuffix)
}

// saveRecord serializes the record for client and swaps it into place
// atomically. It is called after every mutating operation so that a
// crash between operations leaves the transaction active.
func saveRecord(dir string, client string, record *Record) error {
	var buffer bytes.Buffer

	if err := gob.NewEncoder(&buffer).Encode(record); err != nil {
		return fmt.Errorf("could not encode transaction record for %s: %s", client, err.Error())
	}

	tempFile, err := ioutil.TempFile(dir, url.PathEscape(client)+".*")

	if err != nil {
		return fmt.Errorf("could not create temp transaction file for %s: %s", client, err.Error())
	}

	if _, err := tempFile.Write(buffer.Bytes()); err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())

		return fmt.Errorf("could not write transaction file for %s: %s", client, err.Error())
	}

	if err := tempFile.Close(); err != nil {
		os.Remove(tempFile.Name())

		return fmt.Errorf("could not write transaction file for %s: %s", client, err.Error())
	}

	if err := os.Rename(tempFile.Name(), recordPath(dir, client)); err != nil {
		os.Remove(tempFile.Name())

		return fmt.Errorf("could not replace transaction file for %s: %s", client, err.Error())
	}

	return nil
}

// loadRecord reads the record for client from disk. It returns nil
// if no record exists.
func loadRecord(dir string, client string) (*Record, error) {
	data, err := ioutil.ReadFile(recordPath(dir, client))

	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("could not read transaction file for %s: %s", client, err.Error())
	}

	record := newRecord()

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(record); err != nil {
		return nil, fmt.Errorf("could not decode transaction file for %s: %s", client, err.Error())
	}

	return record, nil
}

// removeRecord deletes the record file for client
func removeRecord(dir string, client string) error {
	if err := os.Remove(recordPath(dir, client)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not remove transaction file for %s: %s", client, err.Error())
	}

	return nil
}
