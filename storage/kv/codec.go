package kv

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/jrife/plover/protocol"
)

// EncodeValue serializes a single value. The encoding is
// self-describing and stable across processes of this implementation.
func EncodeValue(value protocol.Value) ([]byte, error) {
	var buffer bytes.Buffer

	if err := gob.NewEncoder(&buffer).Encode(value); err != nil {
		return nil, fmt.Errorf("could not encode value: %s", err.Error())
	}

	return buffer.Bytes(), nil
}

// DecodeValue deserializes a value encoded with EncodeValue
func DecodeValue(data []byte) (protocol.Value, error) {
	var value protocol.Value

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&value); err != nil {
		return protocol.Value{}, fmt.Errorf("could not decode value: %s", err.Error())
	}

	return value, nil
}
