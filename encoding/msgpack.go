// Package encoding provides the msgpack codec used for change envelopes.
// All msgpack operations go through this package so producers and tests
// agree on how values round-trip.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
//
// Type Preservation: When decoding into interface{}, msgpack strings decode as
// Go strings (not []byte), so document ids and field values compare equal to
// what the oplog delivered.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	// Map keys sorted so that equal documents encode to equal bytes
	enc.SetSortMapKeys(true)
	// Struct fields without a msgpack tag fall back to their json tag
	enc.SetCustomStructTag("json")

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data using loose interface decoding.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	dec.SetCustomStructTag("json")

	return dec.Decode(v)
}
