// Package msgpack provides a MessagePack payload codec for event
// serialization. MessagePack produces smaller payloads than JSON and is
// useful when event volume makes storage size matter.
package msgpack

import "github.com/vmihailenco/msgpack/v5"

// Codec implements gamestore.Codec using MessagePack encoding.
type Codec struct{}

// New creates a new MessagePack Codec.
func New() Codec { return Codec{} }

// Marshal encodes v as MessagePack.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unmarshal decodes MessagePack data into v.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}
