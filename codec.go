package gamestore

import "encoding/json"

// JSONCodec is the default payload codec. Payloads written as JSON are
// readable with standard tooling, which matters for an audit log.
type JSONCodec struct{}

// Marshal encodes v as JSON.
func (JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes JSON data into v.
func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
