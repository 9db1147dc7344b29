package signing

import (
	"bytes"
	"encoding/json"
)

// CanonicalJSON serializes v to a compact JSON byte string with object keys
// in sorted order, so the same logical payload always produces the same
// bytes and therefore the same signature.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	// Round-trip through any: encoding/json sorts map keys on marshal.
	var norm any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&norm); err != nil {
		return nil, err
	}
	return json.Marshal(norm)
}
