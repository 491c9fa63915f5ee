package util

import "encoding/json"

// DecodeJSON normalises a bus payload into dst: raw JSON bytes and strings
// are unmarshalled directly, anything else takes a marshal round-trip.
func DecodeJSON[T any](src any, dst *T) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}
