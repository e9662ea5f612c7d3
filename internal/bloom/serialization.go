package bloom

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

// encoded is the sidecar JSON form of a Filter. Data is the snappy
// compressed bit array; encoding/json renders it as base64.
type encoded struct {
	Algorithm string `json:"algorithm"`
	Bits      uint64 `json:"num_bits"`
	Hashes    uint64 `json:"num_hashes"`
	Count     int    `json:"count"`
	Data      []byte `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (f *Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(encoded{
		Algorithm: Algorithm,
		Bits:      f.m,
		Hashes:    f.k,
		Count:     f.length,
		Data:      snappy.Encode(nil, f.bits),
	})
}

// UnmarshalJSON implements json.Unmarshaler. Filters written with another
// algorithm or with inconsistent sizes are rejected.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var e encoded
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("bloom: %w", err)
	}
	if e.Algorithm != Algorithm {
		return fmt.Errorf("bloom: unsupported algorithm %q", e.Algorithm)
	}
	if e.Bits == 0 || e.Bits%8 != 0 || e.Hashes == 0 {
		return fmt.Errorf("bloom: invalid parameters bits=%d hashes=%d", e.Bits, e.Hashes)
	}
	if len(e.Data) == 0 {
		return errors.New("bloom: missing bit array")
	}

	bits, err := snappy.Decode(nil, e.Data)
	if err != nil {
		return fmt.Errorf("bloom: decompress bit array: %w", err)
	}
	if uint64(len(bits))*8 != e.Bits {
		return fmt.Errorf("bloom: expected %d bytes of bits, got %d", e.Bits/8, len(bits))
	}

	*f = Filter{bits: bits, m: e.Bits, k: e.Hashes, length: e.Count}
	return nil
}
