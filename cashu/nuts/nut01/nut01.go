// Package nut01 contains structs as defined in [NUT-01]
//
// [NUT-01]: https://github.com/cashubtc/nuts/blob/main/01.md
package nut01

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"strconv"
)

type GetKeysResponse struct {
	Keysets []Keyset `json:"keysets"`
}

type Keyset struct {
	Id   string  `json:"id"`
	Unit string  `json:"unit"`
	Keys KeysMap `json:"keys"`
}

// KeysMap is amount to hex encoded public key.
type KeysMap map[uint64]string

// MarshalJSON writes keys ordered by amount.
func (km KeysMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, amount := range slices.Sorted(maps.Keys(km)) {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(strconv.FormatUint(amount, 10)))
		buf.WriteByte(':')
		pubkey, err := json.Marshal(km[amount])
		if err != nil {
			return nil, err
		}
		buf.Write(pubkey)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
