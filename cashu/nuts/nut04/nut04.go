// Package nut04 contains structs as defined in [NUT-04]
//
// [NUT-04]: https://github.com/cashubtc/nuts/blob/main/04.md
package nut04

import (
	"encoding/json"
	"fmt"

	"github.com/purrmint/purrmint/cashu"
)

type State int

const (
	Unpaid State = iota
	Paid
	Issued
	Unknown
)

func (state State) String() string {
	switch state {
	case Unpaid:
		return "UNPAID"
	case Paid:
		return "PAID"
	case Issued:
		return "ISSUED"
	default:
		return "unknown"
	}
}

func StringToState(state string) State {
	switch state {
	case "UNPAID":
		return Unpaid
	case "PAID":
		return Paid
	case "ISSUED":
		return Issued
	}
	return Unknown
}

func (state State) MarshalJSON() ([]byte, error) {
	return json.Marshal(state.String())
}

func (state *State) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed := StringToState(s)
	if parsed == Unknown {
		return fmt.Errorf("invalid mint quote state: %q", s)
	}
	*state = parsed
	return nil
}

type PostMintQuoteBolt11Request struct {
	Amount      uint64 `json:"amount"`
	Unit        string `json:"unit"`
	Description string `json:"description,omitempty"`
}

type PostMintQuoteBolt11Response struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	Amount  uint64 `json:"amount"`
	Unit    string `json:"unit"`
	State   State  `json:"state"`
	Expiry  uint64 `json:"expiry"`
}

type PostMintBolt11Request struct {
	Quote   string                `json:"quote"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostMintBolt11Response struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}
