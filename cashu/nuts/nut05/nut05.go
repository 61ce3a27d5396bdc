// Package nut05 contains structs as defined in [NUT-05]
//
// [NUT-05]: https://github.com/cashubtc/nuts/blob/main/05.md
package nut05

import (
	"encoding/json"
	"fmt"

	"github.com/purrmint/purrmint/cashu"
)

type State int

const (
	Unpaid State = iota
	Pending
	Paid
	Unknown
)

func (state State) String() string {
	switch state {
	case Unpaid:
		return "UNPAID"
	case Pending:
		return "PENDING"
	case Paid:
		return "PAID"
	default:
		return "unknown"
	}
}

func StringToState(state string) State {
	switch state {
	case "UNPAID":
		return Unpaid
	case "PENDING":
		return Pending
	case "PAID":
		return Paid
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
		return fmt.Errorf("invalid melt quote state: %q", s)
	}
	*state = parsed
	return nil
}

type PostMeltQuoteBolt11Request struct {
	Request string `json:"request"`
	Unit    string `json:"unit"`
}

type PostMeltQuoteBolt11Response struct {
	Quote      string `json:"quote"`
	Request    string `json:"request,omitempty"`
	Amount     uint64 `json:"amount"`
	Unit       string `json:"unit"`
	FeeReserve uint64 `json:"fee_reserve"`
	State      State  `json:"state"`
	Expiry     uint64 `json:"expiry"`
	Preimage   string `json:"payment_preimage,omitempty"`
}

type PostMeltBolt11Request struct {
	Quote  string       `json:"quote"`
	Inputs cashu.Proofs `json:"inputs"`
}
