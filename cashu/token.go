package cashu

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const tokenV4Prefix = "cashuB"

// TokenV4 is the CBOR token format. See https://github.com/cashubtc/nuts/blob/main/00.md#v4-tokens
type TokenV4 struct {
	TokenProofs []TokenV4Proof `json:"t"`
	Memo        string         `json:"d,omitempty"`
	MintURL     string         `json:"m"`
	Unit        string         `json:"u"`
}

type TokenV4Proof struct {
	Id     []byte    `json:"i"`
	Proofs []ProofV4 `json:"p"`
}

type ProofV4 struct {
	Amount uint64 `json:"a"`
	Secret string `json:"s"`
	C      []byte `json:"c"`
}

// NewTokenV4 groups proofs by keyset. mint is the mint URL, or for a
// mint reached over NIP-74, its npub.
func NewTokenV4(proofs Proofs, mint string, unit Unit) (TokenV4, error) {
	if unit != Sat {
		return TokenV4{}, ErrInvalidUnit
	}

	proofsByKeyset := make(map[string][]ProofV4)
	for _, proof := range proofs {
		C, err := hex.DecodeString(proof.C)
		if err != nil {
			return TokenV4{}, fmt.Errorf("invalid C: %v", err)
		}
		proofsByKeyset[proof.Id] = append(proofsByKeyset[proof.Id], ProofV4{
			Amount: proof.Amount,
			Secret: proof.Secret,
			C:      C,
		})
	}

	keysetIds := make([]string, 0, len(proofsByKeyset))
	for id := range proofsByKeyset {
		keysetIds = append(keysetIds, id)
	}
	sort.Strings(keysetIds)

	tokenProofs := make([]TokenV4Proof, 0, len(keysetIds))
	for _, id := range keysetIds {
		idBytes, err := hex.DecodeString(id)
		if err != nil {
			return TokenV4{}, fmt.Errorf("invalid keyset id: %v", err)
		}
		tokenProofs = append(tokenProofs, TokenV4Proof{Id: idBytes, Proofs: proofsByKeyset[id]})
	}

	return TokenV4{MintURL: mint, Unit: unit.String(), TokenProofs: tokenProofs}, nil
}

func DecodeTokenV4(tokenstr string) (*TokenV4, error) {
	tokenstr = strings.TrimSpace(tokenstr)
	if !strings.HasPrefix(tokenstr, tokenV4Prefix) {
		return nil, ErrInvalidTokenV4
	}
	base64Token := tokenstr[len(tokenV4Prefix):]

	tokenBytes, err := base64.URLEncoding.DecodeString(base64Token)
	if err != nil {
		tokenBytes, err = base64.RawURLEncoding.DecodeString(base64Token)
		if err != nil {
			return nil, fmt.Errorf("error decoding token: %v", err)
		}
	}

	var token TokenV4
	if err := cbor.Unmarshal(tokenBytes, &token); err != nil {
		return nil, fmt.Errorf("cbor.Unmarshal: %v", err)
	}
	return &token, nil
}

func (t TokenV4) Proofs() Proofs {
	proofs := make(Proofs, 0)
	for _, tokenProof := range t.TokenProofs {
		keysetId := hex.EncodeToString(tokenProof.Id)
		for _, p := range tokenProof.Proofs {
			proofs = append(proofs, Proof{
				Amount: p.Amount,
				Id:     keysetId,
				Secret: p.Secret,
				C:      hex.EncodeToString(p.C),
			})
		}
	}
	return proofs
}

func (t TokenV4) Amount() uint64 {
	return t.Proofs().Amount()
}

func (t TokenV4) Serialize() (string, error) {
	cborData, err := cbor.Marshal(t)
	if err != nil {
		return "", err
	}
	return tokenV4Prefix + base64.RawURLEncoding.EncodeToString(cborData), nil
}

// MarshalJSON shows ids and signatures as hex when a token is printed.
func (tp TokenV4Proof) MarshalJSON() ([]byte, error) {
	type proofJSON struct {
		Amount uint64 `json:"a"`
		Secret string `json:"s"`
		C      string `json:"c"`
	}
	proofs := make([]proofJSON, len(tp.Proofs))
	for i, p := range tp.Proofs {
		proofs[i] = proofJSON{Amount: p.Amount, Secret: p.Secret, C: hex.EncodeToString(p.C)}
	}
	return json.Marshal(struct {
		Id     string      `json:"i"`
		Proofs []proofJSON `json:"p"`
	}{
		Id:     hex.EncodeToString(tp.Id),
		Proofs: proofs,
	})
}
