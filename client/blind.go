package client

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/purrmint/purrmint/cashu"
	"github.com/purrmint/purrmint/cashu/nuts/nut01"
	"github.com/purrmint/purrmint/crypto"
)

// Outputs are blinded messages for a mint request together with the
// secrets and blinding factors needed to unblind the signatures.
type Outputs struct {
	BlindedMessages cashu.BlindedMessages
	Secrets         []string
	Rs              []*secp256k1.PrivateKey
}

// CreateOutputs splits amount into powers of two and blinds a random
// secret for each.
func CreateOutputs(amount uint64, keysetId string) (Outputs, error) {
	splitAmounts := cashu.AmountSplit(amount)
	outputs := Outputs{
		BlindedMessages: make(cashu.BlindedMessages, len(splitAmounts)),
		Secrets:         make([]string, len(splitAmounts)),
		Rs:              make([]*secp256k1.PrivateKey, len(splitAmounts)),
	}

	for i, amt := range splitAmounts {
		var B_ *secp256k1.PublicKey
		var r *secp256k1.PrivateKey
		var secret string
		// generate random secret until it finds valid point
		for {
			secretBytes := make([]byte, 32)
			if _, err := rand.Read(secretBytes); err != nil {
				return Outputs{}, err
			}
			secret = hex.EncodeToString(secretBytes)

			var err error
			B_, r, err = crypto.BlindMessage(secret, nil)
			if err == nil {
				break
			}
		}

		outputs.BlindedMessages[i] = cashu.NewBlindedMessage(keysetId, amt, B_)
		outputs.Secrets[i] = secret
		outputs.Rs[i] = r
	}

	return outputs, nil
}

// ConstructProofs unblinds the signatures returned for the outputs, in
// the same order.
func (o Outputs) ConstructProofs(blindedSignatures cashu.BlindedSignatures, keyset nut01.Keyset) (cashu.Proofs, error) {
	if len(blindedSignatures) != len(o.Secrets) || len(blindedSignatures) != len(o.Rs) {
		return nil, errors.New("lengths do not match")
	}

	proofs := make(cashu.Proofs, len(blindedSignatures))
	for i, blindedSignature := range blindedSignatures {
		C_bytes, err := hex.DecodeString(blindedSignature.C_)
		if err != nil {
			return nil, err
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, err
		}

		keyHex, ok := keyset.Keys[blindedSignature.Amount]
		if !ok {
			return nil, fmt.Errorf("key for amount %v not found", blindedSignature.Amount)
		}
		keyBytes, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, err
		}
		K, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return nil, err
		}

		C := crypto.UnblindSignature(C_, o.Rs[i], K)
		proofs[i] = cashu.Proof{
			Amount: blindedSignature.Amount,
			Id:     blindedSignature.Id,
			Secret: o.Secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
	}

	return proofs, nil
}
