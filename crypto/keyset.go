package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const maxOrder = 64

type MintKeyset struct {
	Id                string
	Unit              string
	Active            bool
	DerivationPathIdx uint32
	Keys              map[uint64]KeyPair
	InputFeePpk       uint
}

type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// GenerateKeyset derives the keys for amounts 2^0..2^63 at
// m/0'/0'/index'/i' from the master key.
func GenerateKeyset(master *hdkeychain.ExtendedKey, index uint32, inputFeePpk uint, active bool) (*MintKeyset, error) {
	// purpose m/0'
	purpose, err := master.Derive(hdkeychain.HardenedKeyStart)
	if err != nil {
		return nil, err
	}
	// unit sat m/0'/0'
	unitPath, err := purpose.Derive(hdkeychain.HardenedKeyStart)
	if err != nil {
		return nil, err
	}
	keysetPath, err := unitPath.Derive(hdkeychain.HardenedKeyStart + index)
	if err != nil {
		return nil, err
	}

	keys := make(map[uint64]KeyPair, maxOrder)
	for i := 0; i < maxOrder; i++ {
		amount := uint64(1) << i
		amountPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + uint32(i))
		if err != nil {
			return nil, err
		}

		privKey, err := amountPath.ECPrivKey()
		if err != nil {
			return nil, err
		}
		keys[amount] = KeyPair{PrivateKey: privKey, PublicKey: privKey.PubKey()}
	}

	publicKeys := make(map[uint64]*secp256k1.PublicKey, len(keys))
	for amount, key := range keys {
		publicKeys[amount] = key.PublicKey
	}

	return &MintKeyset{
		Id:                DeriveKeysetId(publicKeys),
		Unit:              "sat",
		Active:            active,
		DerivationPathIdx: index,
		Keys:              keys,
		InputFeePpk:       inputFeePpk,
	}, nil
}

// DeriveKeysetId returns "00" followed by the first 14 hex characters of
// the sha256 of the public keys concatenated in amount order.
func DeriveKeysetId(keyset map[uint64]*secp256k1.PublicKey) string {
	pubkeys := make([]byte, 0, len(keyset)*33)
	for _, amount := range slices.Sorted(maps.Keys(keyset)) {
		pubkeys = append(pubkeys, keyset[amount].SerializeCompressed()...)
	}
	hash := sha256.Sum256(pubkeys)
	return "00" + hex.EncodeToString(hash[:])[:14]
}

// PublicKeys returns the keyset public keys as hex by amount.
func (ks *MintKeyset) PublicKeys() map[uint64]string {
	pubkeys := make(map[uint64]string, len(ks.Keys))
	for amount, key := range ks.Keys {
		pubkeys[amount] = hex.EncodeToString(key.PublicKey.SerializeCompressed())
	}
	return pubkeys
}
