package mint

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/purrmint/purrmint/cashu/nuts/nut06"
	"github.com/purrmint/purrmint/mint/lightning"
	"github.com/purrmint/purrmint/signer"
	"github.com/tyler-smith/go-bip39"
)

type LogLevel int

const (
	Info LogLevel = iota
	Debug
	Disable
)

// DevMnemonic seeds the mint when neither a nostr key nor a mnemonic
// is configured. Never use it with real funds.
const DevMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type Config struct {
	// 64 byte seed for keyset derivation. See SeedFromSecretKey and SeedFromMnemonic.
	Seed              []byte
	DerivationPathIdx uint32
	Port              int
	MintPath          string
	InputFeePpk       uint
	MintInfo          MintInfo
	Limits            MintLimits
	LightningClient   lightning.Client
	LogLevel          LogLevel
}

type MintInfo struct {
	Name            string
	Pubkey          string
	Description     string
	LongDescription string
	Contact         []nut06.ContactInfo
	Motd            string
	IconURL         string
	URLs            []string
}

type MintMethodSettings struct {
	MinAmount uint64
	MaxAmount uint64
}

type MeltMethodSettings struct {
	MinAmount uint64
	MaxAmount uint64
}

type MintLimits struct {
	MaxBalance      uint64
	MintingSettings MintMethodSettings
	MeltingSettings MeltMethodSettings
}

// SeedFromSecretKey derives the mint seed from the operator's nostr
// secret key (nsec or hex) as SHA-512("Cashu Mint Seed" || key).
// The same key always yields the same keysets.
func SeedFromSecretKey(key string) ([]byte, error) {
	skHex, err := signer.ParseSecretKey(key)
	if err != nil {
		return nil, err
	}
	sk, err := hex.DecodeString(skHex)
	if err != nil {
		return nil, err
	}

	hasher := sha512.New()
	hasher.Write([]byte("Cashu Mint Seed"))
	hasher.Write(sk)
	return hasher.Sum(nil), nil
}

func SeedFromMnemonic(mnemonic string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %v", err)
	}
	return seed, nil
}
