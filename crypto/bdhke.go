// Package crypto implements the blind Diffie-Hellman key exchange used by
// Cashu and the derivation of mint keysets.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const domainSeparator = "Secp256k1_HashToCurve_Cashu_"

var ErrNoValidPoint = errors.New("no valid point found")

// HashToCurve maps a message to a point on the curve.
// Y = PublicKey('02' || SHA256(SHA256(domainSeparator || message) || counter))
func HashToCurve(message []byte) (*secp256k1.PublicKey, error) {
	msgHash := sha256.Sum256(append([]byte(domainSeparator), message...))

	var counter [4]byte
	for i := uint32(0); i < 1<<16; i++ {
		binary.LittleEndian.PutUint32(counter[:], i)
		hash := sha256.Sum256(append(msgHash[:], counter[:]...))

		pkhash := append([]byte{0x02}, hash[:]...)
		point, err := secp256k1.ParsePubKey(pkhash)
		if err == nil && point.IsOnCurve() {
			return point, nil
		}
	}
	return nil, ErrNoValidPoint
}

// B_ = Y + rG
func BlindMessage(secret string, r *secp256k1.PrivateKey) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	var ypoint, rpoint, blindedMessage secp256k1.JacobianPoint

	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return nil, nil, err
	}
	// random blinding factor when none is given
	if r == nil {
		r, err = secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, err
		}
	}
	Y.AsJacobian(&ypoint)
	r.PubKey().AsJacobian(&rpoint)

	secp256k1.AddNonConst(&ypoint, &rpoint, &blindedMessage)
	blindedMessage.ToAffine()
	B_ := secp256k1.NewPublicKey(&blindedMessage.X, &blindedMessage.Y)

	return B_, r, nil
}

// C_ = kB_
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bpoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)

	secp256k1.ScalarMultNonConst(&k.Key, &bpoint, &result)
	result.ToAffine()
	return secp256k1.NewPublicKey(&result.X, &result.Y)
}

// C = C_ - rK
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey,
	K *secp256k1.PublicKey) *secp256k1.PublicKey {

	var Kpoint, rKPoint, CPoint secp256k1.JacobianPoint
	K.AsJacobian(&Kpoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)

	secp256k1.ScalarMultNonConst(&rNeg, &Kpoint, &rKPoint)

	var C_Point secp256k1.JacobianPoint
	C_.AsJacobian(&C_Point)
	secp256k1.AddNonConst(&C_Point, &rKPoint, &CPoint)
	CPoint.ToAffine()

	return secp256k1.NewPublicKey(&CPoint.X, &CPoint.Y)
}

// k * HashToCurve(secret) == C
func Verify(secret string, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return false
	}

	var Ypoint, result secp256k1.JacobianPoint
	Y.AsJacobian(&Ypoint)

	secp256k1.ScalarMultNonConst(&k.Key, &Ypoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk)
}

// PrivateKeyFromBytes returns the scalar for a 32 byte blinding factor.
func PrivateKeyFromBytes(b []byte) *secp256k1.PrivateKey {
	k, _ := btcec.PrivKeyFromBytes(b)
	return k
}
