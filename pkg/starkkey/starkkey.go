/**
 * @description
 * This package encodes and decodes the secp256k1 keys and signatures the payment
 * provider uses: PEM wrapped SEC1 private keys, PEM wrapped SubjectPublicKeyInfo public
 * keys, and base64 DER ECDSA signatures over the SHA-256 digest of a message.
 *
 * @dependencies
 * - github.com/decred/dcrd/dcrec/secp256k1/v4: Curve arithmetic and ECDSA.
 * - golang.org/x/crypto/cryptobyte: ASN.1 DER parsing and building.
 */
package starkkey

import (
	"crypto/sha256"
	stdasn1 "encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

var (
	oidPublicKeyECDSA = stdasn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSecp256k1      = stdasn1.ObjectIdentifier{1, 3, 132, 0, 10}

	ErrInvalidPEM         = errors.New("no usable PEM block found")
	ErrUnsupportedCurve   = errors.New("key is not a secp256k1 key")
	ErrMalformedKey       = errors.New("malformed key encoding")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrSignatureMismatch  = errors.New("signature does not match message")
)

// GeneratePrivateKey creates a new random secp256k1 private key.
func GeneratePrivateKey() (*secp256k1.PrivateKey, error) {
	return secp256k1.GeneratePrivateKey()
}

// ParsePrivateKeyPEM decodes an "EC PRIVATE KEY" block. Leading "EC PARAMETERS"
// blocks, as emitted by openssl, are skipped.
func ParsePrivateKeyPEM(data []byte) (*secp256k1.PrivateKey, error) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, ErrInvalidPEM
		}
		if block.Type == "EC PRIVATE KEY" {
			return parseSEC1(block.Bytes)
		}
	}
}

func parseSEC1(der []byte) (*secp256k1.PrivateKey, error) {
	input := cryptobyte.String(der)
	var (
		seq     cryptobyte.String
		scalar  cryptobyte.String
		version int
	)
	if !input.ReadASN1(&seq, asn1.SEQUENCE) ||
		!seq.ReadASN1Integer(&version) ||
		!seq.ReadASN1(&scalar, asn1.OCTET_STRING) {
		return nil, ErrMalformedKey
	}
	if version != 1 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedKey, version)
	}

	var params cryptobyte.String
	var hasParams bool
	if !seq.ReadOptionalASN1(&params, &hasParams, asn1.Tag(0).Constructed().ContextSpecific()) {
		return nil, ErrMalformedKey
	}
	if hasParams {
		var curve stdasn1.ObjectIdentifier
		if !params.ReadASN1ObjectIdentifier(&curve) {
			return nil, ErrMalformedKey
		}
		if !curve.Equal(oidSecp256k1) {
			return nil, ErrUnsupportedCurve
		}
	}
	if len(scalar) == 0 || len(scalar) > 32 {
		return nil, ErrMalformedKey
	}
	return secp256k1.PrivKeyFromBytes(scalar), nil
}

// MarshalPrivateKeyPEM encodes key as a SEC1 "EC PRIVATE KEY" block.
func MarshalPrivateKeyPEM(key *secp256k1.PrivateKey) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(1)
		b.AddASN1OctetString(key.Serialize())
		b.AddASN1(asn1.Tag(0).Constructed().ContextSpecific(), func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidSecp256k1)
		})
		b.AddASN1(asn1.Tag(1).Constructed().ContextSpecific(), func(b *cryptobyte.Builder) {
			b.AddASN1BitString(key.PubKey().SerializeUncompressed())
		})
	})
	der, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// ParsePublicKeyPEM decodes a "PUBLIC KEY" SubjectPublicKeyInfo block.
func ParsePublicKeyPEM(data []byte) (*secp256k1.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPEM
	}

	input := cryptobyte.String(block.Bytes)
	var (
		spki, algorithm cryptobyte.String
		algOID, curve   stdasn1.ObjectIdentifier
		bits            stdasn1.BitString
	)
	if !input.ReadASN1(&spki, asn1.SEQUENCE) ||
		!spki.ReadASN1(&algorithm, asn1.SEQUENCE) ||
		!algorithm.ReadASN1ObjectIdentifier(&algOID) ||
		!algorithm.ReadASN1ObjectIdentifier(&curve) ||
		!spki.ReadASN1BitString(&bits) {
		return nil, ErrMalformedKey
	}
	if !algOID.Equal(oidPublicKeyECDSA) || !curve.Equal(oidSecp256k1) {
		return nil, ErrUnsupportedCurve
	}

	pub, err := secp256k1.ParsePubKey(bits.RightAlign())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return pub, nil
}

// MarshalPublicKeyPEM encodes key as a "PUBLIC KEY" SubjectPublicKeyInfo block.
func MarshalPublicKeyPEM(key *secp256k1.PublicKey) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidPublicKeyECDSA)
			b.AddASN1ObjectIdentifier(oidSecp256k1)
		})
		b.AddASN1BitString(key.SerializeUncompressed())
	})
	der, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// Sign returns the base64 DER signature of SHA-256(message).
func Sign(key *secp256k1.PrivateKey, message []byte) string {
	digest := sha256.Sum256(message)
	sig := ecdsa.Sign(key, digest[:])
	return base64.StdEncoding.EncodeToString(sig.Serialize())
}

// Verify checks a base64 DER signature of SHA-256(message). Undecodable input yields
// ErrMalformedSignature, a well formed signature that does not match yields
// ErrSignatureMismatch.
func Verify(key *secp256k1.PublicKey, message []byte, signatureB64 string) error {
	der, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	sig, err := parseDERSignature(der)
	if err != nil {
		return err
	}

	digest := sha256.Sum256(message)
	if !sig.Verify(digest[:], key) {
		return ErrSignatureMismatch
	}
	return nil
}

// parseDERSignature reads SEQUENCE { r INTEGER, s INTEGER }. High-S values are
// normalised since signers are not required to produce low-S signatures.
func parseDERSignature(der []byte) (*ecdsa.Signature, error) {
	input := cryptobyte.String(der)
	var (
		seq  cryptobyte.String
		r, s = new(big.Int), new(big.Int)
	)
	if !input.ReadASN1(&seq, asn1.SEQUENCE) ||
		!input.Empty() ||
		!seq.ReadASN1Integer(r) ||
		!seq.ReadASN1Integer(s) ||
		!seq.Empty() {
		return nil, ErrMalformedSignature
	}

	rScalar, err := toScalar(r)
	if err != nil {
		return nil, err
	}
	sScalar, err := toScalar(s)
	if err != nil {
		return nil, err
	}
	if sScalar.IsOverHalfOrder() {
		sScalar.Negate()
	}
	return ecdsa.NewSignature(rScalar, sScalar), nil
}

func toScalar(v *big.Int) (*secp256k1.ModNScalar, error) {
	if v.Sign() <= 0 || v.BitLen() > 256 {
		return nil, ErrMalformedSignature
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(v.Bytes()); overflow || scalar.IsZero() {
		return nil, ErrMalformedSignature
	}
	return &scalar, nil
}
