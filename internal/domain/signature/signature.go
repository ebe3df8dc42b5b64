// Package signature signs and verifies request bodies with secp256k1 keys
// using the personal-message (EIP-191) hashing scheme, and maps request paths
// to the caller family allowed to use them.
package signature

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrMalformedSignature is returned when a signature is not 65 hex-encoded bytes.
	ErrMalformedSignature = errors.New("malformed signature")
	// ErrSignerMismatch is returned when the recovered signer differs from the expected one.
	ErrSignerMismatch = errors.New("signer mismatch")
	// ErrInvalidKey is returned when a configured key is neither an address nor a private key.
	ErrInvalidKey = errors.New("invalid key")
)

const signatureLength = 65

// Sign signs body with key and returns a 0x-prefixed signature whose recovery
// byte is 27 or 28.
func Sign(body []byte, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(body), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// Recover returns the address that produced sig over body.
func Recover(body []byte, sig string) (common.Address, error) {
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return common.Address{}, fmt.Errorf("%w: empty", ErrMalformedSignature)
	}
	if !strings.HasPrefix(sig, "0x") && !strings.HasPrefix(sig, "0X") {
		sig = "0x" + sig
	}
	raw, err := hexutil.Decode(sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(raw) != signatureLength {
		return common.Address{}, fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedSignature, signatureLength, len(raw))
	}

	if raw[crypto.RecoveryIDOffset] >= 27 {
		raw[crypto.RecoveryIDOffset] -= 27
	}
	if raw[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("%w: bad recovery id", ErrMalformedSignature)
	}

	pub, err := crypto.SigToPub(accounts.TextHash(body), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that sig over body was produced by expected.
func Verify(body []byte, sig string, expected common.Address) error {
	signer, err := Recover(body, sig)
	if err != nil {
		return err
	}
	if signer != expected {
		return fmt.Errorf("%w: got %s", ErrSignerMismatch, signer.Hex())
	}
	return nil
}

// ResolveAddress accepts either a hex address or a hex private key and returns
// the corresponding address.
func ResolveAddress(key string) (common.Address, error) {
	key = strings.TrimSpace(key)
	if common.IsHexAddress(key) {
		return common.HexToAddress(key), nil
	}
	pk, err := ParsePrivateKey(key)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(pk.PublicKey), nil
}

// ParsePrivateKey parses a hex private key with or without the 0x prefix.
func ParsePrivateKey(key string) (*ecdsa.PrivateKey, error) {
	key = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(key), "0x"), "0X")
	pk, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pk, nil
}
