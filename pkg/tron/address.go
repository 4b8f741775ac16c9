// Package tron handles TRON wallet addresses and message signatures.
package tron

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
)

const (
	// AddressLength is the length of a base58check encoded mainnet address
	AddressLength = 34
	addressPrefix = 0x41
	messagePrefix = "\x19TRON Signed Message:\n"
)

var (
	ErrInvalidAddress   = errors.New("invalid TRON address")
	ErrInvalidSignature = errors.New("invalid signature")
)

// IsAddressFormat reports whether s has the shape of a TRON address:
// 34 characters starting with 'T'. The checksum is not verified.
func IsAddressFormat(s string) bool {
	return len(s) == AddressLength && strings.HasPrefix(s, "T")
}

// DecodeAddress decodes a base58check address and verifies its checksum,
// returning the 21 byte payload (0x41 followed by the account hash).
func DecodeAddress(s string) ([]byte, error) {
	if !IsAddressFormat(s) {
		return nil, ErrInvalidAddress
	}
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != 25 {
		return nil, ErrInvalidAddress
	}
	payload, sum := raw[:21], raw[21:]
	if payload[0] != addressPrefix || !bytes.Equal(checksum(payload), sum) {
		return nil, ErrInvalidAddress
	}
	return payload, nil
}

// PubkeyToAddress derives the base58check address of a secp256k1 public key
func PubkeyToAddress(pub ecdsa.PublicKey) string {
	account := crypto.PubkeyToAddress(pub)
	payload := append([]byte{addressPrefix}, account.Bytes()...)
	return base58.Encode(append(payload, checksum(payload)...))
}

// HashMessage returns the digest a TRON wallet signs for a plain text message
func HashMessage(message string) []byte {
	prefixed := messagePrefix + strconv.Itoa(len(message)) + message
	return crypto.Keccak256([]byte(prefixed))
}

// RecoverAddress returns the address whose key produced signature over message.
// signature is hex encoded r||s||v, with v either 0/1 or 27/28.
func RecoverAddress(message, signature string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != crypto.SignatureLength {
		return "", ErrInvalidSignature
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(HashMessage(message), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return PubkeyToAddress(*pub), nil
}

// VerifyMessage reports whether signature over message was made by address
func VerifyMessage(message, signature, address string) error {
	if _, err := DecodeAddress(address); err != nil {
		return err
	}
	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return err
	}
	if recovered != address {
		return ErrInvalidSignature
	}
	return nil
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}
