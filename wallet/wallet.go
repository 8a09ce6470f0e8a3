// Package wallet provides the Ethereum key capability used to sign DCN
// login messages, and the matching recovery helper used to verify them.
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// EnvPrivateKey names the environment variable FromEnv reads the key from.
const EnvPrivateKey = "DCN_PRIVATE_KEY"

// Wallet owns one secp256k1 private key. It implements dcn.Signer.
type Wallet struct {
	key *ecdsa.PrivateKey
}

// New creates a wallet with a fresh random key.
func New() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Wallet{key: key}, nil
}

// FromKey builds a wallet from a hex-encoded private key, with or without
// the 0x prefix.
func FromKey(hexKey string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Wallet{key: key}, nil
}

// FromEnv resolves a wallet from DCN_PRIVATE_KEY, falling back to an
// ephemeral random key when the variable is unset.
func FromEnv() (*Wallet, error) {
	if hexKey := os.Getenv(EnvPrivateKey); hexKey != "" {
		return FromKey(hexKey)
	}
	return New()
}

// Address returns the 0x-prefixed, checksummed hex address of the key.
func (w *Wallet) Address() string {
	return crypto.PubkeyToAddress(w.key.PublicKey).Hex()
}

// SignMessage signs message with the EIP-191 personal-sign scheme and
// returns the 65-byte signature as 0x-prefixed hex. The recovery id is
// offset by 27, matching what wallets emit.
func (w *Wallet) SignMessage(message string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// RecoverAddress returns the address whose key produced sigHex over message,
// under the same EIP-191 scheme used by SignMessage.
func RecoverAddress(message, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
