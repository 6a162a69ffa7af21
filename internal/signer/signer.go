// Package signer models signing identities as capabilities: callers get a
// public key and a Sign operation, never the secret.
package signer

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

type Signer interface {
	PublicKey() solana.PublicKey
	Sign(ctx context.Context, message []byte) (solana.Signature, error)
}

// Keypair signs with an ed25519 key held in process memory.
type Keypair struct {
	key solana.PrivateKey
}

func NewKeypair(key solana.PrivateKey) (*Keypair, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("private key must be 64 bytes, got %d", len(key))
	}
	return &Keypair{key: append(solana.PrivateKey(nil), key...)}, nil
}

// GenerateKeypair returns a fresh random identity.
func GenerateKeypair() (*Keypair, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &Keypair{key: key}, nil
}

// LoadKeypairFile reads a solana-keygen JSON file.
func LoadKeypairFile(path string) (*Keypair, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair %s: %w", path, err)
	}
	return NewKeypair(key)
}

// ParseBase58 accepts a base58 encoded 64 byte secret key, the format
// wallets export.
func ParseBase58(secret string) (*Keypair, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base58 secret: %w", err)
	}
	kp, err := NewKeypair(solana.PrivateKey(raw))
	if err != nil {
		return nil, err
	}
	// The trailing 32 bytes must be the public half of the seed.
	derived := ed25519.NewKeyFromSeed(raw[:32]).Public().(ed25519.PublicKey)
	if !bytes.Equal(derived, raw[32:]) {
		return nil, errors.New("secret key public half does not match its seed")
	}
	return kp, nil
}

func (k *Keypair) PublicKey() solana.PublicKey {
	return k.key.PublicKey()
}

func (k *Keypair) Sign(_ context.Context, message []byte) (solana.Signature, error) {
	return k.key.Sign(message)
}

// String prints the public key only.
func (k *Keypair) String() string {
	return k.PublicKey().String()
}

// Set collects signers keyed by identity. One identity may fill several
// roles in the same submission.
type Set map[solana.PublicKey]Signer

func NewSet(signers ...Signer) Set {
	s := make(Set, len(signers))
	for _, sg := range signers {
		s.Add(sg)
	}
	return s
}

func (s Set) Add(sg Signer) {
	if sg == nil {
		return
	}
	s[sg.PublicKey()] = sg
}

// SignTransaction signs every required signature slot of tx in order.
func (s Set) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	required := int(tx.Message.Header.NumRequiredSignatures)
	if required > len(tx.Message.AccountKeys) {
		return fmt.Errorf("message requires %d signatures but has %d keys", required, len(tx.Message.AccountKeys))
	}
	signatures := make([]solana.Signature, required)
	for i := 0; i < required; i++ {
		key := tx.Message.AccountKeys[i]
		sg, ok := s[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingSigner, key)
		}
		sig, err := sg.Sign(ctx, message)
		if err != nil {
			return fmt.Errorf("failed to sign with %s: %w", key, err)
		}
		signatures[i] = sig
	}
	tx.Signatures = signatures
	return nil
}

var ErrMissingSigner = errors.New("no signer for required key")
