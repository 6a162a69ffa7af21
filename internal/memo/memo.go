// Package memo builds SPL memo instructions, the annotation embedded in
// vault transactions by the CLI.
package memo

import (
	"errors"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
)

// ProgramID is the SPL memo program v2.
var ProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

var (
	ErrEmpty       = errors.New("memo is empty")
	ErrInvalidUTF8 = errors.New("memo is not valid utf-8")
)

// NewInstruction returns a memo instruction. Every signer must sign the
// transaction that carries it; the memo program rejects unsigned keys.
func NewInstruction(message string, signers ...solana.PublicKey) (solana.Instruction, error) {
	if message == "" {
		return nil, ErrEmpty
	}
	if !utf8.ValidString(message) {
		return nil, ErrInvalidUTF8
	}
	metas := make(solana.AccountMetaSlice, 0, len(signers))
	for _, s := range signers {
		metas = append(metas, &solana.AccountMeta{PublicKey: s, IsSigner: true, IsWritable: false})
	}
	return solana.NewInstruction(ProgramID, metas, []byte(message)), nil
}

// Text returns the memo carried by ix, if ix targets the memo program.
func Text(ix solana.Instruction) (string, bool) {
	if !ix.ProgramID().Equals(ProgramID) {
		return "", false
	}
	data, err := ix.Data()
	if err != nil || !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}
