package memo

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInstruction(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	ix, err := NewInstruction("rebalance Q3", payer)
	require.NoError(t, err)

	assert.Equal(t, ProgramID, ix.ProgramID())
	accounts := ix.Accounts()
	require.Len(t, accounts, 1)
	assert.Equal(t, payer, accounts[0].PublicKey)
	assert.True(t, accounts[0].IsSigner)
	assert.False(t, accounts[0].IsWritable)

	text, ok := Text(ix)
	assert.True(t, ok)
	assert.Equal(t, "rebalance Q3", text)
}

func TestNewInstructionRejectsBadInput(t *testing.T) {
	_, err := NewInstruction("")
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = NewInstruction(string([]byte{0xff, 0xfe}))
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestTextIgnoresOtherPrograms(t *testing.T) {
	ix := solana.NewInstruction(solana.SystemProgramID, nil, []byte("x"))
	_, ok := Text(ix)
	assert.False(t, ok)
}
