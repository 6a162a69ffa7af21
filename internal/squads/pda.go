package squads

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the Squads v4 program on mainnet and devnet.
var DefaultProgramID = solana.MustPublicKeyFromBase58("SQDS4ep65T869zMMBKyuUq6aD6EgTu8psMjkvj52pCf")

var (
	seedPrefix      = []byte("multisig")
	seedVault       = []byte("vault")
	seedTransaction = []byte("transaction")
	seedProposal    = []byte("proposal")
)

// Purpose selects which account family a PDA belongs to.
type Purpose uint8

const (
	PurposeVault Purpose = iota
	PurposeTransaction
	PurposeProposal
)

func (p Purpose) String() string {
	switch p {
	case PurposeVault:
		return "vault"
	case PurposeTransaction:
		return "transaction"
	case PurposeProposal:
		return "proposal"
	default:
		return fmt.Sprintf("purpose(%d)", uint8(p))
	}
}

// Seeds returns the raw seed list the program uses for the given account.
// Vault indexes are a single byte; transaction and proposal indexes are
// eight little-endian bytes.
func Seeds(multisig solana.PublicKey, purpose Purpose, index uint64) ([][]byte, error) {
	switch purpose {
	case PurposeVault:
		if index > math.MaxUint8 {
			return nil, fmt.Errorf("vault index %d does not fit in one byte", index)
		}
		return [][]byte{seedPrefix, multisig.Bytes(), seedVault, {uint8(index)}}, nil
	case PurposeTransaction:
		return [][]byte{seedPrefix, multisig.Bytes(), seedTransaction, uint64ToBytes(index)}, nil
	case PurposeProposal:
		return [][]byte{seedPrefix, multisig.Bytes(), seedTransaction, uint64ToBytes(index), seedProposal}, nil
	default:
		return nil, fmt.Errorf("unknown purpose %s", purpose)
	}
}

// Derive finds the program-derived address and bump for the seed tuple.
func Derive(programID, multisig solana.PublicKey, purpose Purpose, index uint64) (solana.PublicKey, uint8, error) {
	seeds, err := Seeds(multisig, purpose, index)
	if err != nil {
		return solana.PublicKey{}, 0, err
	}
	pda, bump, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to find %s PDA: %w", purpose, err)
	}
	return pda, bump, nil
}

func VaultPDA(programID, multisig solana.PublicKey, vaultIndex uint8) (solana.PublicKey, uint8, error) {
	return Derive(programID, multisig, PurposeVault, uint64(vaultIndex))
}

func TransactionPDA(programID, multisig solana.PublicKey, transactionIndex uint64) (solana.PublicKey, uint8, error) {
	return Derive(programID, multisig, PurposeTransaction, transactionIndex)
}

func ProposalPDA(programID, multisig solana.PublicKey, transactionIndex uint64) (solana.PublicKey, uint8, error) {
	return Derive(programID, multisig, PurposeProposal, transactionIndex)
}

func uint64ToBytes(value uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, value)
	return b
}
