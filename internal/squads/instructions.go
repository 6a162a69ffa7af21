package squads

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/hogyzen12/squads-go/generated/squads_multisig_program"
)

const (
	InstructionVaultTransactionCreate  = "vault_transaction_create"
	InstructionProposalCreate          = "proposal_create"
	InstructionProposalApprove         = "proposal_approve"
	InstructionProposalReject          = "proposal_reject"
	InstructionVaultTransactionExecute = "vault_transaction_execute"
)

var ErrUnknownInstruction = errors.New("unknown squads instruction")

type (
	VaultTransactionCreateArgs = squads_multisig_program.VaultTransactionCreateArgs
	ProposalCreateArgs         = squads_multisig_program.ProposalCreateArgs
	ProposalVoteArgs           = squads_multisig_program.ProposalVoteArgs
)

// builder is satisfied by every generated instruction builder.
type builder interface {
	ValidateAndBuild() (*squads_multisig_program.Instruction, error)
}

// build encodes a generated instruction under programID. The generated
// package resolves its program id from a package variable, so only its
// accounts and data are kept.
func build(programID solana.PublicKey, name string, b builder) (solana.Instruction, error) {
	ix, err := b.ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s: %w", name, err)
	}
	data, err := ix.Data()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return solana.NewInstruction(programID, ix.Accounts(), data), nil
}

type VaultTransactionCreateAccounts struct {
	Multisig    solana.PublicKey
	Transaction solana.PublicKey
	Creator     solana.PublicKey
	RentPayer   solana.PublicKey
}

func NewVaultTransactionCreateInstruction(
	programID solana.PublicKey,
	accounts VaultTransactionCreateAccounts,
	args VaultTransactionCreateArgs,
) (solana.Instruction, error) {
	return build(programID, InstructionVaultTransactionCreate, squads_multisig_program.NewVaultTransactionCreateInstruction(
		args,
		accounts.Multisig,
		accounts.Transaction,
		accounts.Creator,
		accounts.RentPayer,
		solana.SystemProgramID,
	))
}

type ProposalCreateAccounts struct {
	Multisig  solana.PublicKey
	Proposal  solana.PublicKey
	Creator   solana.PublicKey
	RentPayer solana.PublicKey
}

func NewProposalCreateInstruction(
	programID solana.PublicKey,
	accounts ProposalCreateAccounts,
	args ProposalCreateArgs,
) (solana.Instruction, error) {
	return build(programID, InstructionProposalCreate, squads_multisig_program.NewProposalCreateInstruction(
		args,
		accounts.Multisig,
		accounts.Proposal,
		accounts.Creator,
		accounts.RentPayer,
		solana.SystemProgramID,
	))
}

type ProposalVoteAccounts struct {
	Multisig solana.PublicKey
	Member   solana.PublicKey
	Proposal solana.PublicKey
}

// NewProposalVoteInstruction builds proposal_approve or proposal_reject.
func NewProposalVoteInstruction(
	programID solana.PublicKey,
	approve bool,
	accounts ProposalVoteAccounts,
	args ProposalVoteArgs,
) (solana.Instruction, error) {
	if approve {
		return build(programID, InstructionProposalApprove, squads_multisig_program.NewProposalApproveInstruction(
			args, accounts.Multisig, accounts.Member, accounts.Proposal,
		))
	}
	return build(programID, InstructionProposalReject, squads_multisig_program.NewProposalRejectInstruction(
		args, accounts.Multisig, accounts.Member, accounts.Proposal,
	))
}

type VaultTransactionExecuteAccounts struct {
	Multisig    solana.PublicKey
	Proposal    solana.PublicKey
	Transaction solana.PublicKey
	Member      solana.PublicKey
}

// NewVaultTransactionExecuteInstruction lists the fixed accounts followed by
// every key of the stored message, in message order. The vault signs
// through the program, so it is passed as a non-signer; every other message
// signer must sign the outer transaction.
func NewVaultTransactionExecuteInstruction(
	programID solana.PublicKey,
	accounts VaultTransactionExecuteAccounts,
	message *TransactionMessage,
	vault solana.PublicKey,
) (solana.Instruction, error) {
	if err := message.Validate(); err != nil {
		return nil, err
	}
	if len(message.AddressTableLookups) > 0 {
		return nil, fmt.Errorf("%w: address table lookups are not supported", ErrCompile)
	}
	inst := squads_multisig_program.NewVaultTransactionExecuteInstruction(
		accounts.Multisig,
		accounts.Proposal,
		accounts.Transaction,
		accounts.Member,
	)
	for i, key := range message.AccountKeys {
		inst.Append(&solana.AccountMeta{
			PublicKey:  key,
			IsSigner:   message.IsSigner(i) && !key.Equals(vault),
			IsWritable: message.IsWritable(i),
		})
	}
	return build(programID, InstructionVaultTransactionExecute, inst)
}

// DecodedInstruction is the parsed form of a squads instruction.
// Exactly one argument field is set, matching Name; execute has none.
type DecodedInstruction struct {
	Name           string
	Accounts       []*solana.AccountMeta
	Create         *VaultTransactionCreateArgs
	ProposalCreate *ProposalCreateArgs
	Vote           *ProposalVoteArgs
}

// DecodeInstruction parses one of the lifecycle instructions this package
// builds. Any other squads instruction is reported as unknown.
func DecodeInstruction(accounts []*solana.AccountMeta, data []byte) (*DecodedInstruction, error) {
	ix, err := squads_multisig_program.DecodeInstruction(accounts, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownInstruction, err)
	}
	out := &DecodedInstruction{Accounts: accounts}
	switch impl := ix.Impl.(type) {
	case *squads_multisig_program.VaultTransactionCreate:
		out.Name, out.Create = InstructionVaultTransactionCreate, impl.Args
	case *squads_multisig_program.ProposalCreate:
		out.Name, out.ProposalCreate = InstructionProposalCreate, impl.Args
	case *squads_multisig_program.ProposalApprove:
		out.Name, out.Vote = InstructionProposalApprove, impl.Args
	case *squads_multisig_program.ProposalReject:
		out.Name, out.Vote = InstructionProposalReject, impl.Args
	case *squads_multisig_program.VaultTransactionExecute:
		out.Name = InstructionVaultTransactionExecute
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstruction, squads_multisig_program.InstructionIDToName(ix.TypeID))
	}
	return out, nil
}
