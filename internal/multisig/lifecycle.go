package multisig

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"vaultctl/internal/signer"
	"vaultctl/internal/squads"
)

var errNoSigner = errors.New("acting member signer is required")

// CreateVaultTransaction stores instructions as a vault transaction at
// index, which must be the current on-chain index plus one. The proposer
// and the rent payer sign; the rent payer also pays the fee.
func (c *Client) CreateVaultTransaction(
	ctx context.Context,
	proposer, rentPayer signer.Signer,
	instructions []solana.Instruction,
	index uint64,
) (solana.Signature, error) {
	if proposer == nil {
		return solana.Signature{}, compileError(OpCreateTransaction, index, errNoSigner)
	}
	rentPayer = orDefault(rentPayer, proposer)
	create, fields, err := c.createInstruction(proposer, rentPayer, instructions, index)
	if err != nil {
		return solana.Signature{}, compileError(OpCreateTransaction, index, err)
	}
	return c.submit(ctx, submission{
		op:           OpCreateTransaction,
		index:        index,
		payer:        rentPayer,
		signers:      []signer.Signer{proposer},
		instructions: []solana.Instruction{create},
		fields:       fields,
	})
}

// CreateProposal opens an active proposal for the transaction at index.
func (c *Client) CreateProposal(ctx context.Context, proposer, rentPayer signer.Signer, index uint64) (solana.Signature, error) {
	if proposer == nil {
		return solana.Signature{}, compileError(OpCreateProposal, index, errNoSigner)
	}
	rentPayer = orDefault(rentPayer, proposer)
	propose, fields, err := c.proposalInstruction(proposer, rentPayer, index)
	if err != nil {
		return solana.Signature{}, compileError(OpCreateProposal, index, err)
	}
	return c.submit(ctx, submission{
		op:           OpCreateProposal,
		index:        index,
		payer:        rentPayer,
		signers:      []signer.Signer{proposer},
		instructions: []solana.Instruction{propose},
		fields:       fields,
	})
}

// CreateAndPropose creates the vault transaction and its proposal in one
// atomic transaction, so no transaction exists without a proposal.
func (c *Client) CreateAndPropose(
	ctx context.Context,
	proposer, rentPayer signer.Signer,
	instructions []solana.Instruction,
	index uint64,
) (solana.Signature, error) {
	if proposer == nil {
		return solana.Signature{}, compileError(OpCreateAndPropose, index, errNoSigner)
	}
	rentPayer = orDefault(rentPayer, proposer)
	create, fields, err := c.createInstruction(proposer, rentPayer, instructions, index)
	if err != nil {
		return solana.Signature{}, compileError(OpCreateAndPropose, index, err)
	}
	propose, proposalFields, err := c.proposalInstruction(proposer, rentPayer, index)
	if err != nil {
		return solana.Signature{}, compileError(OpCreateAndPropose, index, err)
	}
	return c.submit(ctx, submission{
		op:           OpCreateAndPropose,
		index:        index,
		payer:        rentPayer,
		signers:      []signer.Signer{proposer},
		instructions: []solana.Instruction{create, propose},
		fields:       append(fields, proposalFields...),
	})
}

// ApproveProposal records approver's approval for index. Membership and
// double votes are checked by the program only. Do not resend after an
// ambiguous failure without reading the proposal first.
func (c *Client) ApproveProposal(ctx context.Context, approver, payer signer.Signer, index uint64) (solana.Signature, error) {
	return c.vote(ctx, OpApprove, true, approver, payer, index)
}

// RejectProposal records member's rejection for index.
func (c *Client) RejectProposal(ctx context.Context, member, payer signer.Signer, index uint64) (solana.Signature, error) {
	return c.vote(ctx, OpReject, false, member, payer, index)
}

func (c *Client) vote(ctx context.Context, op string, approve bool, member, payer signer.Signer, index uint64) (solana.Signature, error) {
	if member == nil {
		return solana.Signature{}, compileError(op, index, errNoSigner)
	}
	payer = orDefault(payer, member)
	proposal, _, err := squads.ProposalPDA(c.programID, c.multisig, index)
	if err != nil {
		return solana.Signature{}, compileError(op, index, err)
	}
	ix, err := squads.NewProposalVoteInstruction(c.programID, approve, squads.ProposalVoteAccounts{
		Multisig: c.multisig,
		Member:   member.PublicKey(),
		Proposal: proposal,
	}, squads.ProposalVoteArgs{})
	if err != nil {
		return solana.Signature{}, compileError(op, index, err)
	}
	return c.submit(ctx, submission{
		op:           op,
		index:        index,
		payer:        payer,
		signers:      []signer.Signer{member},
		instructions: []solana.Instruction{ix},
		fields:       []zap.Field{zap.Stringer("member", member.PublicKey()), zap.Stringer("proposal", proposal)},
	})
}

// ExecuteVaultTransaction executes the transaction at index. instructions
// are recompiled and must match the batch stored at creation, or the
// program refuses the account list. instructionPayer signs for embedded
// instructions that name it as a signer.
func (c *Client) ExecuteVaultTransaction(
	ctx context.Context,
	executor, payer, instructionPayer signer.Signer,
	index uint64,
	instructions []solana.Instruction,
) (solana.Signature, error) {
	vault, err := c.Vault()
	if err != nil {
		return solana.Signature{}, compileError(OpExecute, index, err)
	}
	msg, err := squads.CompileMessage(vault, instructions)
	if err != nil {
		return solana.Signature{}, compileError(OpExecute, index, err)
	}
	return c.execute(ctx, executor, payer, instructionPayer, index, vault, msg)
}

// ExecuteStored executes the transaction at index using the message read
// back from its account.
func (c *Client) ExecuteStored(ctx context.Context, executor, payer, instructionPayer signer.Signer, index uint64) (solana.Signature, error) {
	vt, err := c.ReadVaultTransaction(ctx, index)
	if err != nil {
		return solana.Signature{}, err
	}
	vault, _, err := squads.VaultPDA(c.programID, c.multisig, vt.VaultIndex)
	if err != nil {
		return solana.Signature{}, compileError(OpExecute, index, err)
	}
	return c.execute(ctx, executor, payer, instructionPayer, index, vault, vt.Message)
}

func (c *Client) execute(
	ctx context.Context,
	executor, payer, instructionPayer signer.Signer,
	index uint64,
	vault solana.PublicKey,
	msg *squads.TransactionMessage,
) (solana.Signature, error) {
	if executor == nil {
		return solana.Signature{}, compileError(OpExecute, index, errNoSigner)
	}
	payer = orDefault(payer, executor)
	transaction, _, err := squads.TransactionPDA(c.programID, c.multisig, index)
	if err != nil {
		return solana.Signature{}, compileError(OpExecute, index, err)
	}
	proposal, _, err := squads.ProposalPDA(c.programID, c.multisig, index)
	if err != nil {
		return solana.Signature{}, compileError(OpExecute, index, err)
	}
	ix, err := squads.NewVaultTransactionExecuteInstruction(c.programID, squads.VaultTransactionExecuteAccounts{
		Multisig:    c.multisig,
		Proposal:    proposal,
		Transaction: transaction,
		Member:      executor.PublicKey(),
	}, msg, vault)
	if err != nil {
		return solana.Signature{}, compileError(OpExecute, index, err)
	}
	signers := []signer.Signer{executor}
	if instructionPayer != nil {
		signers = append(signers, instructionPayer)
	}
	return c.submit(ctx, submission{
		op:           OpExecute,
		index:        index,
		payer:        payer,
		signers:      signers,
		instructions: []solana.Instruction{ix},
		fields: []zap.Field{
			zap.Stringer("vault", vault),
			zap.Stringer("transaction", transaction),
			zap.Stringer("proposal", proposal),
		},
	})
}

func (c *Client) createInstruction(
	proposer, rentPayer signer.Signer,
	instructions []solana.Instruction,
	index uint64,
) (solana.Instruction, []zap.Field, error) {
	vault, err := c.Vault()
	if err != nil {
		return nil, nil, err
	}
	transaction, _, err := squads.TransactionPDA(c.programID, c.multisig, index)
	if err != nil {
		return nil, nil, err
	}
	msg, err := squads.CompileMessage(vault, instructions)
	if err != nil {
		return nil, nil, err
	}
	encoded, err := msg.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	ix, err := squads.NewVaultTransactionCreateInstruction(c.programID, squads.VaultTransactionCreateAccounts{
		Multisig:    c.multisig,
		Transaction: transaction,
		Creator:     proposer.PublicKey(),
		RentPayer:   rentPayer.PublicKey(),
	}, squads.VaultTransactionCreateArgs{
		VaultIndex:         c.vaultIndex,
		TransactionMessage: encoded,
	})
	if err != nil {
		return nil, nil, err
	}
	fields := []zap.Field{
		zap.Stringer("vault", vault),
		zap.Stringer("transaction", transaction),
		zap.Int("message_bytes", len(encoded)),
	}
	return ix, fields, nil
}

func (c *Client) proposalInstruction(proposer, rentPayer signer.Signer, index uint64) (solana.Instruction, []zap.Field, error) {
	proposal, _, err := squads.ProposalPDA(c.programID, c.multisig, index)
	if err != nil {
		return nil, nil, err
	}
	ix, err := squads.NewProposalCreateInstruction(c.programID, squads.ProposalCreateAccounts{
		Multisig:  c.multisig,
		Proposal:  proposal,
		Creator:   proposer.PublicKey(),
		RentPayer: rentPayer.PublicKey(),
	}, squads.ProposalCreateArgs{TransactionIndex: index})
	if err != nil {
		return nil, nil, err
	}
	return ix, []zap.Field{zap.Stringer("proposal", proposal)}, nil
}

func orDefault(s, fallback signer.Signer) signer.Signer {
	if s == nil {
		return fallback
	}
	return s
}
