package multisig

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"vaultctl/internal/ledger"
	"vaultctl/internal/squads"
)

// programError is a custom error code raised by the emulated program.
type programError uint32

func (e programError) Error() string { return squads.ErrorName(uint32(e)) }

var errMissingSignature = errors.New("missing required signature for instruction")

type chainState struct {
	ms        squads.Multisig
	txs       map[solana.PublicKey]*squads.VaultTransaction
	proposals map[solana.PublicKey]*squads.Proposal
}

func (s *chainState) clone() *chainState {
	out := &chainState{
		ms:        s.ms,
		txs:       make(map[solana.PublicKey]*squads.VaultTransaction, len(s.txs)),
		proposals: make(map[solana.PublicKey]*squads.Proposal, len(s.proposals)),
	}
	for k, v := range s.txs {
		out.txs[k] = v
	}
	for k, v := range s.proposals {
		p := *v
		p.Approved = append([]solana.PublicKey(nil), v.Approved...)
		p.Rejected = append([]solana.PublicKey(nil), v.Rejected...)
		p.Cancelled = append([]solana.PublicKey(nil), v.Cancelled...)
		out.proposals[k] = &p
	}
	return out
}

// fakeLedger is an in-memory cluster running an emulation of the Squads
// checks the client depends on. Transactions apply atomically: if any
// instruction fails nothing is committed.
type fakeLedger struct {
	mu        sync.Mutex
	programID solana.PublicKey
	multisig  solana.PublicKey
	state     *chainState
	balances  map[solana.PublicKey]uint64
	clock     int64

	sent          []*solana.Transaction
	executed      [][]solana.Instruction
	blockhashHits int

	readErr      error
	blockhashErr error
	sendErr      error
	// beforeSend runs against committed state ahead of each submission,
	// standing in for other members' concurrent transactions.
	beforeSend func(s *chainState)
}

func newFakeLedger(multisig solana.PublicKey, threshold uint16, index uint64, members ...solana.PublicKey) *fakeLedger {
	ms := squads.Multisig{
		Address:          multisig,
		Threshold:        threshold,
		TransactionIndex: index,
	}
	for _, m := range members {
		ms.Members = append(ms.Members, squads.Member{Key: m, Permissions: squads.PermissionFull})
	}
	return &fakeLedger{
		programID: squads.DefaultProgramID,
		multisig:  multisig,
		state: &chainState{
			ms:        ms,
			txs:       map[solana.PublicKey]*squads.VaultTransaction{},
			proposals: map[solana.PublicKey]*squads.Proposal{},
		},
		balances: map[solana.PublicKey]uint64{},
		clock:    1_700_000_000,
	}
}

func (f *fakeLedger) GetAccountData(_ context.Context, address solana.PublicKey) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	if address.Equals(f.multisig) {
		return squads.EncodeMultisig(&f.state.ms)
	}
	if vt, ok := f.state.txs[address]; ok {
		return squads.EncodeVaultTransaction(vt)
	}
	if p, ok := f.state.proposals[address]; ok {
		return squads.EncodeProposal(p)
	}
	return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, address)
}

func (f *fakeLedger) GetBalance(_ context.Context, address solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.balances[address], nil
}

func (f *fakeLedger) GetLatestBlockhash(context.Context) (solana.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockhashHits++
	if f.blockhashErr != nil {
		return solana.Hash{}, f.blockhashErr
	}
	return solana.Hash{7, 7, 7}, nil
}

func (f *fakeLedger) SendAndConfirm(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beforeSend != nil {
		f.beforeSend(f.state)
	}
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return solana.Signature{}, &jsonrpc.RPCError{Code: -32602, Message: "invalid transaction: " + err.Error()}
	}
	required := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) != required {
		return solana.Signature{}, &jsonrpc.RPCError{Code: -32602, Message: "invalid transaction: signature count mismatch"}
	}
	for i := 0; i < required; i++ {
		if !tx.Signatures[i].Verify(tx.Message.AccountKeys[i], msg) {
			return solana.Signature{}, &jsonrpc.RPCError{Code: -32003, Message: "Transaction signature verification failure"}
		}
	}

	next := f.state.clone()
	var executed [][]solana.Instruction
	for i, ci := range tx.Message.Instructions {
		program := tx.Message.AccountKeys[ci.ProgramIDIndex]
		if !program.Equals(f.programID) {
			continue
		}
		metas := make([]*solana.AccountMeta, len(ci.Accounts))
		for j, idx := range ci.Accounts {
			metas[j] = accountMeta(&tx.Message, int(idx))
		}
		batch, err := f.process(next, metas, ci.Data)
		if err != nil {
			return solana.Signature{}, simulationFailure(i, err)
		}
		if batch != nil {
			executed = append(executed, batch)
		}
	}

	f.state = next
	f.executed = append(f.executed, executed...)
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func simulationFailure(instruction int, err error) error {
	var code programError
	if errors.As(err, &code) {
		return &jsonrpc.RPCError{
			Code:    -32002,
			Message: fmt.Sprintf("Transaction simulation failed: Error processing Instruction %d: custom program error: 0x%x", instruction, uint32(code)),
		}
	}
	return &jsonrpc.RPCError{
		Code:    -32002,
		Message: fmt.Sprintf("Transaction simulation failed: Error processing Instruction %d: %v", instruction, err),
	}
}

func accountMeta(m *solana.Message, i int) *solana.AccountMeta {
	h := m.Header
	required := int(h.NumRequiredSignatures)
	isSigner := i < required
	var isWritable bool
	if isSigner {
		isWritable = i < required-int(h.NumReadonlySignedAccounts)
	} else {
		isWritable = i < len(m.AccountKeys)-int(h.NumReadonlyUnsignedAccounts)
	}
	return &solana.AccountMeta{PublicKey: m.AccountKeys[i], IsSigner: isSigner, IsWritable: isWritable}
}

func (f *fakeLedger) tick() int64 {
	f.clock++
	return f.clock
}

// member resolves a signing member holding permission.
func member(s *chainState, meta *solana.AccountMeta, permission uint8) error {
	if !meta.IsSigner {
		return errMissingSignature
	}
	m, ok := s.ms.Member(meta.PublicKey)
	if !ok {
		return programError(squads.ErrorNotAMember)
	}
	if !m.Has(permission) {
		return programError(squads.ErrorUnauthorized)
	}
	return nil
}

func (f *fakeLedger) process(s *chainState, metas []*solana.AccountMeta, data []byte) ([]solana.Instruction, error) {
	ix, err := squads.DecodeInstruction(metas, data)
	if err != nil {
		// Anchor InstructionFallbackNotFound.
		return nil, programError(101)
	}
	if len(metas) == 0 || !metas[0].PublicKey.Equals(f.multisig) {
		return nil, programError(squads.ErrorAccountNotInitialized)
	}

	switch ix.Name {
	case squads.InstructionVaultTransactionCreate:
		if len(metas) < 5 {
			return nil, programError(squads.ErrorInvalidNumberOfAccounts)
		}
		if err := member(s, metas[2], squads.PermissionPropose); err != nil {
			return nil, err
		}
		if !metas[3].IsSigner {
			return nil, errMissingSignature
		}
		index := s.ms.TransactionIndex + 1
		addr, bump, _ := squads.TransactionPDA(f.programID, f.multisig, index)
		if !metas[1].PublicKey.Equals(addr) {
			return nil, programError(squads.ErrorConstraintSeeds)
		}
		if _, ok := s.txs[addr]; ok {
			return nil, programError(squads.ErrorAccountInUse)
		}
		msg, err := squads.DecodeTransactionMessage(ix.Create.TransactionMessage)
		if err != nil {
			return nil, programError(squads.ErrorInvalidTransactionMessage)
		}
		_, vaultBump, _ := squads.VaultPDA(f.programID, f.multisig, ix.Create.VaultIndex)
		s.txs[addr] = &squads.VaultTransaction{
			Multisig:             f.multisig,
			Creator:              metas[2].PublicKey,
			Index:                index,
			Bump:                 bump,
			VaultIndex:           ix.Create.VaultIndex,
			VaultBump:            vaultBump,
			EphemeralSignerBumps: []uint8{},
			Message:              msg,
		}
		s.ms.TransactionIndex = index
		return nil, nil

	case squads.InstructionProposalCreate:
		if len(metas) < 5 {
			return nil, programError(squads.ErrorInvalidNumberOfAccounts)
		}
		index := ix.ProposalCreate.TransactionIndex
		if index > s.ms.TransactionIndex || index <= s.ms.StaleTransactionIndex {
			return nil, programError(squads.ErrorInvalidTransactionIndex)
		}
		if err := member(s, metas[2], 0); err != nil {
			return nil, err
		}
		if !metas[3].IsSigner {
			return nil, errMissingSignature
		}
		addr, bump, _ := squads.ProposalPDA(f.programID, f.multisig, index)
		if !metas[1].PublicKey.Equals(addr) {
			return nil, programError(squads.ErrorConstraintSeeds)
		}
		if _, ok := s.proposals[addr]; ok {
			return nil, programError(squads.ErrorAccountInUse)
		}
		status := squads.ProposalActive
		if ix.ProposalCreate.Draft {
			status = squads.ProposalDraft
		}
		s.proposals[addr] = &squads.Proposal{
			Multisig:         f.multisig,
			TransactionIndex: index,
			Status:           status,
			Timestamp:        f.tick(),
			Bump:             bump,
		}
		return nil, nil

	case squads.InstructionProposalApprove, squads.InstructionProposalReject:
		if len(metas) < 3 {
			return nil, programError(squads.ErrorInvalidNumberOfAccounts)
		}
		if err := member(s, metas[1], squads.PermissionVote); err != nil {
			return nil, err
		}
		p, ok := s.proposals[metas[2].PublicKey]
		if !ok {
			return nil, programError(squads.ErrorAccountNotInitialized)
		}
		if p.Status != squads.ProposalActive {
			return nil, programError(squads.ErrorInvalidProposalStatus)
		}
		if p.TransactionIndex <= s.ms.StaleTransactionIndex {
			return nil, programError(squads.ErrorStaleProposal)
		}
		voter := metas[1].PublicKey
		if ix.Name == squads.InstructionProposalApprove {
			if p.HasApproved(voter) {
				return nil, programError(squads.ErrorAlreadyApproved)
			}
			p.Rejected = without(p.Rejected, voter)
			p.Approved = append(p.Approved, voter)
			if len(p.Approved) >= int(s.ms.Threshold) {
				p.Status = squads.ProposalApproved
				p.Timestamp = f.tick()
			}
			return nil, nil
		}
		if p.HasRejected(voter) {
			return nil, programError(squads.ErrorAlreadyRejected)
		}
		p.Approved = without(p.Approved, voter)
		p.Rejected = append(p.Rejected, voter)
		if len(p.Rejected) >= len(s.ms.Members)-int(s.ms.Threshold)+1 {
			p.Status = squads.ProposalRejected
			p.Timestamp = f.tick()
		}
		return nil, nil

	case squads.InstructionVaultTransactionExecute:
		if len(metas) < 4 {
			return nil, programError(squads.ErrorInvalidNumberOfAccounts)
		}
		p, ok := s.proposals[metas[1].PublicKey]
		if !ok {
			return nil, programError(squads.ErrorAccountNotInitialized)
		}
		vt, ok := s.txs[metas[2].PublicKey]
		if !ok {
			return nil, programError(squads.ErrorAccountNotInitialized)
		}
		if vt.Index != p.TransactionIndex {
			return nil, programError(squads.ErrorConstraintSeeds)
		}
		if err := member(s, metas[3], squads.PermissionExecute); err != nil {
			return nil, err
		}
		if p.Status != squads.ProposalApproved {
			return nil, programError(squads.ErrorInvalidProposalStatus)
		}
		vault, _, _ := squads.VaultPDA(f.programID, f.multisig, vt.VaultIndex)
		remaining := metas[4:]
		if len(remaining) != len(vt.Message.AccountKeys) {
			return nil, programError(squads.ErrorInvalidNumberOfAccounts)
		}
		for i, key := range vt.Message.AccountKeys {
			if !remaining[i].PublicKey.Equals(key) {
				return nil, programError(squads.ErrorInvalidAccount)
			}
			if vt.Message.IsWritable(i) && !remaining[i].IsWritable {
				return nil, programError(squads.ErrorInvalidAccount)
			}
			if vt.Message.IsSigner(i) && !key.Equals(vault) && !remaining[i].IsSigner {
				return nil, errMissingSignature
			}
		}
		batch, err := vt.Message.Decompile()
		if err != nil {
			return nil, programError(squads.ErrorInvalidTransactionMessage)
		}
		p.Status = squads.ProposalExecuted
		p.Timestamp = f.tick()
		return batch, nil
	}
	return nil, programError(101)
}

func without(keys []solana.PublicKey, key solana.PublicKey) []solana.PublicKey {
	out := keys[:0]
	for _, k := range keys {
		if !k.Equals(key) {
			out = append(out, k)
		}
	}
	return out
}

func (f *fakeLedger) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
