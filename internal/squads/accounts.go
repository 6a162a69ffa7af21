package squads

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/hogyzen12/squads-go/generated/squads_multisig_program"
)

// Permission bits of a multisig member.
const (
	PermissionPropose uint8 = 1 << 0
	PermissionVote    uint8 = 1 << 1
	PermissionExecute uint8 = 1 << 2
	PermissionFull          = PermissionPropose | PermissionVote | PermissionExecute
)

var ErrAccountDiscriminator = errors.New("account discriminator mismatch")

type Member struct {
	Key         solana.PublicKey
	Permissions uint8
}

func (m Member) Has(permission uint8) bool {
	return m.Permissions&permission == permission
}

// Multisig is the decoded multisig account.
type Multisig struct {
	Address               solana.PublicKey
	Threshold             uint16
	TimeLock              uint32
	TransactionIndex      uint64
	StaleTransactionIndex uint64
	Members               []Member
}

// Member returns the member entry for key.
func (m *Multisig) Member(key solana.PublicKey) (Member, bool) {
	for _, member := range m.Members {
		if member.Key.Equals(key) {
			return member, true
		}
	}
	return Member{}, false
}

// DecodeMultisig decodes raw account data, discriminator included.
func DecodeMultisig(address solana.PublicKey, data []byte) (*Multisig, error) {
	var ms squads_multisig_program.Multisig
	if err := ms.UnmarshalWithDecoder(bin.NewBorshDecoder(data)); err != nil {
		return nil, fmt.Errorf("failed to decode multisig %s: %w", address, err)
	}
	out := &Multisig{
		Address:               address,
		Threshold:             ms.Threshold,
		TimeLock:              ms.TimeLock,
		TransactionIndex:      ms.TransactionIndex,
		StaleTransactionIndex: ms.StaleTransactionIndex,
		Members:               make([]Member, len(ms.Members)),
	}
	for i, m := range ms.Members {
		out.Members[i] = Member{Key: m.Key, Permissions: m.Permissions.Mask}
	}
	return out, nil
}

// EncodeMultisig produces account data in the program's layout.
func EncodeMultisig(m *Multisig) ([]byte, error) {
	ms := squads_multisig_program.Multisig{
		Threshold:             m.Threshold,
		TimeLock:              m.TimeLock,
		TransactionIndex:      m.TransactionIndex,
		StaleTransactionIndex: m.StaleTransactionIndex,
		Members:               make([]squads_multisig_program.Member, len(m.Members)),
	}
	for i, member := range m.Members {
		ms.Members[i] = squads_multisig_program.Member{
			Key:         member.Key,
			Permissions: squads_multisig_program.Permissions{Mask: member.Permissions},
		}
	}
	var buf bytes.Buffer
	if err := ms.MarshalWithEncoder(bin.NewBorshEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("failed to encode multisig: %w", err)
	}
	return buf.Bytes(), nil
}

// ProposalStatus mirrors the program's status enum variants.
type ProposalStatus uint8

const (
	ProposalDraft ProposalStatus = iota
	ProposalActive
	ProposalRejected
	ProposalApproved
	ProposalExecuting
	ProposalExecuted
	ProposalCancelled
)

func (s ProposalStatus) String() string {
	switch s {
	case ProposalDraft:
		return "draft"
	case ProposalActive:
		return "active"
	case ProposalRejected:
		return "rejected"
	case ProposalApproved:
		return "approved"
	case ProposalExecuting:
		return "executing"
	case ProposalExecuted:
		return "executed"
	case ProposalCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Terminal reports whether no further vote or execution is accepted.
func (s ProposalStatus) Terminal() bool {
	return s == ProposalRejected || s == ProposalExecuted || s == ProposalCancelled
}

type Proposal struct {
	Multisig         solana.PublicKey
	TransactionIndex uint64
	Status           ProposalStatus
	// Timestamp of the last status change; zero for Executing.
	Timestamp int64
	Bump      uint8
	Approved  []solana.PublicKey
	Rejected  []solana.PublicKey
	Cancelled []solana.PublicKey
}

func (p *Proposal) HasApproved(key solana.PublicKey) bool {
	return containsKey(p.Approved, key)
}

func (p *Proposal) HasRejected(key solana.PublicKey) bool {
	return containsKey(p.Rejected, key)
}

func DecodeProposal(data []byte) (*Proposal, error) {
	if err := checkDiscriminator(data, squads_multisig_program.ProposalDiscriminator); err != nil {
		return nil, fmt.Errorf("failed to decode proposal: %w", err)
	}
	var raw squads_multisig_program.Proposal
	if err := raw.UnmarshalWithDecoder(bin.NewBorshDecoder(data)); err != nil {
		return nil, fmt.Errorf("failed to decode proposal: %w", err)
	}
	p := &Proposal{
		Multisig:         raw.Multisig,
		TransactionIndex: raw.TransactionIndex,
		Bump:             raw.Bump,
		Approved:         raw.Approved,
		Rejected:         raw.Rejected,
		Cancelled:        raw.Cancelled,
	}
	switch st := raw.Status.(type) {
	case *squads_multisig_program.ProposalStatusDraft:
		p.Status, p.Timestamp = ProposalDraft, st.Timestamp
	case *squads_multisig_program.ProposalStatusActive:
		p.Status, p.Timestamp = ProposalActive, st.Timestamp
	case *squads_multisig_program.ProposalStatusRejected:
		p.Status, p.Timestamp = ProposalRejected, st.Timestamp
	case *squads_multisig_program.ProposalStatusApproved:
		p.Status, p.Timestamp = ProposalApproved, st.Timestamp
	case *squads_multisig_program.ProposalStatusExecuting:
		p.Status = ProposalExecuting
	case *squads_multisig_program.ProposalStatusExecuted:
		p.Status, p.Timestamp = ProposalExecuted, st.Timestamp
	case *squads_multisig_program.ProposalStatusCancelled:
		p.Status, p.Timestamp = ProposalCancelled, st.Timestamp
	default:
		return nil, fmt.Errorf("failed to decode proposal: unknown status %T", raw.Status)
	}
	return p, nil
}

func EncodeProposal(p *Proposal) ([]byte, error) {
	raw := squads_multisig_program.Proposal{
		Multisig:         p.Multisig,
		TransactionIndex: p.TransactionIndex,
		Bump:             p.Bump,
		Approved:         p.Approved,
		Rejected:         p.Rejected,
		Cancelled:        p.Cancelled,
	}
	switch p.Status {
	case ProposalDraft:
		raw.Status = &squads_multisig_program.ProposalStatusDraft{Timestamp: p.Timestamp}
	case ProposalActive:
		raw.Status = &squads_multisig_program.ProposalStatusActive{Timestamp: p.Timestamp}
	case ProposalRejected:
		raw.Status = &squads_multisig_program.ProposalStatusRejected{Timestamp: p.Timestamp}
	case ProposalApproved:
		raw.Status = &squads_multisig_program.ProposalStatusApproved{Timestamp: p.Timestamp}
	case ProposalExecuting:
		executing := squads_multisig_program.ProposalStatusExecuting(ProposalExecuting)
		raw.Status = &executing
	case ProposalExecuted:
		raw.Status = &squads_multisig_program.ProposalStatusExecuted{Timestamp: p.Timestamp}
	case ProposalCancelled:
		raw.Status = &squads_multisig_program.ProposalStatusCancelled{Timestamp: p.Timestamp}
	default:
		return nil, fmt.Errorf("failed to encode proposal: unknown status %d", p.Status)
	}
	var buf bytes.Buffer
	if err := raw.MarshalWithEncoder(bin.NewBorshEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("failed to encode proposal: %w", err)
	}
	return buf.Bytes(), nil
}

// VaultTransaction is the stored instruction batch awaiting execution.
type VaultTransaction struct {
	Multisig             solana.PublicKey
	Creator              solana.PublicKey
	Index                uint64
	Bump                 uint8
	VaultIndex           uint8
	VaultBump            uint8
	EphemeralSignerBumps []uint8
	Message              *TransactionMessage
}

// DecodeVaultTransaction decodes the account and converts its stored
// message, which uses plain Borsh vectors, into a TransactionMessage.
func DecodeVaultTransaction(data []byte) (*VaultTransaction, error) {
	if err := checkDiscriminator(data, squads_multisig_program.VaultTransactionDiscriminator); err != nil {
		return nil, fmt.Errorf("failed to decode vault transaction: %w", err)
	}
	var raw squads_multisig_program.VaultTransaction
	if err := raw.UnmarshalWithDecoder(bin.NewBorshDecoder(data)); err != nil {
		return nil, fmt.Errorf("failed to decode vault transaction: %w", err)
	}
	stored := raw.Message
	m := &TransactionMessage{
		NumSigners:            stored.NumSigners,
		NumWritableSigners:    stored.NumWritableSigners,
		NumWritableNonSigners: stored.NumWritableNonSigners,
		AccountKeys:           stored.AccountKeys,
		Instructions:          make([]CompiledInstruction, len(stored.Instructions)),
	}
	for i, ci := range stored.Instructions {
		m.Instructions[i] = CompiledInstruction{
			ProgramIDIndex: ci.ProgramIdIndex,
			AccountIndexes: ci.AccountIndexes,
			Data:           ci.Data,
		}
	}
	for _, l := range stored.AddressTableLookups {
		m.AddressTableLookups = append(m.AddressTableLookups, AddressTableLookup{
			AccountKey:      l.AccountKey,
			WritableIndexes: l.WritableIndexes,
			ReadonlyIndexes: l.ReadonlyIndexes,
		})
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &VaultTransaction{
		Multisig:             raw.Multisig,
		Creator:              raw.Creator,
		Index:                raw.Index,
		Bump:                 raw.Bump,
		VaultIndex:           raw.VaultIndex,
		VaultBump:            raw.VaultBump,
		EphemeralSignerBumps: raw.EphemeralSignerBumps,
		Message:              m,
	}, nil
}

func EncodeVaultTransaction(vt *VaultTransaction) ([]byte, error) {
	m := vt.Message
	stored := squads_multisig_program.VaultTransactionMessage{
		NumSigners:            m.NumSigners,
		NumWritableSigners:    m.NumWritableSigners,
		NumWritableNonSigners: m.NumWritableNonSigners,
		AccountKeys:           m.AccountKeys,
		Instructions:          make([]squads_multisig_program.MultisigCompiledInstruction, len(m.Instructions)),
		AddressTableLookups:   make([]squads_multisig_program.MultisigMessageAddressTableLookup, len(m.AddressTableLookups)),
	}
	for i, ci := range m.Instructions {
		stored.Instructions[i] = squads_multisig_program.MultisigCompiledInstruction{
			ProgramIdIndex: ci.ProgramIDIndex,
			AccountIndexes: ci.AccountIndexes,
			Data:           ci.Data,
		}
	}
	for i, l := range m.AddressTableLookups {
		stored.AddressTableLookups[i] = squads_multisig_program.MultisigMessageAddressTableLookup{
			AccountKey:      l.AccountKey,
			WritableIndexes: l.WritableIndexes,
			ReadonlyIndexes: l.ReadonlyIndexes,
		}
	}
	raw := squads_multisig_program.VaultTransaction{
		Multisig:             vt.Multisig,
		Creator:              vt.Creator,
		Index:                vt.Index,
		Bump:                 vt.Bump,
		VaultIndex:           vt.VaultIndex,
		VaultBump:            vt.VaultBump,
		EphemeralSignerBumps: vt.EphemeralSignerBumps,
		Message:              stored,
	}
	var buf bytes.Buffer
	if err := raw.MarshalWithEncoder(bin.NewBorshEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("failed to encode vault transaction: %w", err)
	}
	return buf.Bytes(), nil
}

// checkDiscriminator keeps a typed error for data of another account type;
// the generated decoders only report a formatted message.
func checkDiscriminator(data []byte, want [8]byte) error {
	if len(data) < len(want) {
		return fmt.Errorf("%w: %d bytes", ErrAccountDiscriminator, len(data))
	}
	if !bytes.Equal(data[:len(want)], want[:]) {
		return fmt.Errorf("%w: got %x", ErrAccountDiscriminator, data[:len(want)])
	}
	return nil
}

func containsKey(keys []solana.PublicKey, key solana.PublicKey) bool {
	for _, k := range keys {
		if k.Equals(key) {
			return true
		}
	}
	return false
}
