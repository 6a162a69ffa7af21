package squads

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	maxAccountKeys         = math.MaxUint8
	maxInstructions        = math.MaxUint8
	maxInstructionAccounts = math.MaxUint8
	maxInstructionData     = math.MaxUint16
	maxLookupIndexes       = math.MaxUint8
)

var (
	// ErrCompile is wrapped by every error returned from CompileMessage.
	ErrCompile = errors.New("message compilation failed")

	ErrTooManyAccountKeys         = fmt.Errorf("%w: too many account keys", ErrCompile)
	ErrTooManyInstructions        = fmt.Errorf("%w: too many instructions", ErrCompile)
	ErrTooManyInstructionAccounts = fmt.Errorf("%w: too many accounts in instruction", ErrCompile)
	ErrInstructionDataTooLarge    = fmt.Errorf("%w: instruction data too large", ErrCompile)
	ErrInvalidInstruction         = fmt.Errorf("%w: invalid instruction", ErrCompile)

	ErrMalformedMessage = errors.New("malformed transaction message")
)

// CompiledInstruction references accounts by their position in the
// message's account key list.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	AccountIndexes []uint8
	Data           []byte
}

// AddressTableLookup is carried for format completeness. CompileMessage
// never emits lookups.
type AddressTableLookup struct {
	AccountKey      solana.PublicKey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// TransactionMessage is the instruction batch a vault transaction stores
// and later executes with the vault as payer.
type TransactionMessage struct {
	NumSigners            uint8
	NumWritableSigners    uint8
	NumWritableNonSigners uint8
	AccountKeys           []solana.PublicKey
	Instructions          []CompiledInstruction
	AddressTableLookups   []AddressTableLookup
}

type keyFlags struct {
	signer   bool
	writable bool
}

// CompileMessage compiles instructions into a TransactionMessage paid for by
// payer, normally the vault PDA. Keys are deduplicated with their flags
// merged. The payer comes first; every other key is grouped as writable
// signers, readonly signers, writable non-signers, readonly non-signers and
// sorted by its bytes inside the group.
func CompileMessage(payer solana.PublicKey, instructions []solana.Instruction) (*TransactionMessage, error) {
	if len(instructions) > maxInstructions {
		return nil, fmt.Errorf("%w: %d instructions, limit %d", ErrTooManyInstructions, len(instructions), maxInstructions)
	}

	flags := map[solana.PublicKey]*keyFlags{}
	mark := func(key solana.PublicKey, signer, writable bool) {
		f, ok := flags[key]
		if !ok {
			f = &keyFlags{}
			flags[key] = f
		}
		f.signer = f.signer || signer
		f.writable = f.writable || writable
	}

	datas := make([][]byte, len(instructions))
	for i, ix := range instructions {
		if ix == nil {
			return nil, fmt.Errorf("%w: instruction %d is nil", ErrInvalidInstruction, i)
		}
		data, err := ix.Data()
		if err != nil {
			return nil, fmt.Errorf("%w: instruction %d data: %v", ErrInvalidInstruction, i, err)
		}
		if len(data) > maxInstructionData {
			return nil, fmt.Errorf("%w: instruction %d carries %d bytes, limit %d", ErrInstructionDataTooLarge, i, len(data), maxInstructionData)
		}
		accounts := ix.Accounts()
		if len(accounts) > maxInstructionAccounts {
			return nil, fmt.Errorf("%w: instruction %d references %d accounts, limit %d", ErrTooManyInstructionAccounts, i, len(accounts), maxInstructionAccounts)
		}
		for j, meta := range accounts {
			if meta == nil {
				return nil, fmt.Errorf("%w: instruction %d account %d is nil", ErrInvalidInstruction, i, j)
			}
			mark(meta.PublicKey, meta.IsSigner, meta.IsWritable)
		}
		mark(ix.ProgramID(), false, false)
		datas[i] = data
	}
	delete(flags, payer)

	var writableSigners, readonlySigners, writableNonSigners, readonlyNonSigners []solana.PublicKey
	for key, f := range flags {
		switch {
		case f.signer && f.writable:
			writableSigners = append(writableSigners, key)
		case f.signer:
			readonlySigners = append(readonlySigners, key)
		case f.writable:
			writableNonSigners = append(writableNonSigners, key)
		default:
			readonlyNonSigners = append(readonlyNonSigners, key)
		}
	}
	for _, group := range [][]solana.PublicKey{writableSigners, readonlySigners, writableNonSigners, readonlyNonSigners} {
		sortKeys(group)
	}

	keys := make([]solana.PublicKey, 0, 1+len(flags))
	keys = append(keys, payer)
	keys = append(keys, writableSigners...)
	keys = append(keys, readonlySigners...)
	keys = append(keys, writableNonSigners...)
	keys = append(keys, readonlyNonSigners...)
	if len(keys) > maxAccountKeys {
		return nil, fmt.Errorf("%w: %d distinct keys, limit %d", ErrTooManyAccountKeys, len(keys), maxAccountKeys)
	}

	position := make(map[solana.PublicKey]uint8, len(keys))
	for i, key := range keys {
		position[key] = uint8(i)
	}

	msg := &TransactionMessage{
		NumSigners:            uint8(1 + len(writableSigners) + len(readonlySigners)),
		NumWritableSigners:    uint8(1 + len(writableSigners)),
		NumWritableNonSigners: uint8(len(writableNonSigners)),
		AccountKeys:           keys,
		Instructions:          make([]CompiledInstruction, len(instructions)),
	}
	for i, ix := range instructions {
		accounts := ix.Accounts()
		indexes := make([]uint8, len(accounts))
		for j, meta := range accounts {
			indexes[j] = position[meta.PublicKey]
		}
		msg.Instructions[i] = CompiledInstruction{
			ProgramIDIndex: position[ix.ProgramID()],
			AccountIndexes: indexes,
			Data:           datas[i],
		}
	}
	return msg, nil
}

func sortKeys(keys []solana.PublicKey) {
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
}

// IsSigner reports whether the key at position i signs the message.
func (m *TransactionMessage) IsSigner(i int) bool {
	return i < int(m.NumSigners)
}

// IsWritable reports whether the key at position i is writable.
func (m *TransactionMessage) IsWritable(i int) bool {
	if i < int(m.NumSigners) {
		return i < int(m.NumWritableSigners)
	}
	return i < int(m.NumSigners)+int(m.NumWritableNonSigners)
}

// Validate checks the header and every index against the key list.
func (m *TransactionMessage) Validate() error {
	n := len(m.AccountKeys)
	if n > maxAccountKeys {
		return fmt.Errorf("%w: %d account keys", ErrMalformedMessage, n)
	}
	if m.NumWritableSigners > m.NumSigners || int(m.NumSigners)+int(m.NumWritableNonSigners) > n {
		return fmt.Errorf("%w: header %d/%d/%d does not fit %d keys",
			ErrMalformedMessage, m.NumSigners, m.NumWritableSigners, m.NumWritableNonSigners, n)
	}
	for i, ci := range m.Instructions {
		if int(ci.ProgramIDIndex) >= n {
			return fmt.Errorf("%w: instruction %d program index %d out of range", ErrMalformedMessage, i, ci.ProgramIDIndex)
		}
		for _, idx := range ci.AccountIndexes {
			if int(idx) >= n {
				return fmt.Errorf("%w: instruction %d account index %d out of range", ErrMalformedMessage, i, idx)
			}
		}
	}
	return nil
}

// Decompile rebuilds the instruction list the message was compiled from.
func (m *TransactionMessage) Decompile() ([]solana.Instruction, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	out := make([]solana.Instruction, len(m.Instructions))
	for i, ci := range m.Instructions {
		accounts := make(solana.AccountMetaSlice, len(ci.AccountIndexes))
		for j, idx := range ci.AccountIndexes {
			accounts[j] = &solana.AccountMeta{
				PublicKey:  m.AccountKeys[idx],
				IsSigner:   m.IsSigner(int(idx)),
				IsWritable: m.IsWritable(int(idx)),
			}
		}
		data := append([]byte(nil), ci.Data...)
		out[i] = solana.NewInstruction(m.AccountKeys[ci.ProgramIDIndex], accounts, data)
	}
	return out, nil
}

// MarshalBinary encodes the message in the compact form the program accepts
// as a vault_transaction_create argument: u8 length prefixes everywhere
// except instruction data, which uses a little-endian u16.
func (m *TransactionMessage) MarshalBinary() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if len(m.Instructions) > maxInstructions || len(m.AddressTableLookups) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: list length exceeds one byte", ErrMalformedMessage)
	}

	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)
	w := &errWriter{enc: enc}
	w.u8(m.NumSigners)
	w.u8(m.NumWritableSigners)
	w.u8(m.NumWritableNonSigners)
	w.u8(uint8(len(m.AccountKeys)))
	for _, key := range m.AccountKeys {
		w.raw(key[:])
	}
	w.u8(uint8(len(m.Instructions)))
	for i, ci := range m.Instructions {
		if len(ci.AccountIndexes) > maxInstructionAccounts {
			return nil, fmt.Errorf("%w: instruction %d has %d account indexes", ErrMalformedMessage, i, len(ci.AccountIndexes))
		}
		if len(ci.Data) > maxInstructionData {
			return nil, fmt.Errorf("%w: instruction %d has %d data bytes", ErrMalformedMessage, i, len(ci.Data))
		}
		w.u8(ci.ProgramIDIndex)
		w.u8(uint8(len(ci.AccountIndexes)))
		w.raw(ci.AccountIndexes)
		w.u16(uint16(len(ci.Data)))
		w.raw(ci.Data)
	}
	w.u8(uint8(len(m.AddressTableLookups)))
	for i, l := range m.AddressTableLookups {
		if len(l.WritableIndexes) > maxLookupIndexes || len(l.ReadonlyIndexes) > maxLookupIndexes {
			return nil, fmt.Errorf("%w: lookup %d has too many indexes", ErrMalformedMessage, i)
		}
		w.raw(l.AccountKey[:])
		w.u8(uint8(len(l.WritableIndexes)))
		w.raw(l.WritableIndexes)
		w.u8(uint8(len(l.ReadonlyIndexes)))
		w.raw(l.ReadonlyIndexes)
	}
	if w.err != nil {
		return nil, fmt.Errorf("failed to encode transaction message: %w", w.err)
	}
	return buf.Bytes(), nil
}

// DecodeTransactionMessage parses the compact encoding produced by
// MarshalBinary. Trailing bytes are rejected.
func DecodeTransactionMessage(data []byte) (*TransactionMessage, error) {
	r := &errReader{dec: bin.NewBorshDecoder(data)}
	m := &TransactionMessage{
		NumSigners:            r.u8(),
		NumWritableSigners:    r.u8(),
		NumWritableNonSigners: r.u8(),
	}
	m.AccountKeys = make([]solana.PublicKey, r.u8())
	for i := range m.AccountKeys {
		m.AccountKeys[i] = r.key()
	}
	m.Instructions = make([]CompiledInstruction, r.u8())
	for i := range m.Instructions {
		m.Instructions[i].ProgramIDIndex = r.u8()
		m.Instructions[i].AccountIndexes = r.bytes(int(r.u8()))
		m.Instructions[i].Data = r.bytes(int(r.u16()))
	}
	if n := int(r.u8()); n > 0 {
		m.AddressTableLookups = make([]AddressTableLookup, n)
		for i := range m.AddressTableLookups {
			m.AddressTableLookups[i].AccountKey = r.key()
			m.AddressTableLookups[i].WritableIndexes = r.bytes(int(r.u8()))
			m.AddressTableLookups[i].ReadonlyIndexes = r.bytes(int(r.u8()))
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, r.err)
	}
	if rest := r.dec.Remaining(); rest != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedMessage, rest)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
