// Package multisig drives the Squads v4 proposal lifecycle: create a vault
// transaction at the next index, open its proposal, collect votes and
// execute. The ledger program is the only authority on membership, voting
// and sequencing; the client holds no mutable state of its own.
package multisig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"vaultctl/internal/ledger"
	"vaultctl/internal/squads"
)

// Ledger is the read and broadcast surface the client needs.
type Ledger interface {
	GetAccountData(ctx context.Context, address solana.PublicKey) ([]byte, error)
	GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

const defaultMaxCreateAttempts = 3

type Client struct {
	ledger      Ledger
	programID   solana.PublicKey
	multisig    solana.PublicKey
	vaultIndex  uint8
	maxAttempts int
	log         *zap.Logger
	observers   []Observer
	now         func() time.Time
}

type Option func(*Client)

func WithProgramID(id solana.PublicKey) Option {
	return func(c *Client) { c.programID = id }
}

func WithVaultIndex(index uint8) Option {
	return func(c *Client) { c.vaultIndex = index }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithObserver registers o to receive an Event after every submission.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithMaxCreateAttempts bounds the ProposeNext retry loop.
func WithMaxCreateAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func New(l Ledger, multisig solana.PublicKey, opts ...Option) *Client {
	c := &Client{
		ledger:      l,
		programID:   squads.DefaultProgramID,
		multisig:    multisig,
		maxAttempts: defaultMaxCreateAttempts,
		log:         zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.Stringer("multisig", multisig))
	return c
}

func (c *Client) Multisig() solana.PublicKey  { return c.multisig }
func (c *Client) ProgramID() solana.PublicKey { return c.programID }
func (c *Client) VaultIndex() uint8           { return c.vaultIndex }

// Vault returns the vault PDA the client executes against.
func (c *Client) Vault() (solana.PublicKey, error) {
	vault, _, err := squads.VaultPDA(c.programID, c.multisig, c.vaultIndex)
	return vault, err
}

// ReadMultisig fetches and decodes the multisig account.
func (c *Client) ReadMultisig(ctx context.Context) (*squads.Multisig, error) {
	data, err := c.read(ctx, OpReadSequence, 0, c.multisig)
	if err != nil {
		return nil, err
	}
	ms, err := squads.DecodeMultisig(c.multisig, data)
	if err != nil {
		return nil, err
	}
	return ms, nil
}

// ReadSequence returns the multisig's current transaction index. The next
// transaction must be created at the returned value plus one.
func (c *Client) ReadSequence(ctx context.Context) (uint64, error) {
	ms, err := c.ReadMultisig(ctx)
	if err != nil {
		return 0, err
	}
	return ms.TransactionIndex, nil
}

func (c *Client) ReadProposal(ctx context.Context, index uint64) (*squads.Proposal, error) {
	addr, _, err := squads.ProposalPDA(c.programID, c.multisig, index)
	if err != nil {
		return nil, err
	}
	data, err := c.read(ctx, OpReadProposal, index, addr)
	if err != nil {
		return nil, err
	}
	return squads.DecodeProposal(data)
}

func (c *Client) ReadVaultTransaction(ctx context.Context, index uint64) (*squads.VaultTransaction, error) {
	addr, _, err := squads.TransactionPDA(c.programID, c.multisig, index)
	if err != nil {
		return nil, err
	}
	data, err := c.read(ctx, OpReadTransaction, index, addr)
	if err != nil {
		return nil, err
	}
	return squads.DecodeVaultTransaction(data)
}

// VaultBalance returns the vault's lamport balance.
func (c *Client) VaultBalance(ctx context.Context) (uint64, error) {
	vault, err := c.Vault()
	if err != nil {
		return 0, err
	}
	lamports, err := c.ledger.GetBalance(ctx, vault)
	if err != nil {
		return 0, &OpError{Op: OpReadBalance, Kind: ErrNetwork, Err: err}
	}
	return lamports, nil
}

// read returns missing accounts as ledger.ErrAccountNotFound and every other
// failure as ErrNetwork.
func (c *Client) read(ctx context.Context, op string, index uint64, addr solana.PublicKey) ([]byte, error) {
	data, err := c.ledger.GetAccountData(ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, fmt.Errorf("%s #%d: %w", op, index, err)
	}
	if err != nil {
		return nil, &OpError{Op: op, Index: index, Kind: ErrNetwork, Err: err}
	}
	return data, nil
}
