package multisig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"vaultctl/internal/ledger"
	"vaultctl/internal/signer"
	"vaultctl/internal/squads"
)

// Operation names used in errors, events and logs.
const (
	OpCreateTransaction = "create_transaction"
	OpCreateProposal    = "create_proposal"
	OpCreateAndPropose  = "create_and_propose"
	OpProposeNext       = "propose_next"
	OpApprove           = "approve"
	OpReject            = "reject"
	OpExecute           = "execute"
	OpReadSequence      = "read_sequence"
	OpReadProposal      = "read_proposal"
	OpReadTransaction   = "read_transaction"
	OpReadBalance       = "read_balance"
)

// maxTransactionSize is the cluster's packet data limit.
const (
	maxTransactionSize = 1232
	signatureLength    = 64
)

// Event describes the outcome of one submission.
type Event struct {
	Op        string
	Index     uint64
	Signature solana.Signature
	Err       error
	Duration  time.Duration
	At        time.Time
}

type Observer interface {
	Observe(ctx context.Context, e Event)
}

type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) Observe(ctx context.Context, e Event) { f(ctx, e) }

// submission is one atomic ledger transaction.
type submission struct {
	op           string
	index        uint64
	payer        signer.Signer
	signers      []signer.Signer
	instructions []solana.Instruction
	fields       []zap.Field
}

// submit signs and broadcasts s, classifies any failure and notifies the
// observers. It never retries.
func (c *Client) submit(ctx context.Context, s submission) (solana.Signature, error) {
	start := c.now()
	sig, err := c.send(ctx, s)
	if err != nil {
		err = classify(s.op, s.index, err)
	}

	fields := append([]zap.Field{zap.String("op", s.op), zap.Uint64("index", s.index)}, s.fields...)
	if err != nil {
		c.log.Warn("submission failed", append(fields, zap.String("kind", KindOf(err)), zap.Error(err))...)
	} else {
		c.log.Info("submission confirmed", append(fields, zap.Stringer("signature", sig))...)
	}

	e := Event{Op: s.op, Index: s.index, Signature: sig, Err: err, At: start, Duration: c.now().Sub(start)}
	for _, o := range c.observers {
		o.Observe(ctx, e)
	}
	return sig, err
}

// send returns local failures as *OpError with the kind already set and
// cluster failures unclassified.
func (c *Client) send(ctx context.Context, s submission) (solana.Signature, error) {
	tx, err := solana.NewTransaction(s.instructions, solana.Hash{}, solana.TransactionPayer(s.payer.PublicKey()))
	if err != nil {
		return solana.Signature{}, &OpError{Kind: ErrCompilation, Err: err}
	}
	if err := checkSize(tx); err != nil {
		return solana.Signature{}, &OpError{Kind: ErrCompilation, Err: err}
	}
	blockhash, err := c.ledger.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, &OpError{Kind: ErrNetwork, Err: err}
	}
	tx.Message.RecentBlockhash = blockhash

	set := signer.NewSet(s.payer)
	for _, sg := range s.signers {
		set.Add(sg)
	}
	if err := set.SignTransaction(ctx, tx); err != nil {
		kind := ErrNetwork
		if errors.Is(err, signer.ErrMissingSigner) {
			kind = ErrCompilation
		}
		return solana.Signature{}, &OpError{Kind: kind, Err: err}
	}
	return c.ledger.SendAndConfirm(ctx, tx)
}

func classify(op string, index uint64, err error) error {
	var local *OpError
	if errors.As(err, &local) {
		local.Op, local.Index = op, index
		return local
	}
	e := &OpError{Op: op, Index: index, Err: err}
	e.Code, e.HasCode = ledger.ProgramErrorCode(err)
	switch {
	case !ledger.IsRejection(err):
		e.Kind = ErrNetwork
	case createsTransaction(op) && e.HasCode && squads.IsSequenceConflict(e.Code):
		e.Kind = ErrStaleSequence
	default:
		e.Kind = ErrRejected
	}
	return e
}

// compileError reports a batch that failed to build before any network
// call.
func compileError(op string, index uint64, err error) error {
	return &OpError{Op: op, Index: index, Kind: ErrCompilation, Err: err}
}

func createsTransaction(op string) bool {
	return op == OpCreateTransaction || op == OpCreateAndPropose
}

func checkSize(tx *solana.Transaction) error {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return err
	}
	n := int(tx.Message.Header.NumRequiredSignatures)
	size := shortVecLen(n) + n*signatureLength + len(msg)
	if size > maxTransactionSize {
		return fmt.Errorf("transaction is %d bytes, limit is %d", size, maxTransactionSize)
	}
	return nil
}

func shortVecLen(n int) int {
	l := 1
	for n >= 0x80 {
		n >>= 7
		l++
	}
	return l
}
