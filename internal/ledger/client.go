// Package ledger is the broadcast-and-confirm surface over a Solana RPC node.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	confirm "github.com/gagliardetto/solana-go/rpc/sendAndConfirmTransaction"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrAccountNotFound = errors.New("account not found")

// Client talks to one RPC endpoint and its websocket for confirmations.
type Client struct {
	rpc        *rpc.Client
	ws         *ws.Client
	commitment rpc.CommitmentType
	log        *zap.Logger
}

// Dial connects the websocket used to wait for confirmations.
func Dial(ctx context.Context, rpcURL, wsURL string, commitment rpc.CommitmentType, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	wsClient, err := ws.Connect(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect websocket %s: %w", wsURL, err)
	}
	return &Client{
		rpc:        rpc.New(rpcURL),
		ws:         wsClient,
		commitment: commitment,
		log:        log,
	}, nil
}

func (c *Client) Close() {
	c.ws.Close()
}

// GetAccountData returns the raw data of an account, or ErrAccountNotFound.
func (c *Client) GetAccountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	acc, err := c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Commitment: c.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account %s: %w", address, err)
	}
	if acc == nil || acc.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	return acc.Value.Data.GetBinary(), nil
}

func (c *Client) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, address, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch balance of %s: %w", address, err)
	}
	return out.Value, nil
}

func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

// SendAndConfirm submits a signed transaction with preflight simulation and
// waits for its confirmation.
func (c *Client) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := confirm.SendAndConfirmTransaction(ctx, c.rpc, c.ws, tx)
	if err != nil {
		if code, ok := ProgramErrorCode(err); ok {
			c.log.Debug("transaction rejected", zap.Uint32("code", code), zap.Error(err))
		}
		return solana.Signature{}, err
	}
	return sig, nil
}

// LamportsToSOL converts a lamport amount into SOL.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9)
}
