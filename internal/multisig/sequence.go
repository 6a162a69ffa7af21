package multisig

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"vaultctl/internal/signer"
	"vaultctl/internal/squads"
)

// ProposeNext creates instructions and their proposal at the next free
// index. The counter is shared by every member, so a create that loses the
// race for its index is rejected; ProposeNext then re-reads the counter and
// tries again at the new index. Only ErrStaleSequence is retried.
func (c *Client) ProposeNext(
	ctx context.Context,
	proposer, rentPayer signer.Signer,
	instructions []solana.Instruction,
) (uint64, solana.Signature, error) {
	vault, err := c.Vault()
	if err != nil {
		return 0, solana.Signature{}, compileError(OpProposeNext, 0, err)
	}
	if _, err := squads.CompileMessage(vault, instructions); err != nil {
		return 0, solana.Signature{}, compileError(OpProposeNext, 0, err)
	}

	var last error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		current, err := c.ReadSequence(ctx)
		if err != nil {
			return 0, solana.Signature{}, err
		}
		index := current + 1
		sig, err := c.CreateAndPropose(ctx, proposer, rentPayer, instructions, index)
		if err == nil {
			return index, sig, nil
		}
		if !errors.Is(err, ErrStaleSequence) {
			return index, solana.Signature{}, err
		}
		last = err
		c.log.Warn("transaction index taken, re-reading",
			zap.Uint64("index", index),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxAttempts),
		)
		if err := ctx.Err(); err != nil {
			return index, solana.Signature{}, err
		}
	}
	return 0, solana.Signature{}, fmt.Errorf("%s: gave up after %d attempts: %w", OpProposeNext, c.maxAttempts, last)
}
