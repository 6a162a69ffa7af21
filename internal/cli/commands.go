package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"vaultctl/internal/api"
	"vaultctl/internal/ledger"
	"vaultctl/internal/memo"
)

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the multisig, its vault and the current transaction index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.deps.client
			ms, err := c.ReadMultisig(cmd.Context())
			if err != nil {
				return err
			}
			vault, err := c.Vault()
			if err != nil {
				return err
			}
			lamports, err := c.VaultBalance(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Multisig:          %s\n", ms.Address)
			fmt.Fprintf(a.out, "Vault #%d:          %s (%s SOL)\n", c.VaultIndex(), vault, ledger.LamportsToSOL(lamports))
			fmt.Fprintf(a.out, "Threshold:         %d of %d\n", ms.Threshold, len(ms.Members))
			fmt.Fprintf(a.out, "Transaction index: %d (stale below %d)\n", ms.TransactionIndex, ms.StaleTransactionIndex+1)
			for i, m := range ms.Members {
				fmt.Fprintf(a.out, "Member %d:          %s permissions=%03b\n", i, m.Key, m.Permissions)
			}
			return nil
		},
	}
}

func (a *app) createCommand() *cobra.Command {
	var (
		index      uint64
		member     int
		noProposal bool
	)
	cmd := &cobra.Command{
		Use:   "create <memo>",
		Short: "Create a vault transaction carrying a memo, with its proposal",
		Long: `Create a vault transaction whose only instruction is a memo signed by the
instruction payer. Without --index the next free index is used, retrying
if another member takes it first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, ctx := a.deps, cmd.Context()
			k, err := d.signers(ctx)
			if err != nil {
				return err
			}
			proposer, err := k.member(member)
			if err != nil {
				return err
			}
			ix, err := memo.NewInstruction(args[0], k.instructionPayer.PublicKey())
			if err != nil {
				return err
			}
			batch := []solana.Instruction{ix}

			var sig solana.Signature
			switch {
			case index == 0:
				index, sig, err = d.client.ProposeNext(ctx, proposer, k.rentPayer, batch)
			case noProposal:
				sig, err = d.client.CreateVaultTransaction(ctx, proposer, k.rentPayer, batch, index)
			default:
				sig, err = d.client.CreateAndPropose(ctx, proposer, k.rentPayer, batch, index)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created transaction #%d: %s\n", index, sig)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&index, "index", 0, "explicit transaction index (must be current+1)")
	cmd.Flags().IntVarP(&member, "member", "m", 0, "proposing member")
	cmd.Flags().BoolVar(&noProposal, "no-proposal", false, "with --index, create only the transaction")
	return cmd
}

func (a *app) proposeCommand() *cobra.Command {
	var member int
	cmd := &cobra.Command{
		Use:   "propose <index>",
		Short: "Open the proposal for an existing vault transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			k, err := a.deps.signers(cmd.Context())
			if err != nil {
				return err
			}
			proposer, err := k.member(member)
			if err != nil {
				return err
			}
			sig, err := a.deps.client.CreateProposal(cmd.Context(), proposer, k.rentPayer, index)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Proposed #%d: %s\n", index, sig)
			return nil
		},
	}
	cmd.Flags().IntVarP(&member, "member", "m", 0, "proposing member")
	return cmd
}

// voteCommand builds approve or reject. Each listed member votes in its own
// transaction; the first failure stops the run.
func (a *app) voteCommand(approve bool) *cobra.Command {
	use, verb := "reject", "Rejected"
	if approve {
		use, verb = "approve", "Approved"
	}
	var members []int
	cmd := &cobra.Command{
		Use:   use + " <index>",
		Short: "Record member votes on a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			k, err := a.deps.signers(cmd.Context())
			if err != nil {
				return err
			}
			for _, i := range members {
				m, err := k.member(i)
				if err != nil {
					return err
				}
				vote := a.deps.client.RejectProposal
				if approve {
					vote = a.deps.client.ApproveProposal
				}
				sig, err := vote(cmd.Context(), m, k.rentPayer, index)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s #%d as member %d: %s\n", verb, index, i, sig)
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVarP(&members, "member", "m", []int{0}, "voting members")
	return cmd
}

func (a *app) executeCommand() *cobra.Command {
	var (
		member int
		text   string
	)
	cmd := &cobra.Command{
		Use:   "execute <index>",
		Short: "Execute an approved vault transaction",
		Long: `Execute an approved vault transaction. By default the stored message is
used; --memo recompiles the batch locally and must match what was stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			d := a.deps
			k, err := d.signers(cmd.Context())
			if err != nil {
				return err
			}
			executor, err := k.member(member)
			if err != nil {
				return err
			}
			var sig solana.Signature
			if text == "" {
				sig, err = d.client.ExecuteStored(cmd.Context(), executor, k.rentPayer, k.instructionPayer, index)
			} else {
				ix, ierr := memo.NewInstruction(text, k.instructionPayer.PublicKey())
				if ierr != nil {
					return ierr
				}
				sig, err = d.client.ExecuteVaultTransaction(cmd.Context(), executor, k.rentPayer, k.instructionPayer, index, []solana.Instruction{ix})
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Executed #%d: %s\n", index, sig)
			return nil
		},
	}
	cmd.Flags().IntVarP(&member, "member", "m", 0, "executing member")
	cmd.Flags().StringVar(&text, "memo", "", "memo to recompile instead of the stored message")
	return cmd
}

func (a *app) historyCommand() *cobra.Command {
	var (
		index uint64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded submissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := a.deps
			entries, err := d.journal.List(cmd.Context(), limit)
			if index != 0 {
				entries, err = d.journal.ForIndex(cmd.Context(), d.client.Multisig().String(), index)
			}
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AT\tOP\tINDEX\tRESULT")
			for _, e := range entries {
				result := e.Signature
				if e.Kind != "" {
					result = e.Kind + ": " + e.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.At.Local().Format("2006-01-02 15:04:05"), e.Op, e.Index, result)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Uint64Var(&index, "index", 0, "only this transaction index")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries")
	return cmd
}

func (a *app) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve multisig status, the journal and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := a.deps
			if addr == "" {
				addr = d.cfg.ListenAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return api.NewServer(d.client, d.journal, d.registry, d.log).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "listen address (default from config)")
	return cmd
}
