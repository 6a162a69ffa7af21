// Package cli maps vaultctl commands onto the multisig client.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gagliardetto/solana-go/rpc"
	vault "github.com/hashicorp/vault/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vaultctl/internal/config"
	"vaultctl/internal/journal"
	"vaultctl/internal/ledger"
	"vaultctl/internal/logger"
	"vaultctl/internal/metrics"
	"vaultctl/internal/multisig"
	"vaultctl/internal/signer"
)

// deps is everything a command needs, built once per invocation. Signing
// keys are not part of it; see signers.
type deps struct {
	cfg      *config.Config
	log      *zap.Logger
	loader   *signer.Loader
	ledger   *ledger.Client
	client   *multisig.Client
	journal  *journal.Journal
	registry *prometheus.Registry
}

func (d *deps) Close() {
	if d.journal != nil {
		d.journal.Close()
	}
	if d.ledger != nil {
		d.ledger.Close()
	}
	if d.log != nil {
		d.log.Sync()
	}
}

// keys are the signers of one submitting command.
type keys struct {
	members          []signer.Signer
	rentPayer        signer.Signer
	instructionPayer signer.Signer
}

// member returns the i-th configured member signer.
func (k *keys) member(i int) (signer.Signer, error) {
	if i < 0 || i >= len(k.members) {
		return nil, fmt.Errorf("member %d out of range, %d configured", i, len(k.members))
	}
	return k.members[i], nil
}

// signers resolves the configured key references. Only commands that
// submit call it, so read-only commands and serve never hold keys.
func (d *deps) signers(ctx context.Context) (*keys, error) {
	var (
		k   keys
		err error
	)
	if k.members, err = d.loader.LoadAll(ctx, d.cfg.MemberKeypairs); err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	if k.rentPayer, err = d.loader.Load(ctx, d.cfg.RentPayerKeypair); err != nil {
		return nil, fmt.Errorf("failed to load rent payer: %w", err)
	}
	if k.instructionPayer, err = d.loader.Load(ctx, d.cfg.InstructionPayerKeypair); err != nil {
		return nil, fmt.Errorf("failed to load instruction payer: %w", err)
	}
	return &k, nil
}

func loadDeps(ctx context.Context, cfgPath string) (*deps, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	d := &deps{
		cfg:      cfg,
		log:      log,
		loader:   &signer.Loader{TransitMount: cfg.Vault.TransitMount},
		registry: prometheus.NewRegistry(),
	}
	if cfg.Vault.Address != "" {
		vcfg := vault.DefaultConfig()
		vcfg.Address = cfg.Vault.Address
		vc, err := vault.NewClient(vcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create vault client: %w", err)
		}
		if cfg.Vault.Token != "" {
			vc.SetToken(cfg.Vault.Token)
		}
		d.loader.Vault = vc
	}

	if d.journal, err = journal.Open(cfg.JournalPath, log); err != nil {
		return nil, err
	}
	d.ledger, err = ledger.Dial(ctx, cfg.RPCURL, cfg.WSURL, rpc.CommitmentType(cfg.Commitment), log)
	if err != nil {
		d.Close()
		return nil, err
	}

	programID, _ := cfg.ProgramID()
	address, _ := cfg.MultisigAddress()
	d.client = multisig.New(d.ledger, address,
		multisig.WithProgramID(programID),
		multisig.WithVaultIndex(cfg.VaultIndex),
		multisig.WithMaxCreateAttempts(cfg.MaxCreateAttempts),
		multisig.WithLogger(log),
		multisig.WithObserver(d.journal.Recorder(address.String())),
		multisig.WithObserver(metrics.NewRecorder(d.registry)),
	)
	return d, nil
}

type app struct {
	cfgPath string
	out     io.Writer
	load    func(ctx context.Context, cfgPath string) (*deps, error)
	deps    *deps
}

// NewRootCommand builds the vaultctl command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	_, root := newApp(out)
	return root
}

func newApp(out io.Writer) (*app, *cobra.Command) {
	a := &app{out: out, load: loadDeps}
	root := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Operate a Squads v4 multisig vault",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.load(cmd.Context(), a.cfgPath)
			if err != nil {
				return err
			}
			a.deps = d
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "config file (default ./config.toml)")

	root.AddCommand(
		a.infoCommand(),
		a.createCommand(),
		a.proposeCommand(),
		a.voteCommand(true),
		a.voteCommand(false),
		a.executeCommand(),
		a.historyCommand(),
		a.serveCommand(),
	)
	return a, root
}

// run executes root and closes the journal and RPC connections whether or
// not the command failed. Cobra skips post-run hooks after a RunE error.
func (a *app) run(ctx context.Context, root *cobra.Command) error {
	defer a.close()
	return root.ExecuteContext(ctx)
}

func (a *app) close() {
	if a.deps != nil {
		a.deps.Close()
		a.deps = nil
	}
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	a, root := newApp(os.Stdout)
	if err := a.run(context.Background(), root); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func parseIndex(s string) (uint64, error) {
	index, err := strconv.ParseUint(s, 10, 64)
	if err != nil || index == 0 {
		return 0, fmt.Errorf("invalid transaction index %q", s)
	}
	return index, nil
}
