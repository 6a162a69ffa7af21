package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vaultctl/internal/config"
	"vaultctl/internal/journal"
	"vaultctl/internal/multisig"
	"vaultctl/internal/signer"
)

func TestCommandTree(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"info", "create", "propose", "approve", "reject", "execute", "history", "serve"} {
		assert.Contains(t, names, want)
	}

	approve, _, err := root.Find([]string{"approve"})
	require.NoError(t, err)
	flag := approve.Flags().Lookup("member")
	require.NotNil(t, flag)
	assert.Equal(t, "[0]", flag.DefValue)
}

func TestInvalidConfigStopsBeforeDialing(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(`multisig = "not-a-key"`), 0o600))

	root := NewRootCommand(&bytes.Buffer{})
	root.SetArgs([]string{"--config", p, "info"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestArgumentValidation(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})
	root.SetArgs([]string{"approve"})
	assert.Error(t, root.Execute())
}

func TestParseIndex(t *testing.T) {
	index, err := parseIndex("6")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), index)

	for _, bad := range []string{"0", "-1", "six", ""} {
		_, err := parseIndex(bad)
		assert.Error(t, err, bad)
	}
}

func TestKeysMember(t *testing.T) {
	k := &keys{}
	_, err := k.member(0)
	assert.Error(t, err)
}

// stubApp runs commands against deps built from cfg, with an in-memory
// journal and a client that is never dialed.
func stubApp(t *testing.T, cfg *config.Config) (*app, *cobra.Command, *bytes.Buffer, *journal.Journal) {
	t.Helper()
	j, err := journal.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	out := &bytes.Buffer{}
	a, root := newApp(out)
	a.load = func(context.Context, string) (*deps, error) {
		return &deps{
			cfg:     cfg,
			log:     zap.NewNop(),
			loader:  &signer.Loader{},
			journal: j,
			client:  multisig.New(nil, solana.NewWallet().PublicKey()),
		}, nil
	}
	return a, root, out, j
}

func TestDepsClosedWhenCommandFails(t *testing.T) {
	a, root, _, j := stubApp(t, &config.Config{})
	root.SetArgs([]string{"propose", "0"})
	err := a.run(context.Background(), root)
	require.ErrorContains(t, err, "invalid transaction index")

	assert.Nil(t, a.deps)
	_, err = j.List(context.Background(), 1)
	assert.Error(t, err, "journal should be closed")
}

func TestReadOnlyCommandsSkipSigners(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.json")
	cfg := &config.Config{
		MemberKeypairs:          []string{missing},
		RentPayerKeypair:        missing,
		InstructionPayerKeypair: missing,
	}

	a, root, out, _ := stubApp(t, cfg)
	root.SetArgs([]string{"history"})
	require.NoError(t, a.run(context.Background(), root))
	assert.Contains(t, out.String(), "RESULT")

	a, root, _, _ = stubApp(t, cfg)
	root.SetArgs([]string{"approve", "1"})
	err := a.run(context.Background(), root)
	assert.ErrorContains(t, err, "failed to load members")
}
