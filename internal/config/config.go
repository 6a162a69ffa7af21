// Package config loads vaultctl settings from config.toml with VAULTCTL_
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/spf13/viper"
)

type Config struct {
	MultisigProgramID       string      `mapstructure:"multisig_program_id"`
	Multisig                string      `mapstructure:"multisig"`
	VaultIndex              uint8       `mapstructure:"vault_index"`
	RPCURL                  string      `mapstructure:"rpc_url"`
	WSURL                   string      `mapstructure:"ws_url"`
	Commitment              string      `mapstructure:"commitment"`
	MaxCreateAttempts       int         `mapstructure:"max_create_attempts"`
	MemberKeypairs          []string    `mapstructure:"member_keypairs"`
	RentPayerKeypair        string      `mapstructure:"rent_payer_keypair"`
	InstructionPayerKeypair string      `mapstructure:"instruction_payer_keypair"`
	JournalPath             string      `mapstructure:"journal_path"`
	ListenAddr              string      `mapstructure:"listen_addr"`
	Env                     string      `mapstructure:"env"`
	Vault                   VaultConfig `mapstructure:"vault"`
}

// VaultConfig points at a HashiCorp Vault holding Transit signing keys.
// Only needed when a keypair reference uses the vault: prefix.
type VaultConfig struct {
	Address      string `mapstructure:"address"`
	Token        string `mapstructure:"token"`
	TransitMount string `mapstructure:"transit_mount"`
}

// Load reads path, or config.toml in the working directory when path is
// empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("vaultctl")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Every key needs a default so AutomaticEnv can override it on Unmarshal.
	v.SetDefault("multisig_program_id", "SQDS4ep65T869zMMBKyuUq6aD6EgTu8psMjkvj52pCf")
	v.SetDefault("multisig", "")
	v.SetDefault("vault_index", 0)
	v.SetDefault("rpc_url", rpc.LocalNet_RPC)
	v.SetDefault("ws_url", rpc.LocalNet_WS)
	v.SetDefault("commitment", string(rpc.CommitmentConfirmed))
	v.SetDefault("max_create_attempts", 3)
	v.SetDefault("member_keypairs", []string{
		"./squads_member1.json",
		"./squads_member2.json",
		"./squads_member3.json",
	})
	v.SetDefault("rent_payer_keypair", "./squads_payer.json")
	v.SetDefault("instruction_payer_keypair", "./instruction_payer.json")
	v.SetDefault("journal_path", "./vaultctl.db")
	v.SetDefault("listen_addr", "127.0.0.1:8088")
	v.SetDefault("env", "development")
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.transit_mount", "transit")
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if _, err := c.ProgramID(); err != nil {
		return err
	}
	if _, err := c.MultisigAddress(); err != nil {
		return err
	}
	if c.RPCURL == "" || c.WSURL == "" {
		return errors.New("rpc_url and ws_url are required")
	}
	switch rpc.CommitmentType(c.Commitment) {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		return fmt.Errorf("unsupported commitment %q", c.Commitment)
	}
	if len(c.MemberKeypairs) == 0 {
		return errors.New("at least one member keypair is required")
	}
	if c.MaxCreateAttempts < 1 {
		return fmt.Errorf("max_create_attempts must be positive, got %d", c.MaxCreateAttempts)
	}
	return nil
}

func (c *Config) ProgramID() (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(c.MultisigProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid multisig_program_id %q: %w", c.MultisigProgramID, err)
	}
	return key, nil
}

func (c *Config) MultisigAddress() (solana.PublicKey, error) {
	if c.Multisig == "" {
		return solana.PublicKey{}, errors.New("multisig address is required")
	}
	key, err := solana.PublicKeyFromBase58(c.Multisig)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid multisig %q: %w", c.Multisig, err)
	}
	return key, nil
}
