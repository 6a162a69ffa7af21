package signer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gagliardetto/solana-go"
	vault "github.com/hashicorp/vault/api"
)

// Transit signs with an ed25519 key that never leaves a Vault Transit
// secrets engine.
type Transit struct {
	logical *vault.Logical
	mount   string
	name    string
	pub     solana.PublicKey
}

// NewTransit reads the latest public key of the named transit key.
func NewTransit(ctx context.Context, client *vault.Client, mount, name string) (*Transit, error) {
	if mount == "" {
		mount = "transit"
	}
	t := &Transit{logical: client.Logical(), mount: mount, name: name}

	secret, err := t.logical.ReadWithContext(ctx, path.Join(mount, "keys", name))
	if err != nil {
		return nil, fmt.Errorf("failed to read transit key %s: %w", name, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("transit key %s not found", name)
	}
	if kind, _ := secret.Data["type"].(string); kind != "" && kind != "ed25519" {
		return nil, fmt.Errorf("transit key %s is %s, want ed25519", name, kind)
	}
	keys, ok := secret.Data["keys"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("transit key %s has no versions", name)
	}
	version := fmt.Sprint(secret.Data["latest_version"])
	entry, ok := keys[version].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("transit key %s has no version %s", name, version)
	}
	encoded, _ := entry["public_key"].(string)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) != solana.PublicKeyLength {
		return nil, fmt.Errorf("transit key %s has malformed public key", name)
	}
	t.pub = solana.PublicKeyFromBytes(raw)
	return t, nil
}

func (t *Transit) PublicKey() solana.PublicKey {
	return t.pub
}

func (t *Transit) Sign(ctx context.Context, message []byte) (solana.Signature, error) {
	secret, err := t.logical.WriteWithContext(ctx, path.Join(t.mount, "sign", t.name), map[string]interface{}{
		"input": base64.StdEncoding.EncodeToString(message),
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign with transit key %s: %w", t.name, err)
	}
	if secret == nil || secret.Data == nil {
		return solana.Signature{}, errors.New("transit sign returned no data")
	}
	value, _ := secret.Data["signature"].(string)
	// vault:v<version>:<base64>
	parts := strings.SplitN(value, ":", 3)
	if len(parts) != 3 || parts[0] != "vault" {
		return solana.Signature{}, fmt.Errorf("unexpected transit signature %q", value)
	}
	raw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(raw) != 64 {
		return solana.Signature{}, fmt.Errorf("malformed transit signature for key %s", t.name)
	}
	var sig solana.Signature
	copy(sig[:], raw)
	return sig, nil
}

func (t *Transit) String() string {
	return fmt.Sprintf("vault:%s/%s(%s)", t.mount, t.name, t.pub)
}
