package signer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

const (
	prefixBase58 = "base58:"
	prefixVault  = "vault:"
)

// Loader resolves signer references from configuration:
//
//	/path/to/id.json   solana-keygen file
//	base58:<secret>    exported secret key
//	vault:<key name>   Vault Transit key
type Loader struct {
	Vault        *vault.Client
	TransitMount string
}

func (l *Loader) Load(ctx context.Context, ref string) (Signer, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, errors.New("empty signer reference")
	case strings.HasPrefix(ref, prefixBase58):
		return ParseBase58(strings.TrimPrefix(ref, prefixBase58))
	case strings.HasPrefix(ref, prefixVault):
		if l.Vault == nil {
			return nil, fmt.Errorf("signer %q needs vault but no vault client is configured", ref)
		}
		return NewTransit(ctx, l.Vault, l.TransitMount, strings.TrimPrefix(ref, prefixVault))
	default:
		return LoadKeypairFile(ref)
	}
}

// LoadAll resolves refs in order.
func (l *Loader) LoadAll(ctx context.Context, refs []string) ([]Signer, error) {
	out := make([]Signer, 0, len(refs))
	for i, ref := range refs {
		s, err := l.Load(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("signer %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}
