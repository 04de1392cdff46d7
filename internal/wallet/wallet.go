// Package wallet models the parent/child wallet hierarchy a run operates on.
package wallet

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-swarm/internal/keycodec"
)

// Wallet is a single on-chain account. The secret key, when present, is the
// canonical base58 form; the core never signs with it, only forwards it to
// the exchange API.
type Wallet struct {
	Address   string    `json:"address"`
	SecretKey string    `json:"secret_key,omitempty"`
	Name      string    `json:"name"`
	Index     int       `json:"index"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Validate checks the address and, when present, the secret key.
func (w *Wallet) Validate() error {
	if _, err := solana.PublicKeyFromBase58(w.Address); err != nil {
		return fmt.Errorf("wallet %q has invalid address: %w", w.Name, err)
	}
	if w.SecretKey != "" && !keycodec.IsCanonical(w.SecretKey) {
		return fmt.Errorf("wallet %s has non-canonical secret key", keycodec.Mask(w.Address))
	}
	return nil
}

// HasSecret reports whether the wallet can sign upstream operations.
func (w *Wallet) HasSecret() bool { return w.SecretKey != "" }

// Set is an ordered list of child wallets plus the distinguished parent.
// Children keep a stable order because selection policies depend on it.
type Set struct {
	Parent   Wallet
	Children []Wallet
}

// Validate checks every wallet, address uniqueness, and that the parent is
// not listed among the children.
func (s *Set) Validate() error {
	if err := s.Parent.Validate(); err != nil {
		return fmt.Errorf("parent: %w", err)
	}

	seen := make(map[string]struct{}, len(s.Children)+1)
	seen[s.Parent.Address] = struct{}{}

	for i := range s.Children {
		child := &s.Children[i]
		if err := child.Validate(); err != nil {
			return fmt.Errorf("child %d: %w", i, err)
		}
		if child.Address == s.Parent.Address {
			return fmt.Errorf("parent wallet %s listed as child %d", keycodec.Mask(child.Address), i)
		}
		if _, dup := seen[child.Address]; dup {
			return fmt.Errorf("duplicate wallet address %s at child %d", keycodec.Mask(child.Address), i)
		}
		seen[child.Address] = struct{}{}
	}
	return nil
}

// Addresses returns the child addresses in order.
func (s *Set) Addresses() []string {
	addrs := make([]string, len(s.Children))
	for i, w := range s.Children {
		addrs[i] = w.Address
	}
	return addrs
}
