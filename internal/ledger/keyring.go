package ledger

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"prima/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Keyring holds the signing keys of the identities this service may act for. An actor
// without a key cannot authorize a submission.
type Keyring struct {
	keys map[common.Address]*ecdsa.PrivateKey
}

func NewKeyring(hexKeys []string) (*Keyring, error) {
	k := &Keyring{keys: make(map[common.Address]*ecdsa.PrivateKey, len(hexKeys))}
	for i, raw := range hexKeys {
		raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
		if raw == "" {
			continue
		}
		key, err := crypto.HexToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("signer key #%d: %w", i, err)
		}
		k.keys[crypto.PubkeyToAddress(key.PublicKey)] = key
	}
	return k, nil
}

func (k *Keyring) key(actor model.Identity) (*ecdsa.PrivateKey, error) {
	if k == nil {
		return nil, model.ErrNoSigner
	}
	key, ok := k.keys[actor.Address()]
	if !ok {
		return nil, model.ErrNoSigner
	}
	return key, nil
}

// Identities lists the actors the keyring can sign for.
func (k *Keyring) Identities() []model.Identity {
	if k == nil {
		return nil
	}
	out := make([]model.Identity, 0, len(k.keys))
	for addr := range k.keys {
		out = append(out, model.IdentityFromAddress(addr))
	}
	return out
}
