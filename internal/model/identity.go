package model

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is an account on the ledger. Two identities are equal when they name the
// same 20-byte address, whatever the case or 0x prefix of the text they were parsed from.
type Identity struct {
	addr common.Address
}

// ParseIdentity canonicalizes a hex address. Anything that is not a 20-byte hex address
// is a ValidationError.
func ParseIdentity(raw string) (Identity, error) {
	s := strings.TrimSpace(raw)
	if !common.IsHexAddress(s) {
		return Identity{}, NewValidationError("address", raw, "must be a 20-byte hex address")
	}
	return Identity{addr: common.HexToAddress(s)}, nil
}

// MustIdentity is ParseIdentity for constants and tests.
func MustIdentity(raw string) Identity {
	id, err := ParseIdentity(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func IdentityFromAddress(addr common.Address) Identity {
	return Identity{addr: addr}
}

func (i Identity) Address() common.Address { return i.addr }

// String returns the EIP-55 checksummed form.
func (i Identity) String() string { return i.addr.Hex() }

func (i Identity) Equal(other Identity) bool { return i.addr == other.addr }

func (i Identity) IsZero() bool { return i.addr == (common.Address{}) }

func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
