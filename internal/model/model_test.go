package model

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityEqualityIgnoresCase(t *testing.T) {
	lower, err := ParseIdentity("0x8ba1f109551bd432803012645ac136ddd64dba72")
	require.NoError(t, err)
	mixed, err := ParseIdentity(" 0x8ba1f109551bD432803012645Ac136ddd64DBA72 ")
	require.NoError(t, err)

	assert.True(t, lower.Equal(mixed))
	assert.Equal(t, "0x8ba1f109551bD432803012645Ac136ddd64DBA72", lower.String())
}

func TestParseIdentityRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "0x1234", "not-an-address", "0xZZa1f109551bd432803012645ac136ddd64dba72"} {
		_, err := ParseIdentity(raw)
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr), "input %q", raw)
	}
}

func TestParseAmountScalesBy18Decimals(t *testing.T) {
	v, err := ParseAmount("amount", "1000")
	require.NoError(t, err)
	assert.Equal(t, WholeAmount(1000), v)

	v, err = ParseAmount("amount", "12.5")
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("12500000000000000000", 10)
	assert.Equal(t, want, v)

	v, err = ParseAmount("amount", "0.000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), v)
}

func TestParseAmountRejects(t *testing.T) {
	cases := []string{"", "abc", "-1", "0.0000000000000000001"}
	for _, raw := range cases {
		_, err := ParseAmount("amount", raw)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "input %q", raw)
		assert.Equal(t, "amount", verr.Field)
	}
}

func TestParseAmountBounds(t *testing.T) {
	maxUint := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	v, err := ParseAmount("amount", FormatAmount(maxUint))
	require.NoError(t, err)
	assert.Equal(t, maxUint, v)

	over := new(big.Int).Add(maxUint, big.NewInt(1))
	cases := []string{
		FormatAmount(over),
		"1e3000000",
		"1e-3000000",
		"1e79",
		strings.Repeat("9", 101),
	}
	for _, raw := range cases {
		_, err := ParseAmount("amount", raw)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "input %q", raw)
		assert.Equal(t, "amount", verr.Field)
	}

	v, err = ParseAmount("amount", "1e3")
	require.NoError(t, err)
	assert.Equal(t, WholeAmount(1000), v)
}

func TestFormatAmountRoundTrip(t *testing.T) {
	for _, raw := range []string{"0", "1", "990", "12.5", "0.000000000000000001"} {
		v, err := ParseAmount("amount", raw)
		require.NoError(t, err)
		assert.Equal(t, raw, FormatAmount(v))
	}
	assert.Equal(t, "0", FormatAmount(nil))
}

func TestCreditTier(t *testing.T) {
	assert.Equal(t, "A", TierA.String())
	assert.Equal(t, "F", TierF.String())
	assert.False(t, CreditTier(6).Valid())

	tier, err := ParseCreditTier("c")
	require.NoError(t, err)
	assert.Equal(t, TierC, tier)

	tier, err = ParseCreditTier("4")
	require.NoError(t, err)
	assert.Equal(t, TierE, tier)

	_, err = ParseCreditTier("G")
	assert.Error(t, err)
}

func TestInvoiceStatusClosed(t *testing.T) {
	assert.True(t, StatusPaid.Closed())
	assert.True(t, StatusOverdue.Closed())
	assert.False(t, StatusNew.Closed())
	assert.Equal(t, "IN_PROGRESS", StatusInProgress.String())
	assert.False(t, InvoiceStatus(9).Valid())
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("Marketplace")
	require.NoError(t, err)
	assert.Equal(t, RoleMarketplace, r)
	assert.False(t, r.Indexed())
	assert.True(t, RoleDebtor.Indexed())

	_, err = ParseRole("admin")
	assert.Error(t, err)
}

func TestTransactionStateNeverSkipsSubmitted(t *testing.T) {
	hash := common.HexToHash("0x01")
	idle := IdleState()

	_, ok := idle.Next(PhaseConfirmed, hash, "")
	assert.False(t, ok)
	_, ok = idle.Next(PhaseFailed, hash, "boom")
	assert.False(t, ok)

	submitted, ok := idle.Next(PhaseSubmitted, hash, "")
	require.True(t, ok)
	assert.Equal(t, hash, submitted.Hash)

	_, ok = submitted.Next(PhaseSubmitted, hash, "")
	assert.False(t, ok, "a second submission while one is outstanding")

	confirmed, ok := submitted.Next(PhaseConfirmed, common.Hash{}, "")
	require.True(t, ok)
	assert.Equal(t, hash, confirmed.Hash)

	_, ok = confirmed.Next(PhaseFailed, hash, "late")
	assert.False(t, ok)
}

func TestWithAllowanceBuildsDependency(t *testing.T) {
	actor := MustIdentity("0x8ba1f109551bd432803012645ac136ddd64dba72")
	spender := MustIdentity("0x0000000000000000000000000000000000000abc")
	intent := NewIntent(IntentInvest, actor).WithAllowance(spender, WholeAmount(5))

	require.NotNil(t, intent.DependsOn)
	assert.Equal(t, IntentApprove, intent.DependsOn.Kind)
	assert.True(t, intent.DependsOn.Spender.Equal(spender))
	assert.Equal(t, WholeAmount(5), intent.DependsOn.Amount)
	assert.True(t, IntentInvest.NeedsAllowance())
	assert.False(t, IntentPay.NeedsAllowance())
}
