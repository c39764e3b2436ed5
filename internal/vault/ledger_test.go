package vault

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/harborfi/vaultd/internal/fixed"
)

func TestSharePriceEmptyVault(t *testing.T) {
	price, err := SharePrice(uint256.NewInt(0), uint256.NewInt(0))
	require.NoError(t, err)
	require.Equal(t, fixed.One, price)
}

func TestSharePrice(t *testing.T) {
	price, err := SharePrice(usd(950), usd(1000))
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(950_000_000), price)
}

func TestMintBurnRoundTrip(t *testing.T) {
	price := uint256.NewInt(1_250_000_000) // 1.25

	shares, err := MintShares(usd(100), price)
	require.NoError(t, err)
	require.Equal(t, usd(80), shares)

	amount, err := BurnAmount(shares, price)
	require.NoError(t, err)
	require.Equal(t, usd(100), amount)
}

func TestMintSharesDustAmount(t *testing.T) {
	// One base unit at a 2.00 share price truncates to zero shares, which
	// must surface as an error rather than minting nothing silently.
	_, err := MintShares(uint256.NewInt(1), uint256.NewInt(2_000_000_000))
	require.ErrorIs(t, err, fixed.ErrBelowScale)
}
