package vault

import (
	"github.com/holiman/uint256"

	"github.com/harborfi/vaultd/internal/fixed"
)

// SharePrice returns totalUSD / totalShares at 9dp, or 1.0 while no shares
// are outstanding.
func SharePrice(totalUSD, totalShares *uint256.Int) (*uint256.Int, error) {
	if totalShares.IsZero() {
		return new(uint256.Int).Set(fixed.One), nil
	}
	return fixed.Div(totalUSD, totalShares)
}

// MintShares returns the shares minted for a USD amount at the share price
// before the mint. A positive amount that would mint zero shares is an error,
// never a silent zero.
func MintShares(usdAmount, sharePrice *uint256.Int) (*uint256.Int, error) {
	return fixed.Div(usdAmount, sharePrice)
}

// BurnAmount returns the USD amount released by burning shares at the share
// price after all pending value updates.
func BurnAmount(shares, sharePrice *uint256.Int) (*uint256.Int, error) {
	return fixed.Mul(shares, sharePrice)
}
