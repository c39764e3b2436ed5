package fixed

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestMul(t *testing.T) {
	tests := []struct {
		name string
		a    uint64
		b    uint64
		want uint64
	}{
		{"one times one", 1_000_000_000, 1_000_000_000, 1_000_000_000},
		{"half times half", 500_000_000, 500_000_000, 250_000_000},
		{"two times three", 2_000_000_000, 3_000_000_000, 6_000_000_000},
		{"zero left", 0, 1_000_000_000, 0},
		{"zero right", 1_000_000_000, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Mul(uint256.NewInt(tt.a), uint256.NewInt(tt.b))
			require.NoError(t, err)
			require.Equal(t, uint256.NewInt(tt.want), got)
		})
	}
}

func TestMulBelowScale(t *testing.T) {
	// 1e-9 * 1e-9 is positive but rounds to zero at 9dp.
	_, err := Mul(uint256.NewInt(1), uint256.NewInt(1))
	require.ErrorIs(t, err, ErrBelowScale)
}

func TestDiv(t *testing.T) {
	got, err := Div(uint256.NewInt(6_000_000_000), uint256.NewInt(3_000_000_000))
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(2_000_000_000), got)

	_, err = Div(uint256.NewInt(1), uint256.NewInt(0))
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestMulDivOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	_, err := MulDiv(max, uint256.NewInt(2), Scale)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestRescale(t *testing.T) {
	tests := []struct {
		name    string
		v       uint64
		from    uint8
		to      uint8
		want    uint64
		wantErr error
	}{
		{"same precision", 123, 9, 9, 123, nil},
		{"scale up 6 to 9", 1_500_000, 6, 9, 1_500_000_000, nil},
		{"scale down 18 to 9", 2_000_000_000, 18, 9, 2, nil},
		{"scale down to zero", 1, 18, 9, 0, ErrBelowScale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Rescale(uint256.NewInt(tt.v), tt.from, tt.to)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, uint256.NewInt(tt.want), got)
		})
	}
}

func TestRescaleDoesNotAliasInput(t *testing.T) {
	v := uint256.NewInt(42)
	got, err := Rescale(v, 9, 9)
	require.NoError(t, err)
	got.SetUint64(7)
	require.Equal(t, uint256.NewInt(42), v)
}

func TestFromUnits(t *testing.T) {
	require.Equal(t, uint256.NewInt(5_000_000_000), FromUnits(5))
	require.True(t, FromUnits(0).IsZero())
}
