// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestComputeFee(t *testing.T) {
	tests := []struct {
		name        string
		outputFloor *big.Int
		payment     *big.Int
		expected    *big.Int
	}{
		{
			name:        "typical spread",
			outputFloor: big.NewInt(100_000),
			payment:     big.NewInt(99_700),
			expected:    big.NewInt(300),
		},
		{
			name:        "zero fee when payment equals floor",
			outputFloor: big.NewInt(100_000),
			payment:     big.NewInt(100_000),
			expected:    big.NewInt(0),
		},
		{
			name:        "saturates at zero",
			outputFloor: big.NewInt(100),
			payment:     big.NewInt(150),
			expected:    big.NewInt(0),
		},
		{
			name:        "one wei fee",
			outputFloor: big.NewInt(1_000_000),
			payment:     big.NewInt(999_999),
			expected:    big.NewInt(1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee := ComputeFee(tt.outputFloor, tt.payment)
			require.Equal(t, 0, tt.expected.Cmp(fee), "expected %s, got %s", tt.expected, fee)
		})
	}
}

func TestCheckFeeBound(t *testing.T) {
	tests := []struct {
		name        string
		fee         *big.Int
		outputFloor *big.Int
		wantErr     error
	}{
		{
			name:        "exactly at cap",
			fee:         big.NewInt(300),
			outputFloor: big.NewInt(100_000),
			wantErr:     nil,
		},
		{
			name:        "one over cap",
			fee:         big.NewInt(301),
			outputFloor: big.NewInt(100_000),
			wantErr:     ErrFeeExceedsMax,
		},
		{
			name:        "zero fee always passes",
			fee:         big.NewInt(0),
			outputFloor: big.NewInt(1),
			wantErr:     nil,
		},
		{
			name:        "small floor rounds against fee",
			fee:         big.NewInt(1),
			outputFloor: big.NewInt(10),
			wantErr:     ErrFeeExceedsMax,
		},
		{
			name:        "large values no precision loss",
			fee:         new(big.Int).Mul(big.NewInt(3), big.NewInt(1e15)),
			outputFloor: new(big.Int).Mul(big.NewInt(1e18), big.NewInt(1)),
			wantErr:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckFeeBound(tt.fee, tt.outputFloor)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestMinAcceptableOutput(t *testing.T) {
	tests := []struct {
		name     string
		amountIn *big.Int
		slipBps  uint64
		expected *big.Int
	}{
		{"3% of 10000", big.NewInt(10_000), 300, big.NewInt(9_700)},
		{"zero slippage", big.NewInt(10_000), 0, big.NewInt(10_000)},
		{"full slippage floors at zero", big.NewInt(10_000), 10_000, big.NewInt(0)},
		{"rounding favors the bound", big.NewInt(3), 300, big.NewInt(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MinAcceptableOutput(tt.amountIn, tt.slipBps)
			require.Equal(t, 0, tt.expected.Cmp(got), "expected %s, got %s", tt.expected, got)
		})
	}
}

func TestSplitOutput(t *testing.T) {
	t.Run("exact delivery leaves zero refund", func(t *testing.T) {
		refund, err := SplitOutput(big.NewInt(100_000), big.NewInt(99_700), big.NewInt(300))
		require.NoError(t, err)
		require.Equal(t, int64(0), refund.Int64())
	})

	t.Run("surplus goes to refund", func(t *testing.T) {
		refund, err := SplitOutput(big.NewInt(100_500), big.NewInt(99_700), big.NewInt(300))
		require.NoError(t, err)
		require.Equal(t, int64(500), refund.Int64())
	})

	t.Run("shortfall rejected", func(t *testing.T) {
		_, err := SplitOutput(big.NewInt(99_999), big.NewInt(99_700), big.NewInt(300))
		require.ErrorIs(t, err, ErrExcessiveSlippage)
	})

	t.Run("conservation", func(t *testing.T) {
		outputs := []int64{100_000, 100_001, 123_456, 999_999_999}
		payment := big.NewInt(99_700)
		fee := big.NewInt(300)
		for _, out := range outputs {
			output := big.NewInt(out)
			refund, err := SplitOutput(output, payment, fee)
			require.NoError(t, err)
			total := new(big.Int).Add(new(big.Int).Add(payment, fee), refund)
			require.Equal(t, 0, output.Cmp(total), "payment + fee + refund should equal output")
		}
	})
}

func TestTransferFee(t *testing.T) {
	tests := []struct {
		name     string
		amount   uint64
		feeBps   uint64
		expected uint64
	}{
		{"5% of 1000", 1000, 500, 50},
		{"zero bps", 1000, 0, 0},
		{"zero amount", 0, 500, 0},
		{"rounds down", 199, 500, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TransferFee(uint256.NewInt(tt.amount), tt.feeBps)
			require.Equal(t, tt.expected, got.Uint64())
		})
	}
}

func BenchmarkComputeFee(b *testing.B) {
	floor := big.NewInt(100_000)
	payment := big.NewInt(99_700)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ComputeFee(floor, payment)
	}
}

func BenchmarkCheckFeeBound(b *testing.B) {
	fee := big.NewInt(300)
	floor := big.NewInt(100_000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = CheckFeeBound(fee, floor)
	}
}
