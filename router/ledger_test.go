// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"fmt"
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

func TestRecordSettlementAssignsSequentialIDs(t *testing.T) {
	state := NewMockStateDB()
	recipient := common.HexToAddress("0x1111111111111111111111111111111111111111")
	asset := Asset{Address: common.HexToAddress("0x2222222222222222222222222222222222222222")}

	require.Equal(t, uint64(0), LastSettlementID(state))

	for i := 1; i <= 5; i++ {
		id, err := recordSettlement(state, recipient, asset, uint256.NewInt(100), 1000, "")
		require.NoError(t, err)
		require.Equal(t, uint64(i), id)
	}
	require.Equal(t, uint64(5), LastSettlementID(state))
}

func TestSettlementRoundTrip(t *testing.T) {
	state := NewMockStateDB()
	recipient := common.HexToAddress("0x1111111111111111111111111111111111111111")
	asset := Asset{Address: common.HexToAddress("0x2222222222222222222222222222222222222222")}

	tests := []struct {
		name string
		memo string
	}{
		{"empty memo", ""},
		{"short memo", "invoice-42"},
		{"exactly one word", strings.Repeat("a", 32)},
		{"word boundary plus one", strings.Repeat("b", 33)},
		{"max length", strings.Repeat("c", MaxMemoBytes)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := recordSettlement(state, recipient, asset, uint256.NewInt(42_000), 1234, tt.memo)
			require.NoError(t, err)

			rec, err := GetSettlement(state, id)
			require.NoError(t, err)
			require.Equal(t, recipient, rec.Recipient)
			require.Equal(t, int64(42_000), rec.PaymentAmount.Int64())
			require.Equal(t, uint64(1234), rec.Timestamp)
			require.Equal(t, tt.memo, rec.Memo)
		})
	}
}

func TestRecordSettlementRejectsOversizedMemo(t *testing.T) {
	state := NewMockStateDB()
	recipient := common.HexToAddress("0x1111111111111111111111111111111111111111")

	_, err := recordSettlement(state, recipient, NativeAsset, uint256.NewInt(1), 1, strings.Repeat("x", MaxMemoBytes+1))
	require.ErrorIs(t, err, ErrMemoTooLong)
	require.Equal(t, uint64(0), LastSettlementID(state), "failed record must not consume an id")
}

func TestAggregateCounters(t *testing.T) {
	state := NewMockStateDB()
	alice := common.HexToAddress("0xaaaa000000000000000000000000000000000000")
	bob := common.HexToAddress("0xbbbb000000000000000000000000000000000000")
	tokenA := Asset{Address: common.HexToAddress("0x0a00000000000000000000000000000000000001")}
	tokenB := Asset{Address: common.HexToAddress("0x0a00000000000000000000000000000000000002")}

	_, err := recordSettlement(state, alice, tokenA, uint256.NewInt(100), 1, "")
	require.NoError(t, err)
	_, err = recordSettlement(state, alice, tokenB, uint256.NewInt(200), 2, "")
	require.NoError(t, err)
	_, err = recordSettlement(state, bob, tokenA, uint256.NewInt(50), 3, "")
	require.NoError(t, err)

	require.Equal(t, uint64(2), SettlementCount(state, alice))
	require.Equal(t, uint64(1), SettlementCount(state, bob))
	require.Equal(t, uint64(150), VolumeByAsset(state, tokenA).Uint64())
	require.Equal(t, uint64(200), VolumeByAsset(state, tokenB).Uint64())
	require.Equal(t, uint64(300), VolumeByRecipient(state, alice).Uint64())
	require.Equal(t, uint64(50), VolumeByRecipient(state, bob).Uint64())
}

func TestGetSettlementBounds(t *testing.T) {
	state := NewMockStateDB()
	recipient := common.HexToAddress("0x1111111111111111111111111111111111111111")
	_, err := recordSettlement(state, recipient, NativeAsset, uint256.NewInt(1), 1, "")
	require.NoError(t, err)

	_, err = GetSettlement(state, 0)
	require.ErrorIs(t, err, ErrRangeExceedsLast)

	_, err = GetSettlement(state, 2)
	require.ErrorIs(t, err, ErrRangeExceedsLast)

	_, err = GetSettlement(state, 1)
	require.NoError(t, err)
}

func TestRangeQuery(t *testing.T) {
	state := NewMockStateDB()
	recipient := common.HexToAddress("0x1111111111111111111111111111111111111111")

	for i := 0; i < 150; i++ {
		_, err := recordSettlement(state, recipient, NativeAsset, uint256.NewInt(uint64(i+1)), uint64(i), fmt.Sprintf("memo-%d", i))
		require.NoError(t, err)
	}

	t.Run("ordered inclusive slice", func(t *testing.T) {
		records, err := RangeQuery(state, 10, 19)
		require.NoError(t, err)
		require.Len(t, records, 10)
		for i, rec := range records {
			require.Equal(t, int64(10+i), rec.PaymentAmount.Int64())
		}
	})

	t.Run("single record", func(t *testing.T) {
		records, err := RangeQuery(state, 7, 7)
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.Equal(t, "memo-6", records[0].Memo)
	})

	t.Run("at the cap", func(t *testing.T) {
		records, err := RangeQuery(state, 1, MaxRangeQuery)
		require.NoError(t, err)
		require.Len(t, records, int(MaxRangeQuery))
	})

	t.Run("over the cap", func(t *testing.T) {
		_, err := RangeQuery(state, 1, MaxRangeQuery+1)
		require.ErrorIs(t, err, ErrRangeTooLarge)
	})

	t.Run("inverted bounds", func(t *testing.T) {
		_, err := RangeQuery(state, 20, 10)
		require.ErrorIs(t, err, ErrInvalidRange)
	})

	t.Run("from zero", func(t *testing.T) {
		_, err := RangeQuery(state, 0, 5)
		require.ErrorIs(t, err, ErrInvalidRange)
	})

	t.Run("beyond last id", func(t *testing.T) {
		_, err := RangeQuery(state, 145, 155)
		require.ErrorIs(t, err, ErrRangeExceedsLast)
	})
}

func TestLedgerIsAppendOnly(t *testing.T) {
	state := NewMockStateDB()
	recipient := common.HexToAddress("0x1111111111111111111111111111111111111111")

	id, err := recordSettlement(state, recipient, NativeAsset, uint256.NewInt(777), 9, "first")
	require.NoError(t, err)

	before, err := GetSettlement(state, id)
	require.NoError(t, err)

	// Later records never touch earlier ones.
	for i := 0; i < 10; i++ {
		_, err := recordSettlement(state, recipient, NativeAsset, uint256.NewInt(1), uint64(i), "later")
		require.NoError(t, err)
	}

	after, err := GetSettlement(state, id)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func BenchmarkRecordSettlement(b *testing.B) {
	state := NewMockStateDB()
	recipient := common.HexToAddress("0x1111111111111111111111111111111111111111")
	amount := uint256.NewInt(100_000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = recordSettlement(state, recipient, NativeAsset, amount, uint64(i), "bench")
	}
}
