// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/payrouter/modules"
)

func selectorBytes(selector uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, selector)
	return b
}

func appendWord(dst []byte, w common.Hash) []byte { return append(dst, w.Bytes()...) }

func appendAddressWord(dst []byte, addr common.Address) []byte {
	return appendWord(dst, addressTopic(addr))
}

func appendUint64Word(dst []byte, v uint64) []byte { return appendWord(dst, uint64Topic(v)) }

func appendBigWord(dst []byte, v *big.Int) []byte { return append(dst, bigWord(v)...) }

// encodeSwapCall packs the swap calldata layout used by the precompile.
func encodeSwapCall(selector uint32, exchangeID byte, req *SwapRequest) []byte {
	var flags common.Hash
	if req.NativeIn {
		flags[31] |= 0x01
	}
	if req.NativeOut {
		flags[31] |= 0x02
	}
	if req.HasCommitment {
		flags[31] |= 0x04
	}
	flags[30] = exchangeID

	input := selectorBytes(selector)
	input = appendWord(input, flags)
	input = appendAddressWord(input, req.Recipient)
	input = appendBigWord(input, req.AmountSpecified)
	input = appendBigWord(input, req.AmountLimit)
	input = appendBigWord(input, req.PaymentAmount)
	input = appendUint64Word(input, req.Deadline)
	input = appendUint64Word(input, req.CommitNonce)
	input = appendUint64Word(input, uint64(len(req.Path)))
	input = appendUint64Word(input, uint64(len(req.Memo)))
	input = append(input, req.Path...)
	input = append(input, []byte(req.Memo)...)
	return input
}

// newContractEnv builds a fresh contract instance plus a funded state,
// mirroring newSwapEnv but driven through Run.
func newContractEnv(t *testing.T) (*RouterContract, *swapEnv) {
	t.Helper()
	env := newSwapEnv(t)
	c := newRouterContract()
	return c, env
}

func TestModuleRegistration(t *testing.T) {
	module, ok := modules.GetPrecompileModule(ConfigKey)
	require.True(t, ok)
	require.Equal(t, RouterAddress, module.Address)

	byAddr, ok := modules.GetPrecompileModuleByAddress(RouterAddress)
	require.True(t, ok)
	require.Equal(t, ConfigKey, byAddr.ConfigKey)
}

func TestRunRejectsShortInput(t *testing.T) {
	c, env := newContractEnv(t)
	_, _, err := c.Run(env.as, trader, RouterAddress, []byte{0x01}, GasSwapSettle, false)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestRunRejectsUnknownSelector(t *testing.T) {
	c, env := newContractEnv(t)
	_, _, err := c.Run(env.as, trader, RouterAddress, selectorBytes(0xdeadbeef), GasSwapSettle, false)
	require.ErrorIs(t, err, ErrUnknownSelector)
}

func TestRunSwapExactInput(t *testing.T) {
	c, env := newContractEnv(t)
	input := encodeSwapCall(SelectorSwapExactInput, ExchangePool, tokenRequest())

	ret, remaining, err := c.Run(env.as, trader, RouterAddress, input, GasSwapSettle+1_000, false)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), remaining)
	require.Len(t, ret, 5*32)

	// First return word is the settlement id.
	require.Equal(t, uint64(1), binary.BigEndian.Uint64(ret[24:32]))
	require.Equal(t, uint64(9_780), TokenBalance(env.state, tokenY, recipientAddr).Uint64())
}

func TestRunSwapReadOnlyAndGas(t *testing.T) {
	c, env := newContractEnv(t)
	input := encodeSwapCall(SelectorSwapExactInput, ExchangePool, tokenRequest())

	_, remaining, err := c.Run(env.as, trader, RouterAddress, input, GasSwapSettle, true)
	require.ErrorIs(t, err, ErrReadOnly)
	require.Equal(t, GasSwapSettle, remaining, "read-only rejection must not burn gas")

	_, remaining, err = c.Run(env.as, trader, RouterAddress, input, GasSwapSettle-1, false)
	require.ErrorIs(t, err, ErrInsufficientGas)
	require.Equal(t, uint64(0), remaining)
}

func TestRunSwapUnknownExchange(t *testing.T) {
	c, env := newContractEnv(t)
	input := encodeSwapCall(SelectorSwapExactInput, 0x7f, tokenRequest())
	_, _, err := c.Run(env.as, trader, RouterAddress, input, GasSwapSettle, false)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestRunSwapRejectsOversizedLengthWords(t *testing.T) {
	c, env := newContractEnv(t)

	craft := func(mutate func(input []byte)) []byte {
		input := encodeSwapCall(SelectorSwapExactInput, ExchangePool, tokenRequest())
		mutate(input)
		return input
	}

	// Huge length words must fail the tail bound check, not wrap it and
	// panic on the slice.
	t.Run("path length near uint64 max", func(t *testing.T) {
		input := craft(func(in []byte) {
			for i := 4 + 7*32 + 24; i < 4+8*32; i++ {
				in[i] = 0xff
			}
		})
		_, _, err := c.Run(env.as, trader, RouterAddress, input, GasSwapSettle, false)
		require.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("memo length near uint64 max", func(t *testing.T) {
		input := craft(func(in []byte) {
			for i := 4 + 8*32 + 24; i < 4+9*32; i++ {
				in[i] = 0xff
			}
		})
		_, _, err := c.Run(env.as, trader, RouterAddress, input, GasSwapSettle, false)
		require.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestRunTransfer(t *testing.T) {
	c, env := newContractEnv(t)
	require.NoError(t, env.guard.SetTransferFeeBps(env.state, operatorAddr, 250))

	input := selectorBytes(SelectorTransfer)
	input = appendWord(input, common.Hash{}) // token payment
	input = appendAddressWord(input, tokenX)
	input = appendAddressWord(input, recipientAddr)
	input = appendBigWord(input, big.NewInt(10_000))
	input = appendUint64Word(input, 2_000)
	input = appendUint64Word(input, uint64(len("invoice-1")))
	input = append(input, []byte("invoice-1")...)

	ret, remaining, err := c.Run(env.as, trader, RouterAddress, input, GasTransfer+500, false)
	require.NoError(t, err)
	require.Equal(t, uint64(500), remaining)
	require.Len(t, ret, 5*32)
	require.Equal(t, uint64(1), binary.BigEndian.Uint64(ret[24:32]))

	require.Equal(t, uint64(9_750), TokenBalance(env.state, tokenX, recipientAddr).Uint64())
	require.Equal(t, uint64(250), TokenBalance(env.state, tokenX, feeReceiverAddr).Uint64())

	_, remaining, err = c.Run(env.as, trader, RouterAddress, input, GasTransfer, true)
	require.ErrorIs(t, err, ErrReadOnly)
	require.Equal(t, GasTransfer, remaining, "read-only rejection must not burn gas")
}

func TestRunCommitAndInspect(t *testing.T) {
	c, env := newContractEnv(t)
	require.NoError(t, env.guard.SetMEVConfig(env.state, operatorAddr, enabledMEVConfig()))

	paramsHash := common.Hash{0x42}
	input := append(selectorBytes(SelectorCommit), paramsHash.Bytes()...)
	ret, _, err := c.Run(env.as, trader, RouterAddress, input, GasCommit, false)
	require.NoError(t, err)
	require.Len(t, ret, 64)
	nonce := binary.BigEndian.Uint64(ret[24:32])
	require.Equal(t, uint64(0), nonce)

	// getCommitment
	input = selectorBytes(SelectorGetCommitment)
	input = appendAddressWord(input, trader)
	input = appendUint64Word(input, nonce)
	ret, _, err = c.Run(env.as, trader, RouterAddress, input, GasLedgerRead, false)
	require.NoError(t, err)
	require.Equal(t, paramsHash, common.BytesToHash(ret[:32]))
	require.Equal(t, byte(0), ret[127], "fresh commitment is unexecuted")

	// nextCommitNonce
	input = appendAddressWord(selectorBytes(SelectorNextCommitNonce), trader)
	ret, _, err = c.Run(env.as, trader, RouterAddress, input, GasLedgerRead, false)
	require.NoError(t, err)
	require.Equal(t, uint64(1), binary.BigEndian.Uint64(ret[24:32]))
}

func TestRunQuote(t *testing.T) {
	c, env := newContractEnv(t)
	path := EncodePath([]Hop{{AssetIn: tokenX, AssetOut: tokenY, FeeTier: 30}})

	input := selectorBytes(SelectorQuoteExactIn)
	input = appendWord(input, common.Hash{31: ExchangePool})
	input = appendBigWord(input, big.NewInt(10_000))
	input = appendUint64Word(input, uint64(len(path)))
	input = append(input, path...)

	ret, _, err := c.Run(env.as, trader, RouterAddress, input, GasQuote, false)
	require.NoError(t, err)
	require.Len(t, ret, 64, "one amount per path asset")
	out := new(big.Int).SetBytes(ret[32:64])
	require.True(t, out.Cmp(big.NewInt(9_800)) > 0)

	// Quotes work in read-only mode and burn no state.
	_, _, err = c.Run(env.as, trader, RouterAddress, input, GasQuote, true)
	require.NoError(t, err)
}

func TestRunLedgerReads(t *testing.T) {
	c, env := newContractEnv(t)
	swapInput := encodeSwapCall(SelectorSwapExactInput, ExchangePool, tokenRequest())
	_, _, err := c.Run(env.as, trader, RouterAddress, swapInput, GasSwapSettle, false)
	require.NoError(t, err)

	t.Run("lastSettlementId", func(t *testing.T) {
		ret, _, err := c.Run(env.as, trader, RouterAddress, selectorBytes(SelectorLastSettlementID), GasLedgerRead, true)
		require.NoError(t, err)
		require.Equal(t, uint64(1), binary.BigEndian.Uint64(ret[24:32]))
	})

	t.Run("getSettlement", func(t *testing.T) {
		input := appendUint64Word(selectorBytes(SelectorGetSettlement), 1)
		ret, _, err := c.Run(env.as, trader, RouterAddress, input, GasLedgerRead, true)
		require.NoError(t, err)
		require.Equal(t, recipientAddr, common.BytesToAddress(ret[12:32]))
		memoLen := binary.BigEndian.Uint64(ret[120:128])
		require.Equal(t, "order-1", string(ret[128:128+memoLen]))
	})

	t.Run("rangeQuery", func(t *testing.T) {
		input := selectorBytes(SelectorRangeQuery)
		input = appendUint64Word(input, 1)
		input = appendUint64Word(input, 1)
		ret, _, err := c.Run(env.as, trader, RouterAddress, input, GasLedgerRead, true)
		require.NoError(t, err)
		require.Equal(t, uint64(1), binary.BigEndian.Uint64(ret[24:32]), "count word")
	})

	t.Run("settlementCount", func(t *testing.T) {
		input := appendAddressWord(selectorBytes(SelectorSettlementCount), recipientAddr)
		ret, _, err := c.Run(env.as, trader, RouterAddress, input, GasLedgerRead, true)
		require.NoError(t, err)
		require.Equal(t, uint64(1), binary.BigEndian.Uint64(ret[24:32]))
	})

	t.Run("volumeByRecipient", func(t *testing.T) {
		input := appendAddressWord(selectorBytes(SelectorVolumeByRecipient), recipientAddr)
		ret, _, err := c.Run(env.as, trader, RouterAddress, input, GasLedgerRead, true)
		require.NoError(t, err)
		require.Equal(t, uint64(9_780), new(uint256.Int).SetBytes(ret).Uint64())
	})

	t.Run("volumeByAsset", func(t *testing.T) {
		input := appendAddressWord(selectorBytes(SelectorVolumeByAsset), tokenY)
		ret, _, err := c.Run(env.as, trader, RouterAddress, input, GasLedgerRead, true)
		require.NoError(t, err)
		require.Equal(t, uint64(9_780), new(uint256.Int).SetBytes(ret).Uint64())
	})
}

func TestRunConfigWritesAndReads(t *testing.T) {
	c, env := newContractEnv(t)

	t.Run("setPaused gated by role", func(t *testing.T) {
		input := appendWord(selectorBytes(SelectorSetPaused), common.Hash{31: 1})

		_, _, err := c.Run(env.as, randomAddr, RouterAddress, input, GasConfigWrite, false)
		require.ErrorIs(t, err, ErrUnauthorized)

		_, _, err = c.Run(env.as, operatorAddr, RouterAddress, input, GasConfigWrite, false)
		require.NoError(t, err)

		ret, _, err := c.Run(env.as, trader, RouterAddress, selectorBytes(SelectorIsPaused), GasConfigRead, true)
		require.NoError(t, err)
		require.Equal(t, byte(1), ret[31])
	})

	t.Run("config writes rejected in read-only", func(t *testing.T) {
		input := appendWord(selectorBytes(SelectorSetPaused), common.Hash{})
		_, _, err := c.Run(env.as, operatorAddr, RouterAddress, input, GasConfigWrite, true)
		require.ErrorIs(t, err, ErrReadOnly)
	})

	t.Run("fee receiver round trip", func(t *testing.T) {
		newReceiver := common.HexToAddress("0xfee0000000000000000000000000000000000002")
		input := appendAddressWord(selectorBytes(SelectorSetFeeReceiver), newReceiver)
		_, _, err := c.Run(env.as, operatorAddr, RouterAddress, input, GasConfigWrite, false)
		require.NoError(t, err)

		ret, _, err := c.Run(env.as, trader, RouterAddress, selectorBytes(SelectorGetFeeReceiver), GasConfigRead, true)
		require.NoError(t, err)
		require.Equal(t, newReceiver, common.BytesToAddress(ret[12:32]))
	})

	t.Run("mev config round trip", func(t *testing.T) {
		input := selectorBytes(SelectorSetMEVConfig)
		input = appendWord(input, common.Hash{31: 1})
		input = appendUint64Word(input, 250)
		input = appendUint64Word(input, 3)
		input = appendUint64Word(input, 600)
		_, _, err := c.Run(env.as, operatorAddr, RouterAddress, input, GasConfigWrite, false)
		require.NoError(t, err)

		ret, _, err := c.Run(env.as, trader, RouterAddress, selectorBytes(SelectorGetMEVConfig), GasConfigRead, true)
		require.NoError(t, err)
		require.Equal(t, byte(1), ret[31])
		require.Equal(t, uint64(250), binary.BigEndian.Uint64(ret[56:64]))
		require.Equal(t, uint64(3), binary.BigEndian.Uint64(ret[88:96]))
		require.Equal(t, uint64(600), binary.BigEndian.Uint64(ret[120:128]))
	})

	t.Run("role management", func(t *testing.T) {
		input := selectorBytes(SelectorGrantRole)
		input = appendAddressWord(input, randomAddr)
		input = appendUint64Word(input, uint64(RoleOperator))
		_, _, err := c.Run(env.as, adminAddr, RouterAddress, input, GasConfigWrite, false)
		require.NoError(t, err)

		query := selectorBytes(SelectorHasRole)
		query = appendAddressWord(query, randomAddr)
		query = appendUint64Word(query, uint64(RoleOperator))
		ret, _, err := c.Run(env.as, trader, RouterAddress, query, GasConfigRead, true)
		require.NoError(t, err)
		require.Equal(t, byte(1), ret[31])

		input = selectorBytes(SelectorRevokeRole)
		input = appendAddressWord(input, randomAddr)
		input = appendUint64Word(input, uint64(RoleOperator))
		_, _, err = c.Run(env.as, adminAddr, RouterAddress, input, GasConfigWrite, false)
		require.NoError(t, err)

		ret, _, err = c.Run(env.as, trader, RouterAddress, query, GasConfigRead, true)
		require.NoError(t, err)
		require.Equal(t, byte(0), ret[31])
	})
}

func TestRunEmergencyWithdraw(t *testing.T) {
	c, env := newContractEnv(t)
	dest := common.HexToAddress("0xdd00000000000000000000000000000000000002")
	CreditToken(env.state, tokenX, RouterAddress, uint256.NewInt(1_234))

	input := selectorBytes(SelectorEmergencyWithdraw)
	input = appendAddressWord(input, tokenX)
	input = appendAddressWord(input, dest)
	input = appendBigWord(input, big.NewInt(1_234))

	_, _, err := c.Run(env.as, operatorAddr, RouterAddress, input, GasEmergency, false)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, _, err = c.Run(env.as, adminAddr, RouterAddress, input, GasEmergency, false)
	require.NoError(t, err)
	require.Equal(t, uint64(1_234), TokenBalance(env.state, tokenX, dest).Uint64())
}

func TestConfigVerifyAndEqual(t *testing.T) {
	admin := common.HexToAddress("0xad00000000000000000000000000000000000001")

	base := &Config{Admin: admin, FeeReceiver: feeReceiverAddr}
	require.NoError(t, base.Verify(nil))
	require.Equal(t, ConfigKey, base.Key())
	require.False(t, base.IsDisabled())

	t.Run("equal", func(t *testing.T) {
		same := &Config{Admin: admin, FeeReceiver: feeReceiverAddr}
		require.True(t, base.Equal(same))

		require.False(t, base.Equal(&Config{Admin: admin}))
		require.False(t, base.Equal(nil))

		mev := enabledMEVConfig()
		withMEV := &Config{Admin: admin, FeeReceiver: feeReceiverAddr, MEV: &mev}
		require.False(t, base.Equal(withMEV))
		mev2 := enabledMEVConfig()
		require.True(t, withMEV.Equal(&Config{Admin: admin, FeeReceiver: feeReceiverAddr, MEV: &mev2}))
	})

	t.Run("verify rejects bad MEV config", func(t *testing.T) {
		bad := &Config{MEV: &MEVConfig{CommitmentDuration: 1}}
		require.ErrorIs(t, bad.Verify(nil), ErrInvalidMEVConfig)
	})
}

func TestConfigure(t *testing.T) {
	state := NewMockStateDB()
	block := &mockBlockContext{number: 1, timestamp: 1}
	cfgr := &configurator{}

	mev := enabledMEVConfig()
	cfg := &Config{
		Admin:         adminAddr,
		FeeReceiver:   feeReceiverAddr,
		WrappedNative: common.HexToAddress("0x4200000000000000000000000000000000000042"),
		MEV:           &mev,
	}
	require.NoError(t, cfgr.Configure(nil, cfg, state, block))

	g := newTestGuard()
	require.True(t, g.HasRole(state, adminAddr, RoleAdmin))
	require.True(t, g.HasRole(state, adminAddr, RoleOperator))
	// Genesis window is closed once an admin is configured.
	require.False(t, g.HasRole(state, randomAddr, RoleAdmin))

	require.Equal(t, feeReceiverAddr, FeeReceiver(state))
	require.Equal(t, cfg.WrappedNative, WrappedNative(state))
	require.Equal(t, mev, GetMEVConfig(state))

	require.Error(t, cfgr.Configure(nil, nil, state, block), "wrong config type")
}
