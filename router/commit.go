// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"encoding/binary"
	"fmt"
	"math/big"

	luxcrypto "github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/payrouter/contract"
)

// Storage key prefixes for MEV protection state
var (
	mevConfigPrefix   = []byte("mevc")
	commitNoncePrefix = []byte("cnon")
	commitmentPrefix  = []byte("cmit")
)

// Commitment sub-slot indices
const (
	cmtSlotHash byte = iota
	cmtSlotBlock
	cmtSlotExpiry
	cmtSlotExecuted
)

// DefaultMEVConfig is in effect until the operator sets a policy.
// Protection starts disabled; the defaults below only matter once
// enabled.
var DefaultMEVConfig = MEVConfig{
	Enabled:            false,
	MaxSlippageBps:     300,
	MinBlockDelay:      1,
	CommitmentDuration: 300,
}

func commitmentSlot(account common.Address, nonce uint64, sub byte) common.Hash {
	var suffix [9]byte
	binary.BigEndian.PutUint64(suffix[:8], nonce)
	suffix[8] = sub
	return makeStorageKey(commitmentPrefix, account.Bytes(), suffix[:])
}

// GetMEVConfig reads the MEV policy, falling back to the default when
// never set.
func GetMEVConfig(state contract.StateDB) MEVConfig {
	val := state.GetState(RouterAddress, makeStorageKey(mevConfigPrefix))
	if val[0] == 0 {
		// Not explicitly set
		return DefaultMEVConfig
	}
	return MEVConfig{
		Enabled:            val[7] != 0,
		MaxSlippageBps:     binary.BigEndian.Uint64(val[8:16]),
		MinBlockDelay:      binary.BigEndian.Uint64(val[16:24]),
		CommitmentDuration: binary.BigEndian.Uint64(val[24:32]),
	}
}

func setMEVConfig(state contract.StateDB, cfg MEVConfig) {
	var val common.Hash
	val[0] = 1 // Marker: explicitly set
	if cfg.Enabled {
		val[7] = 1
	}
	binary.BigEndian.PutUint64(val[8:16], cfg.MaxSlippageBps)
	binary.BigEndian.PutUint64(val[16:24], cfg.MinBlockDelay)
	binary.BigEndian.PutUint64(val[24:32], cfg.CommitmentDuration)
	state.SetState(RouterAddress, makeStorageKey(mevConfigPrefix), val)
}

// validateMEVConfig enforces the policy bounds at set time.
func validateMEVConfig(cfg MEVConfig) error {
	if cfg.MaxSlippageBps > BasisPoints {
		return fmt.Errorf("%w: maxSlippageBps=%d", ErrInvalidMEVConfig, cfg.MaxSlippageBps)
	}
	if cfg.CommitmentDuration < MinCommitmentDuration || cfg.CommitmentDuration > MaxCommitmentDuration {
		return fmt.Errorf("%w: commitmentDuration=%d must be within [%d, %d]",
			ErrInvalidMEVConfig, cfg.CommitmentDuration, MinCommitmentDuration, MaxCommitmentDuration)
	}
	return nil
}

// NextCommitNonce returns the nonce the next commit by [account] will
// be assigned. Monotonic per account, first commit gets 0.
func NextCommitNonce(state contract.StateDB, account common.Address) uint64 {
	return getUint64Slot(state, makeStorageKey(commitNoncePrefix, account.Bytes()))
}

// CommitParamsHash binds a commitment to the swap parameters it
// protects: Keccak256 over the packed tuple.
func CommitParamsHash(
	caller common.Address,
	assetIn, assetOut common.Address,
	amountIn, outputFloor *big.Int,
	recipient common.Address,
	paymentAmount *big.Int,
) common.Hash {
	data := make([]byte, 0, 3*20+3*32+20)
	data = append(data, caller.Bytes()...)
	data = append(data, assetIn.Bytes()...)
	data = append(data, assetOut.Bytes()...)
	data = append(data, common.BigToHash(amountIn).Bytes()...)
	data = append(data, common.BigToHash(outputFloor).Bytes()...)
	data = append(data, recipient.Bytes()...)
	data = append(data, common.BigToHash(paymentAmount).Bytes()...)
	return common.BytesToHash(luxcrypto.Keccak256(data))
}

// registerCommitment allocates the caller's next nonce and stores the
// commitment. Only meaningful while MEV protection is enabled with a
// non-zero block delay.
func registerCommitment(
	state contract.StateDB,
	block contract.BlockContext,
	account common.Address,
	paramsHash common.Hash,
) (nonce uint64, expiry uint64, err error) {
	cfg := GetMEVConfig(state)
	if !cfg.Enabled || cfg.MinBlockDelay == 0 {
		return 0, 0, fmt.Errorf("%w: commitments require MEV protection with a block delay", ErrMEVDisabled)
	}

	nonceKey := makeStorageKey(commitNoncePrefix, account.Bytes())
	nonce = getUint64Slot(state, nonceKey)
	setUint64Slot(state, nonceKey, nonce+1)

	expiry = block.Timestamp() + cfg.CommitmentDuration

	state.SetState(RouterAddress, commitmentSlot(account, nonce, cmtSlotHash), paramsHash)
	setUint64Slot(state, commitmentSlot(account, nonce, cmtSlotBlock), block.Number().Uint64())
	setUint64Slot(state, commitmentSlot(account, nonce, cmtSlotExpiry), expiry)

	return nonce, expiry, nil
}

// GetCommitment reads a commitment by (account, nonce). Consumed and
// expired commitments remain readable as an audit trail.
func GetCommitment(state contract.StateDB, account common.Address, nonce uint64) (SwapCommitment, error) {
	if nonce >= NextCommitNonce(state, account) {
		return SwapCommitment{}, fmt.Errorf("%w: account=%s nonce=%d", ErrCommitmentNotFound, account.Hex(), nonce)
	}
	return SwapCommitment{
		ParamsHash:  state.GetState(RouterAddress, commitmentSlot(account, nonce, cmtSlotHash)),
		CommitBlock: getUint64Slot(state, commitmentSlot(account, nonce, cmtSlotBlock)),
		Expiry:      getUint64Slot(state, commitmentSlot(account, nonce, cmtSlotExpiry)),
		Executed:    getUint64Slot(state, commitmentSlot(account, nonce, cmtSlotExecuted)) != 0,
	}, nil
}

// consumeCommitment validates and one-time-consumes a commitment.
// Gates execution from inside the swap entry points, before any fund
// movement.
func consumeCommitment(
	state contract.StateDB,
	block contract.BlockContext,
	account common.Address,
	nonce uint64,
	expectedHash common.Hash,
	minBlockDelay uint64,
) error {
	cmt, err := GetCommitment(state, account, nonce)
	if err != nil {
		return err
	}
	if cmt.ParamsHash != expectedHash {
		return fmt.Errorf("%w: stored=%s expected=%s", ErrInvalidCommitment, cmt.ParamsHash.Hex(), expectedHash.Hex())
	}
	if cmt.Executed {
		return fmt.Errorf("%w: account=%s nonce=%d", ErrCommitmentAlreadyExecuted, account.Hex(), nonce)
	}
	if block.Timestamp() > cmt.Expiry {
		return fmt.Errorf("%w: expiry=%d now=%d", ErrCommitmentExpired, cmt.Expiry, block.Timestamp())
	}
	if block.Number().Uint64() < cmt.CommitBlock+minBlockDelay {
		return fmt.Errorf("%w: committed=%d current=%d delay=%d",
			ErrDelayNotMet, cmt.CommitBlock, block.Number().Uint64(), minBlockDelay)
	}

	setUint64Slot(state, commitmentSlot(account, nonce, cmtSlotExecuted), 1)
	return nil
}

// checkSlippageBound is the MEV slippage gate, applied on every swap
// while protection is enabled regardless of commitment use.
func checkSlippageBound(cfg MEVConfig, amountIn, amountOutMin *big.Int) error {
	minAcceptable := MinAcceptableOutput(amountIn, cfg.MaxSlippageBps)
	if amountOutMin.Cmp(minAcceptable) < 0 {
		return fmt.Errorf("%w: amountOutMin=%s minAcceptable=%s maxSlippageBps=%d",
			ErrSlippageExceeded, amountOutMin, minAcceptable, cfg.MaxSlippageBps)
	}
	return nil
}
