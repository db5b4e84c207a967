// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"encoding/binary"
	"math/big"

	"github.com/luxfi/geth/common"
	ethtypes "github.com/luxfi/geth/core/types"

	"github.com/luxfi/payrouter/contract"
)

func addressTopic(addr common.Address) common.Hash {
	var t common.Hash
	copy(t[12:], addr.Bytes())
	return t
}

func uint64Topic(v uint64) common.Hash {
	var t common.Hash
	binary.BigEndian.PutUint64(t[24:], v)
	return t
}

func bigWord(v *big.Int) []byte {
	return common.BigToHash(v).Bytes()
}

func emitLog(state contract.StateDB, topics []common.Hash, data []byte) {
	state.AddLog(&ethtypes.Log{
		Address: RouterAddress,
		Topics:  topics,
		Data:    data,
	})
}

// emitFeeDisclosed discloses the fee taken for a settlement. Indexers
// rely on this log preceding the settlement summary within a request.
func emitFeeDisclosed(state contract.StateDB, caller common.Address, settlementID uint64, fee *big.Int) {
	emitLog(state,
		[]common.Hash{TopicFeeDisclosed, addressTopic(caller), uint64Topic(settlementID)},
		bigWord(fee),
	)
}

func emitSettlementExecuted(
	state contract.StateDB,
	caller, recipient common.Address,
	assetIn, assetOut common.Address,
	amountIn, amountOut, paymentAmount *big.Int,
	memo string,
) {
	data := make([]byte, 0, 5*32+len(memo))
	data = append(data, addressTopic(assetIn).Bytes()...)
	data = append(data, addressTopic(assetOut).Bytes()...)
	data = append(data, bigWord(amountIn)...)
	data = append(data, bigWord(amountOut)...)
	data = append(data, bigWord(paymentAmount)...)
	data = append(data, []byte(memo)...)
	emitLog(state,
		[]common.Hash{TopicSettlementExecuted, addressTopic(caller), addressTopic(recipient)},
		data,
	)
}

func emitCommitmentRegistered(state contract.StateDB, account common.Address, nonce uint64, paramsHash common.Hash, expiry uint64) {
	data := make([]byte, 0, 64)
	data = append(data, paramsHash.Bytes()...)
	data = append(data, uint64Topic(expiry).Bytes()...)
	emitLog(state,
		[]common.Hash{TopicCommitmentRegistered, addressTopic(account), uint64Topic(nonce)},
		data,
	)
}

func emitMEVGuardTriggered(state contract.StateDB, account common.Address, reason string) {
	emitLog(state,
		[]common.Hash{TopicMEVGuardTriggered, addressTopic(account)},
		[]byte(reason),
	)
}

func emitFeeReceiverUpdated(state contract.StateDB, oldReceiver, newReceiver common.Address) {
	emitLog(state,
		[]common.Hash{TopicFeeReceiverUpdated, addressTopic(oldReceiver), addressTopic(newReceiver)},
		nil,
	)
}

func emitMEVConfigUpdated(state contract.StateDB, cfg MEVConfig) {
	data := make([]byte, 0, 128)
	var enabled common.Hash
	if cfg.Enabled {
		enabled[31] = 1
	}
	data = append(data, enabled.Bytes()...)
	data = append(data, uint64Topic(cfg.MaxSlippageBps).Bytes()...)
	data = append(data, uint64Topic(cfg.MinBlockDelay).Bytes()...)
	data = append(data, uint64Topic(cfg.CommitmentDuration).Bytes()...)
	emitLog(state, []common.Hash{TopicMEVConfigUpdated}, data)
}

func emitPausedSet(state contract.StateDB, paused bool) {
	var data common.Hash
	if paused {
		data[31] = 1
	}
	emitLog(state, []common.Hash{TopicPausedSet}, data.Bytes())
}

func emitEmergencyWithdrawal(state contract.StateDB, asset Asset, to common.Address, amount *big.Int) {
	emitLog(state,
		[]common.Hash{TopicEmergencyWithdrawal, addressTopic(asset.Address), addressTopic(to)},
		bigWord(amount),
	)
}
