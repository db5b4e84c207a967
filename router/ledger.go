// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/payrouter/contract"
)

// Storage key prefixes for the settlement ledger
var (
	lastSettlementPrefix    = []byte("lset")
	settlementRecordPrefix  = []byte("srec")
	settlementMemoPrefix    = []byte("smem")
	settlementCountPrefix   = []byte("scnt")
	volumeByAssetPrefix     = []byte("vast")
	volumeByRecipientPrefix = []byte("vrcp")
)

// Record sub-slot indices
const (
	recSlotRecipient byte = iota
	recSlotAmount
	recSlotTimestamp
	recSlotMemoLen
)

func settlementSlot(id uint64, sub byte) common.Hash {
	var idBytes [9]byte
	binary.BigEndian.PutUint64(idBytes[:8], id)
	idBytes[8] = sub
	return makeStorageKey(settlementRecordPrefix, idBytes[:])
}

func memoSlot(id uint64, chunk int) common.Hash {
	var idBytes [9]byte
	binary.BigEndian.PutUint64(idBytes[:8], id)
	idBytes[8] = byte(chunk)
	return makeStorageKey(settlementMemoPrefix, idBytes[:])
}

func getUint64Slot(state contract.StateDB, key common.Hash) uint64 {
	val := state.GetState(RouterAddress, key)
	return binary.BigEndian.Uint64(val[24:])
}

func setUint64Slot(state contract.StateDB, key common.Hash, v uint64) {
	var val common.Hash
	binary.BigEndian.PutUint64(val[24:], v)
	state.SetState(RouterAddress, key, val)
}

// LastSettlementID returns the id of the most recent settlement, zero
// if none have been recorded.
func LastSettlementID(state contract.StateDB) uint64 {
	return getUint64Slot(state, makeStorageKey(lastSettlementPrefix))
}

// SettlementCount returns the number of settlements paid to [recipient].
func SettlementCount(state contract.StateDB, recipient common.Address) uint64 {
	return getUint64Slot(state, makeStorageKey(settlementCountPrefix, recipient.Bytes()))
}

// VolumeByAsset returns the cumulative payment volume settled in [asset].
func VolumeByAsset(state contract.StateDB, asset Asset) *uint256.Int {
	return hashToAmount(state.GetState(RouterAddress, makeStorageKey(volumeByAssetPrefix, asset.ToBytes())))
}

// VolumeByRecipient returns the cumulative payment volume sent to [recipient].
func VolumeByRecipient(state contract.StateDB, recipient common.Address) *uint256.Int {
	return hashToAmount(state.GetState(RouterAddress, makeStorageKey(volumeByRecipientPrefix, recipient.Bytes())))
}

// recordSettlement appends a settlement record and bumps the three
// aggregate counters. All writes land in the same atomic unit as the
// triggering swap; ids are strictly increasing starting at 1.
func recordSettlement(
	state contract.StateDB,
	recipient common.Address,
	settlementAsset Asset,
	paymentAmount *uint256.Int,
	timestamp uint64,
	memo string,
) (uint64, error) {
	if len(memo) > MaxMemoBytes {
		return 0, fmt.Errorf("%w: %d bytes", ErrMemoTooLong, len(memo))
	}

	id := LastSettlementID(state) + 1
	setUint64Slot(state, makeStorageKey(lastSettlementPrefix), id)

	var recipientSlot common.Hash
	copy(recipientSlot[12:], recipient.Bytes())
	state.SetState(RouterAddress, settlementSlot(id, recSlotRecipient), recipientSlot)
	state.SetState(RouterAddress, settlementSlot(id, recSlotAmount), amountToHash(paymentAmount))
	setUint64Slot(state, settlementSlot(id, recSlotTimestamp), timestamp)
	setUint64Slot(state, settlementSlot(id, recSlotMemoLen), uint64(len(memo)))

	memoBytes := []byte(memo)
	for chunk := 0; chunk*32 < len(memoBytes); chunk++ {
		var word common.Hash
		copy(word[:], memoBytes[chunk*32:])
		state.SetState(RouterAddress, memoSlot(id, chunk), word)
	}

	countKey := makeStorageKey(settlementCountPrefix, recipient.Bytes())
	setUint64Slot(state, countKey, getUint64Slot(state, countKey)+1)

	assetKey := makeStorageKey(volumeByAssetPrefix, settlementAsset.ToBytes())
	assetVol := hashToAmount(state.GetState(RouterAddress, assetKey))
	state.SetState(RouterAddress, assetKey, amountToHash(new(uint256.Int).Add(assetVol, paymentAmount)))

	recipKey := makeStorageKey(volumeByRecipientPrefix, recipient.Bytes())
	recipVol := hashToAmount(state.GetState(RouterAddress, recipKey))
	state.SetState(RouterAddress, recipKey, amountToHash(new(uint256.Int).Add(recipVol, paymentAmount)))

	return id, nil
}

// GetSettlement reads one settlement record by id.
func GetSettlement(state contract.StateDB, id uint64) (SettlementRecord, error) {
	last := LastSettlementID(state)
	if id == 0 || id > last {
		return SettlementRecord{}, fmt.Errorf("%w: id=%d last=%d", ErrRangeExceedsLast, id, last)
	}

	recipientSlot := state.GetState(RouterAddress, settlementSlot(id, recSlotRecipient))
	amount := hashToAmount(state.GetState(RouterAddress, settlementSlot(id, recSlotAmount)))
	timestamp := getUint64Slot(state, settlementSlot(id, recSlotTimestamp))
	memoLen := getUint64Slot(state, settlementSlot(id, recSlotMemoLen))

	memoBytes := make([]byte, 0, memoLen)
	for chunk := 0; uint64(chunk*32) < memoLen; chunk++ {
		word := state.GetState(RouterAddress, memoSlot(id, chunk))
		memoBytes = append(memoBytes, word[:]...)
	}
	memoBytes = memoBytes[:memoLen]

	return SettlementRecord{
		Recipient:     common.BytesToAddress(recipientSlot[12:]),
		PaymentAmount: amount.ToBig(),
		Timestamp:     timestamp,
		Memo:          string(memoBytes),
	}, nil
}

// RangeQuery returns settlements [fromID, toID] in order. Read-only.
// The returned length is capped at MaxRangeQuery as a DoS guard.
func RangeQuery(state contract.StateDB, fromID, toID uint64) ([]SettlementRecord, error) {
	if fromID == 0 || fromID > toID {
		return nil, fmt.Errorf("%w: from=%d to=%d", ErrInvalidRange, fromID, toID)
	}
	last := LastSettlementID(state)
	if toID > last {
		return nil, fmt.Errorf("%w: to=%d last=%d", ErrRangeExceedsLast, toID, last)
	}
	if toID-fromID+1 > MaxRangeQuery {
		return nil, fmt.Errorf("%w: span=%d max=%d", ErrRangeTooLarge, toID-fromID+1, MaxRangeQuery)
	}

	records := make([]SettlementRecord, 0, toID-fromID+1)
	for id := fromID; id <= toID; id++ {
		rec, err := GetSettlement(state, id)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
