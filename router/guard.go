// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/payrouter/contract"
)

// Storage key prefixes for access and configuration state
var (
	rolePrefix          = []byte("role")
	adminSeededPrefix   = []byte("admn")
	feeReceiverPrefix   = []byte("frcv")
	pausedPrefix        = []byte("paus")
	allowlistPrefix     = []byte("aset")
	allowlistSizePrefix = []byte("acnt")
	transferFeePrefix   = []byte("tfee")
	wrappedNativePrefix = []byte("wnat")
)

// Guard is the access/configuration subsystem: role storage, the
// role-gated setters, and the super-admin emergency recovery path.
type Guard struct {
	log log.Logger
}

// NewGuard creates a guard with the given logger.
func NewGuard(logger log.Logger) *Guard {
	return &Guard{log: logger}
}

func roleKey(account common.Address, role Role) common.Hash {
	return makeStorageKey(rolePrefix, account.Bytes(), []byte{byte(role)})
}

// HasRole reports whether [account] holds [role]. Until a first admin
// is seeded (genesis bootstrap), every caller passes the admin check.
func (g *Guard) HasRole(state contract.StateDB, account common.Address, role Role) bool {
	if getUint64Slot(state, roleKey(account, role)) != 0 {
		return true
	}
	if role == RoleAdmin && !adminSeeded(state) {
		return true
	}
	return false
}

func adminSeeded(state contract.StateDB) bool {
	return getUint64Slot(state, makeStorageKey(adminSeededPrefix)) != 0
}

// GrantRole assigns [role] to [account]. Admin capability required.
func (g *Guard) GrantRole(state contract.StateDB, caller, account common.Address, role Role) error {
	if !g.HasRole(state, caller, RoleAdmin) {
		return fmt.Errorf("%w: caller=%s role=admin", ErrUnauthorized, caller.Hex())
	}
	if account == (common.Address{}) {
		return ErrInvalidRecipient
	}
	setUint64Slot(state, roleKey(account, role), 1)
	if role == RoleAdmin {
		setUint64Slot(state, makeStorageKey(adminSeededPrefix), 1)
	}
	g.log.Info("role granted", "account", account.Hex(), "role", role)
	return nil
}

// RevokeRole removes [role] from [account]. Admin capability required.
func (g *Guard) RevokeRole(state contract.StateDB, caller, account common.Address, role Role) error {
	if !g.HasRole(state, caller, RoleAdmin) {
		return fmt.Errorf("%w: caller=%s role=admin", ErrUnauthorized, caller.Hex())
	}
	setUint64Slot(state, roleKey(account, role), 0)
	g.log.Info("role revoked", "account", account.Hex(), "role", role)
	return nil
}

// FeeReceiver returns the configured fee receiver address.
func FeeReceiver(state contract.StateDB) common.Address {
	val := state.GetState(RouterAddress, makeStorageKey(feeReceiverPrefix))
	return common.BytesToAddress(val[12:])
}

// SetFeeReceiver updates the fee receiver. Operator role required;
// the receiver is always non-null.
func (g *Guard) SetFeeReceiver(state contract.StateDB, caller, receiver common.Address) error {
	if !g.HasRole(state, caller, RoleOperator) {
		return fmt.Errorf("%w: caller=%s role=operator", ErrUnauthorized, caller.Hex())
	}
	if receiver == (common.Address{}) {
		return ErrInvalidFeeReceiver
	}
	old := FeeReceiver(state)
	var slot common.Hash
	copy(slot[12:], receiver.Bytes())
	state.SetState(RouterAddress, makeStorageKey(feeReceiverPrefix), slot)
	emitFeeReceiverUpdated(state, old, receiver)
	g.log.Info("fee receiver updated", "old", old.Hex(), "new", receiver.Hex())
	return nil
}

// SetMEVConfig updates the MEV protection policy. Operator role
// required; bounds are validated at set time so swaps never see an
// invalid policy.
func (g *Guard) SetMEVConfig(state contract.StateDB, caller common.Address, cfg MEVConfig) error {
	if !g.HasRole(state, caller, RoleOperator) {
		return fmt.Errorf("%w: caller=%s role=operator", ErrUnauthorized, caller.Hex())
	}
	if err := validateMEVConfig(cfg); err != nil {
		return err
	}
	setMEVConfig(state, cfg)
	emitMEVConfigUpdated(state, cfg)
	g.log.Info("MEV config updated",
		"enabled", cfg.Enabled,
		"maxSlippageBps", cfg.MaxSlippageBps,
		"minBlockDelay", cfg.MinBlockDelay,
		"commitmentDuration", cfg.CommitmentDuration)
	return nil
}

// IsPaused reports whether settlement entry points are halted.
func IsPaused(state contract.StateDB) bool {
	return getUint64Slot(state, makeStorageKey(pausedPrefix)) != 0
}

// SetPaused halts or resumes the settlement entry points.
func (g *Guard) SetPaused(state contract.StateDB, caller common.Address, paused bool) error {
	if !g.HasRole(state, caller, RoleOperator) {
		return fmt.Errorf("%w: caller=%s role=operator", ErrUnauthorized, caller.Hex())
	}
	var v uint64
	if paused {
		v = 1
	}
	setUint64Slot(state, makeStorageKey(pausedPrefix), v)
	emitPausedSet(state, paused)
	g.log.Warn("paused state changed", "paused", paused)
	return nil
}

// AssetAllowed reports whether [asset] may appear as a settlement
// asset. The allowlist only binds once at least one asset is listed.
func AssetAllowed(state contract.StateDB, asset Asset) bool {
	if getUint64Slot(state, makeStorageKey(allowlistSizePrefix)) == 0 {
		return true
	}
	return getUint64Slot(state, makeStorageKey(allowlistPrefix, asset.ToBytes())) != 0
}

// SetAssetAllowed adds or removes [asset] on the allowlist.
func (g *Guard) SetAssetAllowed(state contract.StateDB, caller common.Address, asset Asset, allowed bool) error {
	if !g.HasRole(state, caller, RoleOperator) {
		return fmt.Errorf("%w: caller=%s role=operator", ErrUnauthorized, caller.Hex())
	}
	key := makeStorageKey(allowlistPrefix, asset.ToBytes())
	sizeKey := makeStorageKey(allowlistSizePrefix)
	current := getUint64Slot(state, key) != 0
	if allowed == current {
		return nil
	}
	size := getUint64Slot(state, sizeKey)
	if allowed {
		setUint64Slot(state, key, 1)
		setUint64Slot(state, sizeKey, size+1)
	} else {
		setUint64Slot(state, key, 0)
		setUint64Slot(state, sizeKey, size-1)
	}
	return nil
}

// TransferFeeBps returns the runtime-configurable per-transfer fee
// percentage. Distinct policy from the flat settlement-fee cap.
func TransferFeeBps(state contract.StateDB) uint64 {
	return getUint64Slot(state, makeStorageKey(transferFeePrefix))
}

// SetTransferFeeBps updates the per-transfer fee percentage, bounded
// by the DAO ceiling.
func (g *Guard) SetTransferFeeBps(state contract.StateDB, caller common.Address, bps uint64) error {
	if !g.HasRole(state, caller, RoleOperator) {
		return fmt.Errorf("%w: caller=%s role=operator", ErrUnauthorized, caller.Hex())
	}
	if bps > MaxTransferFeeBps {
		return fmt.Errorf("%w: bps=%d ceiling=%d", ErrInvalidTransferFee, bps, MaxTransferFeeBps)
	}
	setUint64Slot(state, makeStorageKey(transferFeePrefix), bps)
	return nil
}

// WrappedNative returns the wrapped-native token used for routing
// native-asset swaps.
func WrappedNative(state contract.StateDB) common.Address {
	val := state.GetState(RouterAddress, makeStorageKey(wrappedNativePrefix))
	addr := common.BytesToAddress(val[12:])
	if addr == (common.Address{}) {
		return DefaultWrappedNative
	}
	return addr
}

// SetWrappedNative updates the wrapped-native token address.
func (g *Guard) SetWrappedNative(state contract.StateDB, caller, token common.Address) error {
	if !g.HasRole(state, caller, RoleOperator) {
		return fmt.Errorf("%w: caller=%s role=operator", ErrUnauthorized, caller.Hex())
	}
	if token == (common.Address{}) {
		return ErrInvalidRecipient
	}
	var slot common.Hash
	copy(slot[12:], token.Bytes())
	state.SetState(RouterAddress, makeStorageKey(wrappedNativePrefix), slot)
	return nil
}

// EmergencyWithdraw moves stuck funds out of the router to an
// arbitrary destination. Super-admin capability; the one deliberately
// unconstrained escape hatch, not part of normal flow.
func (g *Guard) EmergencyWithdraw(
	state contract.StateDB,
	caller common.Address,
	asset Asset,
	to common.Address,
	amount *uint256.Int,
) error {
	if !g.HasRole(state, caller, RoleAdmin) {
		return fmt.Errorf("%w: caller=%s role=admin", ErrUnauthorized, caller.Hex())
	}
	if to == (common.Address{}) {
		return ErrInvalidRecipient
	}
	if err := transferAsset(state, asset, RouterAddress, to, amount); err != nil {
		return err
	}
	emitEmergencyWithdrawal(state, asset, to, amount.ToBig())
	g.log.Warn("emergency withdrawal",
		"asset", asset.Address.Hex(), "to", to.Hex(), "amount", amount.String())
	return nil
}
