// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/tracing"
	"github.com/zeebo/blake3"

	"github.com/luxfi/payrouter/contract"
)

// Storage key prefixes for the token ledger
var (
	tokenBalancePrefix   = []byte("tbal")
	tokenAllowancePrefix = []byte("tapr")
)

// makeStorageKey creates a storage key from prefix and identifier
func makeStorageKey(prefix []byte, ids ...[]byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	for _, id := range ids {
		h.Write(id)
	}
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

func tokenBalanceKey(token common.Address, owner common.Address) common.Hash {
	return makeStorageKey(tokenBalancePrefix, token.Bytes(), owner.Bytes())
}

func tokenAllowanceKey(token, owner, spender common.Address) common.Hash {
	return makeStorageKey(tokenAllowancePrefix, token.Bytes(), owner.Bytes(), spender.Bytes())
}

func hashToAmount(h common.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes(h[:])
}

func amountToHash(v *uint256.Int) common.Hash {
	return common.Hash(v.Bytes32())
}

// TokenBalance returns the ledger balance of [owner] for [token].
func TokenBalance(state contract.StateDB, token, owner common.Address) *uint256.Int {
	return hashToAmount(state.GetState(RouterAddress, tokenBalanceKey(token, owner)))
}

func setTokenBalance(state contract.StateDB, token, owner common.Address, amount *uint256.Int) {
	state.SetState(RouterAddress, tokenBalanceKey(token, owner), amountToHash(amount))
}

// CreditToken reflects an external token deposit into the ledger.
// Called by the deposit gateway when tokens arrive; tests use it to
// seed balances.
func CreditToken(state contract.StateDB, token, owner common.Address, amount *uint256.Int) {
	bal := TokenBalance(state, token, owner)
	setTokenBalance(state, token, owner, new(uint256.Int).Add(bal, amount))
}

// TransferToken moves [amount] of [token] from [from] to [to].
func TransferToken(state contract.StateDB, token, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	fromBal := TokenBalance(state, token, from)
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: token=%s owner=%s have=%s need=%s",
			ErrInsufficientBalance, token.Hex(), from.Hex(), fromBal, amount)
	}
	setTokenBalance(state, token, from, new(uint256.Int).Sub(fromBal, amount))
	toBal := TokenBalance(state, token, to)
	setTokenBalance(state, token, to, new(uint256.Int).Add(toBal, amount))
	return nil
}

// ApproveToken grants [spender] a bounded allowance over [owner]'s
// tokens. The orchestrator always approves exactly the input amount
// for a single settlement, never an unlimited allowance.
func ApproveToken(state contract.StateDB, token, owner, spender common.Address, amount *uint256.Int) {
	state.SetState(RouterAddress, tokenAllowanceKey(token, owner, spender), amountToHash(amount))
}

// TokenAllowance returns the remaining allowance of [spender] over
// [owner]'s tokens.
func TokenAllowance(state contract.StateDB, token, owner, spender common.Address) *uint256.Int {
	return hashToAmount(state.GetState(RouterAddress, tokenAllowanceKey(token, owner, spender)))
}

// TransferTokenFrom spends [spender]'s allowance to move tokens from
// [from] to [to]. The allowance is decremented before the balance
// moves so a failed transfer cannot leave a double-spendable grant.
func TransferTokenFrom(state contract.StateDB, token, spender, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	allowance := TokenAllowance(state, token, from, spender)
	if allowance.Lt(amount) {
		return fmt.Errorf("%w: token=%s owner=%s spender=%s have=%s need=%s",
			ErrInsufficientAllowance, token.Hex(), from.Hex(), spender.Hex(), allowance, amount)
	}
	ApproveToken(state, token, from, spender, new(uint256.Int).Sub(allowance, amount))
	return TransferToken(state, token, from, to, amount)
}

// transferNative moves native balance between accounts, failing rather
// than over-drafting.
func transferNative(state contract.StateDB, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	bal := state.GetBalance(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: native owner=%s have=%s need=%s",
			ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	state.SubBalance(from, amount, tracing.BalanceChangeTransfer)
	state.AddBalance(to, amount, tracing.BalanceChangeTransfer)
	return nil
}

// transferAsset dispatches on native vs token.
func transferAsset(state contract.StateDB, asset Asset, from, to common.Address, amount *uint256.Int) error {
	if asset.IsNative() {
		return transferNative(state, from, to, amount)
	}
	return TransferToken(state, asset.Address, from, to, amount)
}
