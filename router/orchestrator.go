// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/payrouter/contract"
)

// SettlementResult summarizes one completed swap-and-settle call.
type SettlementResult struct {
	SettlementID uint64
	AmountIn     *big.Int // input actually consumed by the exchange
	AmountOut    *big.Int // output actually produced by the exchange
	Fee          *big.Int
	Refund       *big.Int // excess output returned to the caller
}

// Orchestrator drives the swap-and-settle pipeline: validate, gate,
// pull input, delegate execution to the exchange, split the output
// three ways, record the settlement. Holds no funds between calls.
type Orchestrator struct {
	log      log.Logger
	exchange Exchange
	locked   bool
}

// NewOrchestrator wires the orchestrator to an exchange capability.
func NewOrchestrator(logger log.Logger, exchange Exchange) *Orchestrator {
	return &Orchestrator{log: logger, exchange: exchange}
}

// Commit registers a commit-reveal entry for a future swap by the
// caller. The params hash is opaque here; it is recomputed and checked
// at reveal time.
func (o *Orchestrator) Commit(
	accessibleState contract.AccessibleState,
	caller common.Address,
	paramsHash common.Hash,
) (nonce uint64, expiry uint64, err error) {
	state := accessibleState.GetStateDB()
	nonce, expiry, err = registerCommitment(state, accessibleState.GetBlockContext(), caller, paramsHash)
	if err != nil {
		return 0, 0, err
	}
	emitCommitmentRegistered(state, caller, nonce, paramsHash, expiry)
	o.log.Debug("commitment registered", "account", caller.Hex(), "nonce", nonce, "expiry", expiry)
	return nonce, expiry, nil
}

// SwapAndSettle executes one atomic swap-and-distribute. On any error
// every state change made inside the call is reverted; a swap either
// completes in full or leaves no trace beyond the diagnostic log for
// MEV violations.
func (o *Orchestrator) SwapAndSettle(
	accessibleState contract.AccessibleState,
	caller common.Address,
	req *SwapRequest,
) (*SettlementResult, error) {
	if o.locked {
		return nil, ErrReentrant
	}
	o.locked = true
	defer func() { o.locked = false }()

	state := accessibleState.GetStateDB()
	snapshot := state.Snapshot()

	res, err := o.swapAndSettle(accessibleState, caller, req)
	if err != nil {
		state.RevertToSnapshot(snapshot)
		if isMEVViolation(err) {
			// Diagnostic log survives the revert so searchers can be
			// observed off-chain.
			emitMEVGuardTriggered(state, caller, err.Error())
		}
		o.log.Debug("swap rejected", "caller", caller.Hex(), "err", err)
		return nil, err
	}
	return res, nil
}

func isMEVViolation(err error) bool {
	return errors.Is(err, ErrSlippageExceeded) ||
		errors.Is(err, ErrInvalidCommitment) ||
		errors.Is(err, ErrCommitmentAlreadyExecuted) ||
		errors.Is(err, ErrCommitmentExpired) ||
		errors.Is(err, ErrCommitmentNotFound) ||
		errors.Is(err, ErrDelayNotMet)
}

// TransferAndSettle executes a swap-free relay payment atomically. The
// gross amount moves from the caller into router custody, the
// configurable transfer fee is carved out for the fee receiver and the
// remainder is delivered to the recipient, recorded on the settlement
// ledger like any swap.
func (o *Orchestrator) TransferAndSettle(
	accessibleState contract.AccessibleState,
	caller common.Address,
	req *PaymentRequest,
) (*SettlementResult, error) {
	if o.locked {
		return nil, ErrReentrant
	}
	o.locked = true
	defer func() { o.locked = false }()

	state := accessibleState.GetStateDB()
	snapshot := state.Snapshot()

	res, err := o.transferAndSettle(accessibleState, caller, req)
	if err != nil {
		state.RevertToSnapshot(snapshot)
		o.log.Debug("payment rejected", "caller", caller.Hex(), "err", err)
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) transferAndSettle(
	accessibleState contract.AccessibleState,
	caller common.Address,
	req *PaymentRequest,
) (*SettlementResult, error) {
	state := accessibleState.GetStateDB()
	block := accessibleState.GetBlockContext()

	if req.Amount == nil {
		return nil, fmt.Errorf("%w: nil amount", ErrInvalidInput)
	}
	if req.Amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if req.Recipient == (common.Address{}) {
		return nil, ErrInvalidRecipient
	}
	if len(req.Memo) > MaxMemoBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrMemoTooLong, len(req.Memo))
	}
	if IsPaused(state) {
		return nil, ErrPaused
	}
	if req.Deadline == 0 {
		return nil, fmt.Errorf("%w: missing deadline", ErrInvalidInput)
	}
	if block.Timestamp() > req.Deadline {
		return nil, fmt.Errorf("%w: deadline=%d now=%d", ErrDeadlinePassed, req.Deadline, block.Timestamp())
	}

	asset := Asset{Address: req.Token}
	if req.Native {
		asset = NativeAsset
	}
	if !AssetAllowed(state, asset) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotAllowed, asset.Address.Hex())
	}

	gross := mustUint256(req.Amount)
	if err := transferAsset(state, asset, caller, RouterAddress, gross); err != nil {
		return nil, err
	}

	fee := TransferFee(gross, TransferFeeBps(state))
	net := new(uint256.Int).Sub(gross, fee)
	if !fee.IsZero() {
		receiver := FeeReceiver(state)
		if receiver == (common.Address{}) {
			return nil, ErrInvalidFeeReceiver
		}
		if err := transferAsset(state, asset, RouterAddress, receiver, fee); err != nil {
			return nil, err
		}
	}
	if err := transferAsset(state, asset, RouterAddress, req.Recipient, net); err != nil {
		return nil, err
	}

	id, err := recordSettlement(state, req.Recipient, asset, net, block.Timestamp(), req.Memo)
	if err != nil {
		return nil, err
	}

	emitFeeDisclosed(state, caller, id, fee.ToBig())
	emitSettlementExecuted(state, caller, req.Recipient, asset.Address, asset.Address,
		req.Amount, net.ToBig(), net.ToBig(), req.Memo)

	o.log.Info("payment executed",
		"id", id,
		"caller", caller.Hex(),
		"recipient", req.Recipient.Hex(),
		"amount", req.Amount,
		"fee", fee)

	return &SettlementResult{
		SettlementID: id,
		AmountIn:     req.Amount,
		AmountOut:    net.ToBig(),
		Fee:          fee.ToBig(),
		Refund:       big.NewInt(0),
	}, nil
}

func (o *Orchestrator) swapAndSettle(
	accessibleState contract.AccessibleState,
	caller common.Address,
	req *SwapRequest,
) (*SettlementResult, error) {
	state := accessibleState.GetStateDB()
	block := accessibleState.GetBlockContext()

	if err := o.validate(state, block, req); err != nil {
		return nil, err
	}

	assetIn, assetOut, err := PathEndpoints(req.Path)
	if err != nil {
		return nil, err
	}
	wrapped := WrappedNative(state)
	if req.NativeIn && assetIn != wrapped {
		return nil, fmt.Errorf("%w: path starts at %s, wrapped native is %s", ErrRouteMismatch, assetIn.Hex(), wrapped.Hex())
	}
	if req.NativeOut && assetOut != wrapped {
		return nil, fmt.Errorf("%w: path ends at %s, wrapped native is %s", ErrRouteMismatch, assetOut.Hex(), wrapped.Hex())
	}

	if err := o.checkAllowlist(state, req, assetIn, assetOut); err != nil {
		return nil, err
	}

	if err := o.mevGate(state, block, caller, req, assetIn, assetOut); err != nil {
		return nil, err
	}

	// Pull the declared input ceiling into router custody and grant the
	// exchange a bounded allowance over exactly that amount.
	pulled, err := o.pullInput(state, caller, req, assetIn, wrapped)
	if err != nil {
		return nil, err
	}
	ApproveToken(state, assetIn, RouterAddress, o.exchange.Address(), pulled)

	var amounts []*big.Int
	switch req.Kind {
	case ExactInput:
		amounts, err = o.exchange.SwapExactInput(state, RouterAddress, RouterAddress, req.Path, req.AmountSpecified, req.AmountLimit)
	case ExactOutput:
		amounts, err = o.exchange.SwapExactOutput(state, RouterAddress, RouterAddress, req.Path, req.AmountSpecified, req.AmountLimit)
	default:
		err = fmt.Errorf("%w: swap kind %d", ErrInvalidInput, req.Kind)
	}
	if err != nil {
		return nil, err
	}
	actualIn := amounts[0]
	actualOut := amounts[len(amounts)-1]

	// Clear whatever allowance the exchange did not consume.
	ApproveToken(state, assetIn, RouterAddress, o.exchange.Address(), uint256.NewInt(0))

	// Fee math runs on declared numbers only. Execution variance shows
	// up in the refund, never in the fee.
	floor := req.OutputFloor()
	fee := ComputeFee(floor, req.PaymentAmount)
	if err := CheckFeeBound(fee, floor); err != nil {
		return nil, err
	}
	refund, err := SplitOutput(actualOut, req.PaymentAmount, fee)
	if err != nil {
		return nil, err
	}

	settlementAsset := Asset{Address: assetOut}
	if req.NativeOut {
		settlementAsset = NativeAsset
	}
	payment, _ := uint256.FromBig(req.PaymentAmount)
	id, err := recordSettlement(state, req.Recipient, settlementAsset, payment, block.Timestamp(), req.Memo)
	if err != nil {
		return nil, err
	}

	if err := o.distribute(state, caller, req, assetOut, wrapped, fee, refund); err != nil {
		return nil, err
	}

	// Exact-output execution may consume less than the pulled ceiling;
	// the unspent remainder goes back to the caller.
	unspent := new(uint256.Int).Sub(pulled, mustUint256(actualIn))
	if !unspent.IsZero() {
		if err := o.payOut(state, caller, assetIn, wrapped, req.NativeIn, unspent); err != nil {
			return nil, err
		}
	}

	emitFeeDisclosed(state, caller, id, fee)
	emitSettlementExecuted(state, caller, req.Recipient, assetIn, assetOut,
		actualIn, actualOut, req.PaymentAmount, req.Memo)

	o.log.Info("settlement executed",
		"id", id,
		"caller", caller.Hex(),
		"recipient", req.Recipient.Hex(),
		"amountIn", actualIn,
		"amountOut", actualOut,
		"payment", req.PaymentAmount,
		"fee", fee)

	return &SettlementResult{
		SettlementID: id,
		AmountIn:     actualIn,
		AmountOut:    actualOut,
		Fee:          fee,
		Refund:       refund,
	}, nil
}

// validate applies the stateless and cheap stateful request checks, in
// a fixed order so rejections are deterministic.
func (o *Orchestrator) validate(
	state contract.StateDB,
	block contract.BlockContext,
	req *SwapRequest,
) error {
	if req.AmountSpecified == nil || req.AmountLimit == nil || req.PaymentAmount == nil {
		return fmt.Errorf("%w: nil amount", ErrInvalidInput)
	}
	if req.PaymentAmount.Cmp(req.OutputFloor()) > 0 {
		return fmt.Errorf("%w: payment=%s floor=%s", ErrPaymentExceedsFloor, req.PaymentAmount, req.OutputFloor())
	}
	if req.AmountSpecified.Sign() <= 0 || req.AmountLimit.Sign() <= 0 || req.PaymentAmount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if req.Recipient == (common.Address{}) {
		return ErrInvalidRecipient
	}
	if len(req.Memo) > MaxMemoBytes {
		return fmt.Errorf("%w: %d bytes", ErrMemoTooLong, len(req.Memo))
	}
	if IsPaused(state) {
		return ErrPaused
	}
	if req.Deadline == 0 {
		return fmt.Errorf("%w: missing deadline", ErrInvalidInput)
	}
	if block.Timestamp() > req.Deadline {
		return fmt.Errorf("%w: deadline=%d now=%d", ErrDeadlinePassed, req.Deadline, block.Timestamp())
	}
	return nil
}

func (o *Orchestrator) checkAllowlist(state contract.StateDB, req *SwapRequest, assetIn, assetOut common.Address) error {
	in := Asset{Address: assetIn}
	if req.NativeIn {
		in = NativeAsset
	}
	out := Asset{Address: assetOut}
	if req.NativeOut {
		out = NativeAsset
	}
	if !AssetAllowed(state, in) {
		return fmt.Errorf("%w: %s", ErrAssetNotAllowed, in.Address.Hex())
	}
	if !AssetAllowed(state, out) {
		return fmt.Errorf("%w: %s", ErrAssetNotAllowed, out.Address.Hex())
	}
	return nil
}

// mevGate applies the slippage bound and, when a block delay is
// configured, requires a valid unconsumed commitment bound to these
// exact parameters.
func (o *Orchestrator) mevGate(
	state contract.StateDB,
	block contract.BlockContext,
	caller common.Address,
	req *SwapRequest,
	assetIn, assetOut common.Address,
) error {
	cfg := GetMEVConfig(state)
	if !cfg.Enabled {
		return nil
	}
	if err := checkSlippageBound(cfg, req.InputCeiling(), req.OutputFloor()); err != nil {
		return err
	}
	if cfg.MinBlockDelay == 0 {
		return nil
	}
	if !req.HasCommitment {
		return fmt.Errorf("%w: block delay in force, commitment required", ErrCommitmentNotFound)
	}
	paramsHash := CommitParamsHash(caller, assetIn, assetOut,
		req.InputCeiling(), req.OutputFloor(), req.Recipient, req.PaymentAmount)
	return consumeCommitment(state, block, caller, req.CommitNonce, paramsHash, cfg.MinBlockDelay)
}

// pullInput moves the input ceiling from the caller into router
// custody. Native input is wrapped first: the native value moves to
// the wrapped-token vault and the router is credited the equivalent
// ledger tokens.
func (o *Orchestrator) pullInput(
	state contract.StateDB,
	caller common.Address,
	req *SwapRequest,
	assetIn, wrapped common.Address,
) (*uint256.Int, error) {
	ceiling := mustUint256(req.InputCeiling())
	if req.NativeIn {
		if state.GetBalance(caller).Lt(ceiling) {
			return nil, fmt.Errorf("%w: need=%s have=%s", ErrInsufficientNative, ceiling, state.GetBalance(caller))
		}
		if err := transferNative(state, caller, wrapped, ceiling); err != nil {
			return nil, err
		}
		CreditToken(state, wrapped, RouterAddress, ceiling)
		return ceiling, nil
	}
	if err := TransferToken(state, assetIn, caller, RouterAddress, ceiling); err != nil {
		return nil, err
	}
	return ceiling, nil
}

// distribute performs the three-way split of the swap output.
func (o *Orchestrator) distribute(
	state contract.StateDB,
	caller common.Address,
	req *SwapRequest,
	assetOut, wrapped common.Address,
	fee, refund *big.Int,
) error {
	payment := mustUint256(req.PaymentAmount)
	if err := o.payOut(state, req.Recipient, assetOut, wrapped, req.NativeOut, payment); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		receiver := FeeReceiver(state)
		if receiver == (common.Address{}) {
			return ErrInvalidFeeReceiver
		}
		if err := o.payOut(state, receiver, assetOut, wrapped, req.NativeOut, mustUint256(fee)); err != nil {
			return err
		}
	}
	if refund.Sign() > 0 {
		if err := o.payOut(state, caller, assetOut, wrapped, req.NativeOut, mustUint256(refund)); err != nil {
			return err
		}
	}
	return nil
}

// payOut delivers [amount] of [token] from router custody to [to],
// unwrapping through the vault when the leg is native.
func (o *Orchestrator) payOut(
	state contract.StateDB,
	to common.Address,
	token, wrapped common.Address,
	native bool,
	amount *uint256.Int,
) error {
	if amount.IsZero() {
		return nil
	}
	if !native {
		return TransferToken(state, token, RouterAddress, to, amount)
	}
	// Unwrap: retire the router's wrapped balance to the vault, pay the
	// backing native value out of the vault.
	if err := TransferToken(state, wrapped, RouterAddress, wrapped, amount); err != nil {
		return err
	}
	return transferNative(state, wrapped, to, amount)
}

func mustUint256(v *big.Int) *uint256.Int {
	u, _ := uint256.FromBig(v)
	if u == nil {
		return uint256.NewInt(0)
	}
	return u
}
