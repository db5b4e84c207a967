// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ComputeFee derives the settlement fee from the caller-declared
// output floor and payment amount. The fee is deterministic from
// declared numbers, never from the actual swap result, so exchange
// execution variance cannot change it.
//
// Callers must have already checked paymentAmount <= outputFloor;
// the result saturates at zero when the two are equal.
func ComputeFee(outputFloor, paymentAmount *big.Int) *big.Int {
	fee := new(big.Int).Sub(outputFloor, paymentAmount)
	if fee.Sign() < 0 {
		return big.NewInt(0)
	}
	return fee
}

// CheckFeeBound enforces fee <= MaxFeeBps * outputFloor / 10000.
// Done cross-multiplied in integer math so no precision is lost.
func CheckFeeBound(fee, outputFloor *big.Int) error {
	lhs := new(big.Int).Mul(fee, new(big.Int).SetUint64(BasisPoints))
	rhs := new(big.Int).Mul(outputFloor, new(big.Int).SetUint64(MaxFeeBps))
	if lhs.Cmp(rhs) > 0 {
		return fmt.Errorf("%w: fee=%s floor=%s capBps=%d", ErrFeeExceedsMax, fee, outputFloor, MaxFeeBps)
	}
	return nil
}

// MinAcceptableOutput returns amountIn - amountIn*maxSlippageBps/10000,
// floored at zero. A caller-declared amountOutMin below this bound is
// rejected by the MEV slippage gate.
func MinAcceptableOutput(amountIn *big.Int, maxSlippageBps uint64) *big.Int {
	maxSlip := new(big.Int).Mul(amountIn, new(big.Int).SetUint64(maxSlippageBps))
	maxSlip.Div(maxSlip, new(big.Int).SetUint64(BasisPoints))

	min := new(big.Int).Sub(amountIn, maxSlip)
	if min.Sign() < 0 {
		return big.NewInt(0)
	}
	return min
}

// SplitOutput divides the actual swap output into the three-way
// distribution: paymentAmount to the recipient, fee to the fee
// receiver, remainder refunded to the caller. The remainder is zero
// when the exchange delivered exactly the declared floor.
func SplitOutput(actualOutput, paymentAmount, fee *big.Int) (refund *big.Int, err error) {
	spoken := new(big.Int).Add(paymentAmount, fee)
	if actualOutput.Cmp(spoken) < 0 {
		return nil, fmt.Errorf("%w: output=%s payment+fee=%s", ErrExcessiveSlippage, actualOutput, spoken)
	}
	return new(big.Int).Sub(actualOutput, spoken), nil
}

// TransferFee applies the runtime-configurable transfer fee percentage
// (distinct policy from the flat settlement-fee cap) to an amount.
func TransferFee(amount *uint256.Int, feeBps uint64) *uint256.Int {
	if amount.IsZero() || feeBps == 0 {
		return uint256.NewInt(0)
	}
	fee := new(uint256.Int).Mul(amount, uint256.NewInt(feeBps))
	return fee.Div(fee, uint256.NewInt(BasisPoints))
}
