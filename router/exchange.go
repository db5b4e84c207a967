// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/payrouter/contract"
)

// Exchange is the opaque swap-execution capability the orchestrator
// delegates price execution to. Implementations return an ordered
// amounts sequence whose first element is the actual input consumed
// and whose last element is the actual output produced. The
// orchestrator trusts those endpoints for refunds and events only;
// fee and payment math is derived from caller-declared numbers.
type Exchange interface {
	// Address is the account that custodies funds during execution.
	Address() common.Address

	QuoteExactInput(state contract.StateDB, path []byte, amountIn *big.Int) ([]*big.Int, error)
	QuoteExactOutput(state contract.StateDB, path []byte, amountOut *big.Int) ([]*big.Int, error)

	// SwapExactInput pulls amountIn from [payer] (spending the bounded
	// allowance granted to the exchange) and delivers at least
	// amountOutMin of the path's final asset to [recipient].
	SwapExactInput(state contract.StateDB, payer, recipient common.Address, path []byte, amountIn, amountOutMin *big.Int) ([]*big.Int, error)

	// SwapExactOutput delivers exactly amountOut to [recipient],
	// consuming at most amountInMax from [payer].
	SwapExactOutput(state contract.StateDB, payer, recipient common.Address, path []byte, amountOut, amountInMax *big.Int) ([]*big.Int, error)
}

// Storage key prefix for exchange reserves
var reservePrefix = []byte("xres")

// pairID returns a direction-independent pool identifier.
func pairID(assetA, assetB common.Address, feeTier uint32) []byte {
	a, b := assetA.Bytes(), assetB.Bytes()
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	id := make([]byte, 0, 43)
	id = append(id, a...)
	id = append(id, b...)
	id = append(id, byte(feeTier>>16), byte(feeTier>>8), byte(feeTier))
	return id
}

func reserveKey(assetA, assetB common.Address, feeTier uint32, asset common.Address) common.Hash {
	return makeStorageKey(reservePrefix, pairID(assetA, assetB, feeTier), asset.Bytes())
}

func getReserve(state contract.StateDB, exchange common.Address, assetA, assetB common.Address, feeTier uint32, asset common.Address) *big.Int {
	return hashToAmount(state.GetState(exchange, reserveKey(assetA, assetB, feeTier, asset))).ToBig()
}

func setReserve(state contract.StateDB, exchange common.Address, assetA, assetB common.Address, feeTier uint32, asset common.Address, reserve *big.Int) {
	v, _ := uint256.FromBig(reserve)
	state.SetState(exchange, reserveKey(assetA, assetB, feeTier, asset), amountToHash(v))
}

// getAmountOut is the constant-product output for a single hop with a
// basis-point fee on input.
func getAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint64) (*big.Int, error) {
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, ErrNoLiquidity
	}
	bps := new(big.Int).SetUint64(BasisPoints)
	inWithFee := new(big.Int).Mul(amountIn, new(big.Int).SetUint64(BasisPoints-feeBps))
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Add(new(big.Int).Mul(reserveIn, bps), inWithFee)
	return numerator.Div(numerator, denominator), nil
}

// getAmountIn is the inverse: input required to draw amountOut.
func getAmountIn(amountOut, reserveIn, reserveOut *big.Int, feeBps uint64) (*big.Int, error) {
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, ErrNoLiquidity
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("%w: requested=%s reserve=%s", ErrNoLiquidity, amountOut, reserveOut)
	}
	bps := new(big.Int).SetUint64(BasisPoints)
	numerator := new(big.Int).Mul(new(big.Int).Mul(reserveIn, amountOut), bps)
	denominator := new(big.Int).Mul(
		new(big.Int).Sub(reserveOut, amountOut),
		new(big.Int).SetUint64(BasisPoints-feeBps),
	)
	in := numerator.Div(numerator, denominator)
	return in.Add(in, big.NewInt(1)), nil
}

// =========================================================================
// PoolExchange - multi-hop, fee-tiered pools
// =========================================================================

// PoolExchange executes swaps against fee-tiered constant-product
// pools. Supports multi-hop paths.
type PoolExchange struct {
	addr common.Address
}

// NewPoolExchange returns the pool exchange at its canonical address.
func NewPoolExchange() *PoolExchange {
	return &PoolExchange{addr: PoolExchangeAddress}
}

func (x *PoolExchange) Address() common.Address { return x.addr }

// AddLiquidity seeds a pool, pulling both sides from [provider].
func (x *PoolExchange) AddLiquidity(
	state contract.StateDB,
	provider common.Address,
	assetA, assetB common.Address,
	feeTier uint32,
	amountA, amountB *big.Int,
) error {
	ua, _ := uint256.FromBig(amountA)
	ub, _ := uint256.FromBig(amountB)
	if err := TransferToken(state, assetA, provider, x.addr, ua); err != nil {
		return err
	}
	if err := TransferToken(state, assetB, provider, x.addr, ub); err != nil {
		return err
	}
	rA := getReserve(state, x.addr, assetA, assetB, feeTier, assetA)
	rB := getReserve(state, x.addr, assetA, assetB, feeTier, assetB)
	setReserve(state, x.addr, assetA, assetB, feeTier, assetA, new(big.Int).Add(rA, amountA))
	setReserve(state, x.addr, assetA, assetB, feeTier, assetB, new(big.Int).Add(rB, amountB))
	return nil
}

// quote walks the path forward, returning the amounts sequence.
func (x *PoolExchange) quote(state contract.StateDB, hops []Hop, amountIn *big.Int) ([]*big.Int, error) {
	amounts := make([]*big.Int, 0, len(hops)+1)
	amounts = append(amounts, new(big.Int).Set(amountIn))
	current := amountIn
	for _, hop := range hops {
		rIn := getReserve(state, x.addr, hop.AssetIn, hop.AssetOut, hop.FeeTier, hop.AssetIn)
		rOut := getReserve(state, x.addr, hop.AssetIn, hop.AssetOut, hop.FeeTier, hop.AssetOut)
		out, err := getAmountOut(current, rIn, rOut, uint64(hop.FeeTier))
		if err != nil {
			return nil, err
		}
		amounts = append(amounts, out)
		current = out
	}
	return amounts, nil
}

// quoteBackward walks the path in reverse for exact-output requests.
func (x *PoolExchange) quoteBackward(state contract.StateDB, hops []Hop, amountOut *big.Int) ([]*big.Int, error) {
	amounts := make([]*big.Int, len(hops)+1)
	amounts[len(hops)] = new(big.Int).Set(amountOut)
	current := amountOut
	for i := len(hops) - 1; i >= 0; i-- {
		hop := hops[i]
		rIn := getReserve(state, x.addr, hop.AssetIn, hop.AssetOut, hop.FeeTier, hop.AssetIn)
		rOut := getReserve(state, x.addr, hop.AssetIn, hop.AssetOut, hop.FeeTier, hop.AssetOut)
		in, err := getAmountIn(current, rIn, rOut, uint64(hop.FeeTier))
		if err != nil {
			return nil, err
		}
		amounts[i] = in
		current = in
	}
	return amounts, nil
}

func (x *PoolExchange) QuoteExactInput(state contract.StateDB, path []byte, amountIn *big.Int) ([]*big.Int, error) {
	hops, err := DecodePath(path)
	if err != nil {
		return nil, err
	}
	return x.quote(state, hops, amountIn)
}

func (x *PoolExchange) QuoteExactOutput(state contract.StateDB, path []byte, amountOut *big.Int) ([]*big.Int, error) {
	hops, err := DecodePath(path)
	if err != nil {
		return nil, err
	}
	return x.quoteBackward(state, hops, amountOut)
}

// executeHops settles a pre-quoted amounts sequence: pulls the input
// from the payer, updates reserves hop by hop, pays the final output
// to the recipient.
func (x *PoolExchange) executeHops(
	state contract.StateDB,
	payer, recipient common.Address,
	hops []Hop,
	amounts []*big.Int,
) error {
	amountIn, _ := uint256.FromBig(amounts[0])
	if err := TransferTokenFrom(state, hops[0].AssetIn, x.addr, payer, x.addr, amountIn); err != nil {
		return err
	}
	for i, hop := range hops {
		rIn := getReserve(state, x.addr, hop.AssetIn, hop.AssetOut, hop.FeeTier, hop.AssetIn)
		rOut := getReserve(state, x.addr, hop.AssetIn, hop.AssetOut, hop.FeeTier, hop.AssetOut)
		setReserve(state, x.addr, hop.AssetIn, hop.AssetOut, hop.FeeTier, hop.AssetIn, rIn.Add(rIn, amounts[i]))
		setReserve(state, x.addr, hop.AssetIn, hop.AssetOut, hop.FeeTier, hop.AssetOut, rOut.Sub(rOut, amounts[i+1]))
	}
	amountOut, _ := uint256.FromBig(amounts[len(amounts)-1])
	return TransferToken(state, hops[len(hops)-1].AssetOut, x.addr, recipient, amountOut)
}

func (x *PoolExchange) SwapExactInput(
	state contract.StateDB,
	payer, recipient common.Address,
	path []byte,
	amountIn, amountOutMin *big.Int,
) ([]*big.Int, error) {
	hops, err := DecodePath(path)
	if err != nil {
		return nil, err
	}
	amounts, err := x.quote(state, hops, amountIn)
	if err != nil {
		return nil, err
	}
	out := amounts[len(amounts)-1]
	if out.Cmp(amountOutMin) < 0 {
		return nil, fmt.Errorf("%w: out=%s min=%s", ErrExcessiveSlippage, out, amountOutMin)
	}
	if err := x.executeHops(state, payer, recipient, hops, amounts); err != nil {
		return nil, err
	}
	return amounts, nil
}

func (x *PoolExchange) SwapExactOutput(
	state contract.StateDB,
	payer, recipient common.Address,
	path []byte,
	amountOut, amountInMax *big.Int,
) ([]*big.Int, error) {
	hops, err := DecodePath(path)
	if err != nil {
		return nil, err
	}
	amounts, err := x.quoteBackward(state, hops, amountOut)
	if err != nil {
		return nil, err
	}
	in := amounts[0]
	if in.Cmp(amountInMax) > 0 {
		return nil, fmt.Errorf("%w: in=%s max=%s", ErrInputExceedsMax, in, amountInMax)
	}
	if err := x.executeHops(state, payer, recipient, hops, amounts); err != nil {
		return nil, err
	}
	return amounts, nil
}

var _ Exchange = (*PoolExchange)(nil)

// =========================================================================
// PairExchange - single-hop V2-style pairs, flat fee
// =========================================================================

// pairFeeBps is the flat fee the pair exchange charges on input.
const pairFeeBps uint64 = 30

// PairExchange executes swaps against single pairs with a flat fee.
// Multi-hop paths are rejected; fee tiers in the path are ignored.
type PairExchange struct {
	addr common.Address
}

// NewPairExchange returns the pair exchange at its canonical address.
func NewPairExchange() *PairExchange {
	return &PairExchange{addr: PairExchangeAddress}
}

func (x *PairExchange) Address() common.Address { return x.addr }

// AddLiquidity seeds a pair, pulling both sides from [provider].
func (x *PairExchange) AddLiquidity(
	state contract.StateDB,
	provider common.Address,
	assetA, assetB common.Address,
	amountA, amountB *big.Int,
) error {
	ua, _ := uint256.FromBig(amountA)
	ub, _ := uint256.FromBig(amountB)
	if err := TransferToken(state, assetA, provider, x.addr, ua); err != nil {
		return err
	}
	if err := TransferToken(state, assetB, provider, x.addr, ub); err != nil {
		return err
	}
	rA := getReserve(state, x.addr, assetA, assetB, 0, assetA)
	rB := getReserve(state, x.addr, assetA, assetB, 0, assetB)
	setReserve(state, x.addr, assetA, assetB, 0, assetA, new(big.Int).Add(rA, amountA))
	setReserve(state, x.addr, assetA, assetB, 0, assetB, new(big.Int).Add(rB, amountB))
	return nil
}

// pairHop validates the path is a single hop.
func (x *PairExchange) pairHop(path []byte) (Hop, error) {
	hops, err := DecodePath(path)
	if err != nil {
		return Hop{}, err
	}
	if len(hops) != 1 {
		return Hop{}, fmt.Errorf("%w: pair exchange is single-hop only, got %d hops", ErrUnsupportedPath, len(hops))
	}
	return hops[0], nil
}

func (x *PairExchange) QuoteExactInput(state contract.StateDB, path []byte, amountIn *big.Int) ([]*big.Int, error) {
	hop, err := x.pairHop(path)
	if err != nil {
		return nil, err
	}
	rIn := getReserve(state, x.addr, hop.AssetIn, hop.AssetOut, 0, hop.AssetIn)
	rOut := getReserve(state, x.addr, hop.AssetIn, hop.AssetOut, 0, hop.AssetOut)
	out, err := getAmountOut(amountIn, rIn, rOut, pairFeeBps)
	if err != nil {
		return nil, err
	}
	return []*big.Int{new(big.Int).Set(amountIn), out}, nil
}

func (x *PairExchange) QuoteExactOutput(state contract.StateDB, path []byte, amountOut *big.Int) ([]*big.Int, error) {
	hop, err := x.pairHop(path)
	if err != nil {
		return nil, err
	}
	rIn := getReserve(state, x.addr, hop.AssetIn, hop.AssetOut, 0, hop.AssetIn)
	rOut := getReserve(state, x.addr, hop.AssetIn, hop.AssetOut, 0, hop.AssetOut)
	in, err := getAmountIn(amountOut, rIn, rOut, pairFeeBps)
	if err != nil {
		return nil, err
	}
	return []*big.Int{in, new(big.Int).Set(amountOut)}, nil
}

// execute settles a quoted single-hop amounts pair.
func (x *PairExchange) execute(
	state contract.StateDB,
	payer, recipient common.Address,
	hop Hop,
	amounts []*big.Int,
) error {
	amountIn, _ := uint256.FromBig(amounts[0])
	if err := TransferTokenFrom(state, hop.AssetIn, x.addr, payer, x.addr, amountIn); err != nil {
		return err
	}
	rIn := getReserve(state, x.addr, hop.AssetIn, hop.AssetOut, 0, hop.AssetIn)
	rOut := getReserve(state, x.addr, hop.AssetIn, hop.AssetOut, 0, hop.AssetOut)
	setReserve(state, x.addr, hop.AssetIn, hop.AssetOut, 0, hop.AssetIn, rIn.Add(rIn, amounts[0]))
	setReserve(state, x.addr, hop.AssetIn, hop.AssetOut, 0, hop.AssetOut, rOut.Sub(rOut, amounts[1]))

	amountOut, _ := uint256.FromBig(amounts[1])
	return TransferToken(state, hop.AssetOut, x.addr, recipient, amountOut)
}

func (x *PairExchange) SwapExactInput(
	state contract.StateDB,
	payer, recipient common.Address,
	path []byte,
	amountIn, amountOutMin *big.Int,
) ([]*big.Int, error) {
	hop, err := x.pairHop(path)
	if err != nil {
		return nil, err
	}
	amounts, err := x.QuoteExactInput(state, path, amountIn)
	if err != nil {
		return nil, err
	}
	if amounts[1].Cmp(amountOutMin) < 0 {
		return nil, fmt.Errorf("%w: out=%s min=%s", ErrExcessiveSlippage, amounts[1], amountOutMin)
	}
	if err := x.execute(state, payer, recipient, hop, amounts); err != nil {
		return nil, err
	}
	return amounts, nil
}

func (x *PairExchange) SwapExactOutput(
	state contract.StateDB,
	payer, recipient common.Address,
	path []byte,
	amountOut, amountInMax *big.Int,
) ([]*big.Int, error) {
	hop, err := x.pairHop(path)
	if err != nil {
		return nil, err
	}
	amounts, err := x.QuoteExactOutput(state, path, amountOut)
	if err != nil {
		return nil, err
	}
	if amounts[0].Cmp(amountInMax) > 0 {
		return nil, fmt.Errorf("%w: in=%s max=%s", ErrInputExceedsMax, amounts[0], amountInMax)
	}
	if err := x.execute(state, payer, recipient, hop, amounts); err != nil {
		return nil, err
	}
	return amounts, nil
}

var _ Exchange = (*PairExchange)(nil)
