// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package router implements the payment-routing settlement precompile.
// It accepts an inbound token or native amount, executes a swap through
// an exchange capability, splits the output into a recipient payment, a
// protocol fee and an excess refund, and records an auditable ledger
// entry, all within one atomic call.
package router

import (
	"errors"
	"math/big"

	luxcrypto "github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
)

// Precompile addresses for payment components
// Low-byte format: 0x0000000000000000000000000000000000000AXX
const (
	RouterAddressHex       = "0x0000000000000000000000000000000000000a50" // settlement router
	PoolExchangeAddressHex = "0x0000000000000000000000000000000000000a60" // multi-hop pool exchange
	PairExchangeAddressHex = "0x0000000000000000000000000000000000000a61" // V2-style pair exchange
)

var (
	RouterAddress       = common.HexToAddress(RouterAddressHex)
	PoolExchangeAddress = common.HexToAddress(PoolExchangeAddressHex)
	PairExchangeAddress = common.HexToAddress(PairExchangeAddressHex)

	// DefaultWrappedNative is the canonical wrapped-native token used
	// for routing native-asset swaps. Overridable via config.
	DefaultWrappedNative = common.HexToAddress("0x4200000000000000000000000000000000000006")
)

// Gas costs
const (
	GasSwapSettle  uint64 = 25_000 // Full swap-and-settle
	GasTransfer    uint64 = 12_000 // Swap-free relay payment
	GasQuote       uint64 = 2_000  // Quote pass-through
	GasCommit      uint64 = 8_000  // Register a commitment
	GasLedgerRead  uint64 = 500    // Ledger/aggregate reads
	GasConfigWrite uint64 = 5_000  // Role-gated setters
	GasConfigRead  uint64 = 200    // Config reads
	GasEmergency   uint64 = 10_000 // Emergency withdrawal
)

// Protocol fee and policy constants (basis points)
const (
	BasisPoints uint64 = 10_000

	// MaxFeeBps is the flat protocol-wide cap on the settlement fee,
	// taken against the caller-declared output floor. 0.30%.
	MaxFeeBps uint64 = 30

	// MaxTransferFeeBps is the DAO ceiling on the runtime-configurable
	// per-transfer fee percentage. This is a separate policy from the
	// settlement-fee cap above and the two are never merged.
	MaxTransferFeeBps uint64 = 500
)

// Commitment lifetime bounds (seconds)
const (
	MinCommitmentDuration uint64 = 60
	MaxCommitmentDuration uint64 = 3600
)

// Ledger bounds
const (
	// MaxRangeQuery caps the number of records one range query may
	// return. Applied uniformly to all query paths.
	MaxRangeQuery uint64 = 100

	// MaxMemoBytes bounds the settlement memo (eight storage words).
	MaxMemoBytes = 256
)

// Asset represents a settlement asset (native or token).
// The zero address represents the chain's native asset.
type Asset struct {
	Address common.Address
}

// NativeAsset is the chain's base currency.
var NativeAsset = Asset{Address: common.Address{}}

// IsNative returns true if this asset is the chain's native asset.
func (a Asset) IsNative() bool {
	return a.Address == common.Address{}
}

// ToBytes serializes the asset for storage keys.
func (a Asset) ToBytes() []byte {
	return a.Address.Bytes()
}

// Hop is one leg of a swap path.
type Hop struct {
	AssetIn  common.Address
	AssetOut common.Address
	FeeTier  uint32 // pool fee tier in basis points (ignored by pair exchanges)
}

// Path wire format: token(20) || fee(3) || token(20) [|| fee(3) || token(20) ...]
const (
	pathAssetSize = 20
	pathFeeSize   = 3
	pathHopSize   = pathAssetSize + pathFeeSize
	minPathSize   = pathAssetSize + pathFeeSize + pathAssetSize
)

// DecodePath splits a packed path into hops. Pure decode, the exchange
// is never consulted.
func DecodePath(path []byte) ([]Hop, error) {
	if len(path) < minPathSize {
		return nil, ErrInvalidPath
	}
	if (len(path)-pathAssetSize)%pathHopSize != 0 {
		return nil, ErrInvalidPath
	}

	numHops := (len(path) - pathAssetSize) / pathHopSize
	hops := make([]Hop, 0, numHops)
	for i := 0; i < numHops; i++ {
		off := i * pathHopSize
		hop := Hop{
			AssetIn: common.BytesToAddress(path[off : off+pathAssetSize]),
			FeeTier: uint32(path[off+pathAssetSize])<<16 |
				uint32(path[off+pathAssetSize+1])<<8 |
				uint32(path[off+pathAssetSize+2]),
			AssetOut: common.BytesToAddress(path[off+pathHopSize : off+pathHopSize+pathAssetSize]),
		}
		if hop.AssetIn == hop.AssetOut {
			return nil, ErrInvalidPath
		}
		if hop.FeeTier >= uint32(BasisPoints) {
			return nil, ErrInvalidPath
		}
		hops = append(hops, hop)
	}
	return hops, nil
}

// EncodePath packs hops into the wire format.
func EncodePath(hops []Hop) []byte {
	if len(hops) == 0 {
		return nil
	}
	path := make([]byte, 0, pathAssetSize+len(hops)*pathHopSize)
	path = append(path, hops[0].AssetIn.Bytes()...)
	for _, hop := range hops {
		path = append(path, byte(hop.FeeTier>>16), byte(hop.FeeTier>>8), byte(hop.FeeTier))
		path = append(path, hop.AssetOut.Bytes()...)
	}
	return path
}

// PathEndpoints returns the overall input and output assets of a path
// without invoking the exchange.
func PathEndpoints(path []byte) (assetIn, assetOut common.Address, err error) {
	hops, err := DecodePath(path)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return hops[0].AssetIn, hops[len(hops)-1].AssetOut, nil
}

// SwapKind discriminates exact-input from exact-output requests.
type SwapKind uint8

const (
	ExactInput SwapKind = iota
	ExactOutput
)

// SwapRequest is the normalized per-call request shared by every swap
// shape. Exact-input requests carry AmountSpecified = amountIn and
// AmountLimit = amountOutMin; exact-output requests carry
// AmountSpecified = amountOut and AmountLimit = amountInMax.
type SwapRequest struct {
	Kind      SwapKind
	NativeIn  bool
	NativeOut bool

	Path      []byte
	Recipient common.Address

	AmountSpecified *big.Int
	AmountLimit     *big.Int

	PaymentAmount *big.Int
	Deadline      uint64
	Memo          string

	CommitNonce   uint64
	HasCommitment bool
}

// OutputFloor returns the caller-declared minimum (exact-input) or
// exact target (exact-output) output, the fee-computation baseline.
func (r *SwapRequest) OutputFloor() *big.Int {
	if r.Kind == ExactOutput {
		return r.AmountSpecified
	}
	return r.AmountLimit
}

// InputCeiling returns the exact input (exact-input) or declared
// maximum input (exact-output).
func (r *SwapRequest) InputCeiling() *big.Int {
	if r.Kind == ExactOutput {
		return r.AmountLimit
	}
	return r.AmountSpecified
}

// PaymentRequest is a swap-free relay payment: the gross amount is
// pulled from the caller, the configurable transfer fee is carved out
// for the fee receiver and the remainder goes to the recipient.
type PaymentRequest struct {
	Native    bool
	Token     common.Address
	Recipient common.Address
	Amount    *big.Int
	Deadline  uint64
	Memo      string
}

// SettlementRecord is one completed swap-and-distribute operation.
// Created exactly once per successful swap, immutable thereafter.
type SettlementRecord struct {
	Recipient     common.Address
	PaymentAmount *big.Int
	Timestamp     uint64
	Memo          string
}

// SwapCommitment is a commit-reveal entry keyed by (account, nonce).
// Once consumed or expired it is logically dead but never deleted.
type SwapCommitment struct {
	ParamsHash  common.Hash
	CommitBlock uint64
	Expiry      uint64
	Executed    bool
}

// MEVConfig is the protection policy read on every swap when enabled.
type MEVConfig struct {
	Enabled            bool
	MaxSlippageBps     uint64 // <= 10000
	MinBlockDelay      uint64
	CommitmentDuration uint64 // seconds, within [60, 3600]
}

// Role identifies a capability held by an account.
type Role uint8

const (
	// RoleOperator can change the fee receiver, MEV configuration,
	// asset allowlist and the transfer fee percentage.
	RoleOperator Role = 1
	// RoleAdmin can reassign roles and perform emergency recovery.
	RoleAdmin Role = 2
)

// Errors - input validation
var (
	ErrZeroAmount          = errors.New("zero amount")
	ErrInvalidPath         = errors.New("malformed swap path")
	ErrPaymentExceedsFloor = errors.New("payment amount exceeds declared output floor")
	ErrInvalidRecipient    = errors.New("invalid recipient address")
	ErrInvalidFeeReceiver  = errors.New("invalid fee receiver address")
	ErrAssetNotAllowed     = errors.New("asset not on allowlist")
	ErrMemoTooLong         = errors.New("memo exceeds maximum length")
	ErrRouteMismatch       = errors.New("path endpoint does not match wrapped native")
	ErrInvalidInput        = errors.New("invalid input")
)

// Errors - policy violations
var (
	ErrFeeExceedsMax             = errors.New("fee exceeds protocol maximum")
	ErrSlippageExceeded          = errors.New("slippage exceeds configured maximum")
	ErrInvalidCommitment         = errors.New("commitment hash mismatch")
	ErrCommitmentAlreadyExecuted = errors.New("commitment already executed")
	ErrCommitmentExpired         = errors.New("commitment expired")
	ErrCommitmentNotFound        = errors.New("commitment not found")
	ErrDelayNotMet               = errors.New("minimum block delay not satisfied")
	ErrDeadlinePassed            = errors.New("deadline passed")
	ErrMEVDisabled               = errors.New("MEV protection disabled")
	ErrInvalidMEVConfig          = errors.New("invalid MEV configuration")
	ErrInvalidTransferFee        = errors.New("transfer fee exceeds DAO ceiling")
)

// Errors - authorization
var (
	ErrUnauthorized = errors.New("caller lacks required role")
)

// Errors - external dependencies
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientNative    = errors.New("insufficient attached native value")
	ErrInputExceedsMax       = errors.New("execution consumed more than declared maximum input")
	ErrExcessiveSlippage     = errors.New("exchange output below declared minimum")
	ErrUnsupportedPath       = errors.New("path not supported by exchange")
	ErrNoLiquidity           = errors.New("no liquidity for pair")
)

// Errors - invariants and environment
var (
	ErrInvalidRange     = errors.New("invalid range bounds")
	ErrRangeExceedsLast = errors.New("range exceeds last settlement id")
	ErrRangeTooLarge    = errors.New("range too large")
	ErrReentrant        = errors.New("reentrancy detected")
	ErrPaused           = errors.New("router is paused")
	ErrReadOnly         = errors.New("cannot write in read-only mode")
	ErrInsufficientGas  = errors.New("insufficient gas")
	ErrUnknownSelector  = errors.New("unknown method selector")
)

// Event topics (first topic of each structured log)
var (
	TopicFeeDisclosed         = keccakTopic("FeeDisclosed(address,uint64,uint256)")
	TopicSettlementExecuted   = keccakTopic("SettlementExecuted(address,address,address,address,uint256,uint256,uint256,string)")
	TopicCommitmentRegistered = keccakTopic("CommitmentRegistered(address,uint64,bytes32,uint64)")
	TopicMEVGuardTriggered    = keccakTopic("MEVGuardTriggered(address,string)")
	TopicFeeReceiverUpdated   = keccakTopic("FeeReceiverUpdated(address,address)")
	TopicMEVConfigUpdated     = keccakTopic("MEVConfigUpdated(bool,uint64,uint64,uint64)")
	TopicPausedSet            = keccakTopic("PausedSet(bool)")
	TopicEmergencyWithdrawal  = keccakTopic("EmergencyWithdrawal(address,address,uint256)")
)

func keccakTopic(signature string) common.Hash {
	return common.BytesToHash(luxcrypto.Keccak256([]byte(signature)))
}
