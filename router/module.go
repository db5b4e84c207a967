// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/payrouter/contract"
	"github.com/luxfi/payrouter/modules"
	"github.com/luxfi/payrouter/precompileconfig"
)

var _ contract.Configurator = (*configurator)(nil)
var _ contract.StatefulPrecompiledContract = (*RouterContract)(nil)

// ConfigKey is the key used in json config files to specify this precompile config.
const ConfigKey = "paymentRouterConfig"

// RouterPrecompile is the singleton instance
var RouterPrecompile = newRouterContract()

// Module is the precompile module (payment router at 0x0a50)
var Module = modules.Module{
	ConfigKey:    ConfigKey,
	Address:      RouterAddress,
	Contract:     RouterPrecompile,
	Configurator: &configurator{},
}

func init() {
	if err := modules.RegisterModule(Module); err != nil {
		panic(err)
	}
}

// Method selectors
const (
	// Swap and settlement
	SelectorSwapExactInput  uint32 = 0x01000000 // swapExactInput(SwapCall)
	SelectorSwapExactOutput uint32 = 0x02000000 // swapExactOutput(SwapCall)
	SelectorCommit          uint32 = 0x03000000 // commit(bytes32)
	SelectorQuoteExactIn    uint32 = 0x04000000 // quoteExactInput(uint8,uint256,bytes)
	SelectorQuoteExactOut   uint32 = 0x05000000 // quoteExactOutput(uint8,uint256,bytes)
	SelectorTransfer        uint32 = 0x06000000 // transfer(uint8,address,address,uint256,uint64,string)

	// Ledger reads
	SelectorGetSettlement     uint32 = 0x10000000 // getSettlement(uint64)
	SelectorRangeQuery        uint32 = 0x11000000 // rangeQuery(uint64,uint64)
	SelectorLastSettlementID  uint32 = 0x12000000 // lastSettlementId()
	SelectorSettlementCount   uint32 = 0x13000000 // settlementCount(address)
	SelectorVolumeByAsset     uint32 = 0x14000000 // volumeByAsset(address)
	SelectorVolumeByRecipient uint32 = 0x15000000 // volumeByRecipient(address)
	SelectorGetCommitment     uint32 = 0x16000000 // getCommitment(address,uint64)
	SelectorNextCommitNonce   uint32 = 0x17000000 // nextCommitNonce(address)
	SelectorGetMEVConfig      uint32 = 0x18000000 // getMEVConfig()

	// Role-gated configuration
	SelectorSetFeeReceiver    uint32 = 0x20000000 // setFeeReceiver(address)
	SelectorSetMEVConfig      uint32 = 0x21000000 // setMEVConfig(bool,uint64,uint64,uint64)
	SelectorSetPaused         uint32 = 0x22000000 // setPaused(bool)
	SelectorSetAssetAllowed   uint32 = 0x23000000 // setAssetAllowed(address,bool)
	SelectorSetTransferFee    uint32 = 0x24000000 // setTransferFeeBps(uint64)
	SelectorSetWrappedNative  uint32 = 0x25000000 // setWrappedNative(address)
	SelectorGrantRole         uint32 = 0x26000000 // grantRole(address,uint8)
	SelectorRevokeRole        uint32 = 0x27000000 // revokeRole(address,uint8)
	SelectorEmergencyWithdraw uint32 = 0x28000000 // emergencyWithdraw(address,address,uint256)

	// Configuration reads
	SelectorGetFeeReceiver   uint32 = 0x30000000 // getFeeReceiver()
	SelectorIsPaused         uint32 = 0x31000000 // isPaused()
	SelectorAssetAllowed     uint32 = 0x32000000 // assetAllowed(address)
	SelectorGetTransferFee   uint32 = 0x33000000 // getTransferFeeBps()
	SelectorGetWrappedNative uint32 = 0x34000000 // getWrappedNative()
	SelectorHasRole          uint32 = 0x35000000 // hasRole(address,uint8)
)

// Exchange ids addressable from swap/quote calldata
const (
	ExchangePool byte = 0
	ExchangePair byte = 1
)

// RouterContract implements the payment router precompile.
type RouterContract struct {
	guard *Guard

	// One orchestrator per exchange; each carries its own reentrancy
	// latch and delegates execution to a different venue.
	pool *Orchestrator
	pair *Orchestrator
}

func newRouterContract() *RouterContract {
	logger := log.NewTestLogger(log.InfoLevel)
	return &RouterContract{
		guard: NewGuard(logger),
		pool:  NewOrchestrator(logger, NewPoolExchange()),
		pair:  NewOrchestrator(logger, NewPairExchange()),
	}
}

func (c *RouterContract) orchestrator(exchangeID byte) (*Orchestrator, error) {
	switch exchangeID {
	case ExchangePool:
		return c.pool, nil
	case ExchangePair:
		return c.pair, nil
	default:
		return nil, fmt.Errorf("%w: exchange id %d", ErrInvalidInput, exchangeID)
	}
}

type configurator struct{}

func (*configurator) MakeConfig() precompileconfig.Config {
	return new(Config)
}

func (*configurator) Configure(
	chainConfig precompileconfig.ChainConfig,
	cfg precompileconfig.Config,
	state contract.StateDB,
	blockContext contract.ConfigurationBlockContext,
) error {
	config, ok := cfg.(*Config)
	if !ok {
		return fmt.Errorf("expected config type %T, got %T: %v", &Config{}, cfg, cfg)
	}

	if config.Admin != (common.Address{}) {
		setUint64Slot(state, roleKey(config.Admin, RoleAdmin), 1)
		setUint64Slot(state, roleKey(config.Admin, RoleOperator), 1)
		setUint64Slot(state, makeStorageKey(adminSeededPrefix), 1)
	}
	if config.FeeReceiver != (common.Address{}) {
		var slot common.Hash
		copy(slot[12:], config.FeeReceiver.Bytes())
		state.SetState(RouterAddress, makeStorageKey(feeReceiverPrefix), slot)
	}
	if config.WrappedNative != (common.Address{}) {
		var slot common.Hash
		copy(slot[12:], config.WrappedNative.Bytes())
		state.SetState(RouterAddress, makeStorageKey(wrappedNativePrefix), slot)
	}
	if config.MEV != nil {
		if err := validateMEVConfig(*config.MEV); err != nil {
			return err
		}
		setMEVConfig(state, *config.MEV)
	}
	return nil
}

// Config implements the precompileconfig.Config interface
type Config struct {
	Upgrade       precompileconfig.Upgrade `json:"upgrade,omitempty"`
	Admin         common.Address           `json:"admin,omitempty"`
	FeeReceiver   common.Address           `json:"feeReceiver,omitempty"`
	WrappedNative common.Address           `json:"wrappedNative,omitempty"`
	MEV           *MEVConfig               `json:"mevConfig,omitempty"`
}

func (c *Config) Key() string {
	return ConfigKey
}

func (c *Config) Timestamp() *uint64 {
	return c.Upgrade.Timestamp()
}

func (c *Config) IsDisabled() bool {
	return c.Upgrade.Disable
}

func (c *Config) Equal(cfg precompileconfig.Config) bool {
	other, ok := cfg.(*Config)
	if !ok {
		return false
	}
	if (c.MEV == nil) != (other.MEV == nil) {
		return false
	}
	if c.MEV != nil && *c.MEV != *other.MEV {
		return false
	}
	return c.Upgrade.Equal(&other.Upgrade) &&
		c.Admin == other.Admin &&
		c.FeeReceiver == other.FeeReceiver &&
		c.WrappedNative == other.WrappedNative
}

func (c *Config) Verify(chainConfig precompileconfig.ChainConfig) error {
	if c.MEV != nil {
		return validateMEVConfig(*c.MEV)
	}
	return nil
}

// Run executes the precompile
func (c *RouterContract) Run(
	accessibleState contract.AccessibleState,
	caller common.Address,
	addr common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) (ret []byte, remainingGas uint64, err error) {
	if len(input) < 4 {
		return nil, suppliedGas, ErrInvalidInput
	}

	selector := binary.BigEndian.Uint32(input[:4])
	args := input[4:]

	switch selector {
	case SelectorSwapExactInput:
		return c.runSwap(accessibleState, caller, args, suppliedGas, readOnly, ExactInput)
	case SelectorSwapExactOutput:
		return c.runSwap(accessibleState, caller, args, suppliedGas, readOnly, ExactOutput)
	case SelectorCommit:
		return c.runCommit(accessibleState, caller, args, suppliedGas, readOnly)
	case SelectorQuoteExactIn:
		return c.runQuote(accessibleState, args, suppliedGas, ExactInput)
	case SelectorQuoteExactOut:
		return c.runQuote(accessibleState, args, suppliedGas, ExactOutput)
	case SelectorTransfer:
		return c.runTransfer(accessibleState, caller, args, suppliedGas, readOnly)

	case SelectorGetSettlement:
		return c.runGetSettlement(accessibleState, args, suppliedGas)
	case SelectorRangeQuery:
		return c.runRangeQuery(accessibleState, args, suppliedGas)
	case SelectorLastSettlementID:
		return c.runLastSettlementID(accessibleState, suppliedGas)
	case SelectorSettlementCount:
		return c.runSettlementCount(accessibleState, args, suppliedGas)
	case SelectorVolumeByAsset:
		return c.runVolumeByAsset(accessibleState, args, suppliedGas)
	case SelectorVolumeByRecipient:
		return c.runVolumeByRecipient(accessibleState, args, suppliedGas)
	case SelectorGetCommitment:
		return c.runGetCommitment(accessibleState, args, suppliedGas)
	case SelectorNextCommitNonce:
		return c.runNextCommitNonce(accessibleState, args, suppliedGas)
	case SelectorGetMEVConfig:
		return c.runGetMEVConfig(accessibleState, suppliedGas)

	case SelectorSetFeeReceiver, SelectorSetMEVConfig, SelectorSetPaused,
		SelectorSetAssetAllowed, SelectorSetTransferFee, SelectorSetWrappedNative,
		SelectorGrantRole, SelectorRevokeRole:
		return c.runConfigWrite(accessibleState, caller, selector, args, suppliedGas, readOnly)
	case SelectorEmergencyWithdraw:
		return c.runEmergencyWithdraw(accessibleState, caller, args, suppliedGas, readOnly)

	case SelectorGetFeeReceiver, SelectorIsPaused, SelectorAssetAllowed,
		SelectorGetTransferFee, SelectorGetWrappedNative, SelectorHasRole:
		return c.runConfigRead(accessibleState, selector, args, suppliedGas)

	default:
		return nil, suppliedGas, fmt.Errorf("%w: %#x", ErrUnknownSelector, selector)
	}
}

// deductGas charges a fixed method cost upfront.
func deductGas(suppliedGas, cost uint64) (uint64, error) {
	if suppliedGas < cost {
		return 0, ErrInsufficientGas
	}
	return suppliedGas - cost, nil
}

// Calldata word helpers. Layouts are fixed 32-byte words followed by
// raw variable-length tails.

func word(input []byte, i int) (common.Hash, error) {
	if len(input) < (i+1)*32 {
		return common.Hash{}, fmt.Errorf("%w: want word %d, have %d bytes", ErrInvalidInput, i, len(input))
	}
	return common.BytesToHash(input[i*32 : (i+1)*32]), nil
}

func wordAddress(input []byte, i int) (common.Address, error) {
	w, err := word(input, i)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(w[12:]), nil
}

func wordUint64(input []byte, i int) (uint64, error) {
	w, err := word(input, i)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(w[24:]), nil
}

func wordBig(input []byte, i int) (*big.Int, error) {
	w, err := word(input, i)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w[:]), nil
}

// Swap calldata layout, after the selector:
//
//	word 0: flags (byte 31: bit0 nativeIn, bit1 nativeOut, bit2 hasCommitment; byte 30: exchange id)
//	word 1: recipient
//	word 2: amountSpecified
//	word 3: amountLimit
//	word 4: paymentAmount
//	word 5: deadline
//	word 6: commitNonce
//	word 7: path length
//	word 8: memo length
//	tail:   path bytes, then memo bytes
func decodeSwapCall(input []byte, kind SwapKind) (*SwapRequest, byte, error) {
	flagsWord, err := word(input, 0)
	if err != nil {
		return nil, 0, err
	}
	recipient, err := wordAddress(input, 1)
	if err != nil {
		return nil, 0, err
	}
	amountSpecified, err := wordBig(input, 2)
	if err != nil {
		return nil, 0, err
	}
	amountLimit, err := wordBig(input, 3)
	if err != nil {
		return nil, 0, err
	}
	paymentAmount, err := wordBig(input, 4)
	if err != nil {
		return nil, 0, err
	}
	deadline, err := wordUint64(input, 5)
	if err != nil {
		return nil, 0, err
	}
	commitNonce, err := wordUint64(input, 6)
	if err != nil {
		return nil, 0, err
	}
	pathLen, err := wordUint64(input, 7)
	if err != nil {
		return nil, 0, err
	}
	memoLen, err := wordUint64(input, 8)
	if err != nil {
		return nil, 0, err
	}

	tail := input[9*32:]
	// Each length is checked on its own; summing them first could wrap.
	if pathLen > uint64(len(tail)) || memoLen > uint64(len(tail))-pathLen {
		return nil, 0, fmt.Errorf("%w: tail=%d path=%d memo=%d", ErrInvalidInput, len(tail), pathLen, memoLen)
	}
	path := make([]byte, pathLen)
	copy(path, tail[:pathLen])
	memo := string(tail[pathLen : pathLen+memoLen])

	flags := flagsWord[31]
	req := &SwapRequest{
		Kind:            kind,
		NativeIn:        flags&0x01 != 0,
		NativeOut:       flags&0x02 != 0,
		HasCommitment:   flags&0x04 != 0,
		Path:            path,
		Recipient:       recipient,
		AmountSpecified: amountSpecified,
		AmountLimit:     amountLimit,
		PaymentAmount:   paymentAmount,
		Deadline:        deadline,
		Memo:            memo,
		CommitNonce:     commitNonce,
	}
	return req, flagsWord[30], nil
}

func encodeSettlementResult(res *SettlementResult) []byte {
	out := make([]byte, 0, 5*32)
	out = append(out, uint64Topic(res.SettlementID).Bytes()...)
	out = append(out, bigWord(res.AmountIn)...)
	out = append(out, bigWord(res.AmountOut)...)
	out = append(out, bigWord(res.Fee)...)
	out = append(out, bigWord(res.Refund)...)
	return out
}

func (c *RouterContract) runSwap(
	accessibleState contract.AccessibleState,
	caller common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
	kind SwapKind,
) ([]byte, uint64, error) {
	if readOnly {
		return nil, suppliedGas, ErrReadOnly
	}
	remainingGas, err := deductGas(suppliedGas, GasSwapSettle)
	if err != nil {
		return nil, 0, err
	}

	req, exchangeID, err := decodeSwapCall(input, kind)
	if err != nil {
		return nil, remainingGas, err
	}
	orch, err := c.orchestrator(exchangeID)
	if err != nil {
		return nil, remainingGas, err
	}
	res, err := orch.SwapAndSettle(accessibleState, caller, req)
	if err != nil {
		return nil, remainingGas, err
	}
	return encodeSettlementResult(res), remainingGas, nil
}

// Transfer calldata layout, after the selector:
//
//	word 0: flags (byte 31: bit0 native)
//	word 1: token (ignored for native payments)
//	word 2: recipient
//	word 3: amount
//	word 4: deadline
//	word 5: memo length
//	tail:   memo bytes
func decodeTransferCall(input []byte) (*PaymentRequest, error) {
	flagsWord, err := word(input, 0)
	if err != nil {
		return nil, err
	}
	token, err := wordAddress(input, 1)
	if err != nil {
		return nil, err
	}
	recipient, err := wordAddress(input, 2)
	if err != nil {
		return nil, err
	}
	amount, err := wordBig(input, 3)
	if err != nil {
		return nil, err
	}
	deadline, err := wordUint64(input, 4)
	if err != nil {
		return nil, err
	}
	memoLen, err := wordUint64(input, 5)
	if err != nil {
		return nil, err
	}

	tail := input[6*32:]
	if memoLen > uint64(len(tail)) {
		return nil, fmt.Errorf("%w: tail=%d memo=%d", ErrInvalidInput, len(tail), memoLen)
	}
	return &PaymentRequest{
		Native:    flagsWord[31]&0x01 != 0,
		Token:     token,
		Recipient: recipient,
		Amount:    amount,
		Deadline:  deadline,
		Memo:      string(tail[:memoLen]),
	}, nil
}

func (c *RouterContract) runTransfer(
	accessibleState contract.AccessibleState,
	caller common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) ([]byte, uint64, error) {
	if readOnly {
		return nil, suppliedGas, ErrReadOnly
	}
	remainingGas, err := deductGas(suppliedGas, GasTransfer)
	if err != nil {
		return nil, 0, err
	}

	req, err := decodeTransferCall(input)
	if err != nil {
		return nil, remainingGas, err
	}
	// Direct payments share the pool orchestrator's custody latch.
	res, err := c.pool.TransferAndSettle(accessibleState, caller, req)
	if err != nil {
		return nil, remainingGas, err
	}
	return encodeSettlementResult(res), remainingGas, nil
}

func (c *RouterContract) runCommit(
	accessibleState contract.AccessibleState,
	caller common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) ([]byte, uint64, error) {
	if readOnly {
		return nil, suppliedGas, ErrReadOnly
	}
	remainingGas, err := deductGas(suppliedGas, GasCommit)
	if err != nil {
		return nil, 0, err
	}

	paramsHash, err := word(input, 0)
	if err != nil {
		return nil, remainingGas, err
	}
	nonce, expiry, err := c.pool.Commit(accessibleState, caller, paramsHash)
	if err != nil {
		return nil, remainingGas, err
	}

	out := make([]byte, 0, 64)
	out = append(out, uint64Topic(nonce).Bytes()...)
	out = append(out, uint64Topic(expiry).Bytes()...)
	return out, remainingGas, nil
}

// Quote calldata: word 0 exchange id, word 1 amount, word 2 path
// length, tail path bytes.
func (c *RouterContract) runQuote(
	accessibleState contract.AccessibleState,
	input []byte,
	suppliedGas uint64,
	kind SwapKind,
) ([]byte, uint64, error) {
	remainingGas, err := deductGas(suppliedGas, GasQuote)
	if err != nil {
		return nil, 0, err
	}

	exchangeWord, err := word(input, 0)
	if err != nil {
		return nil, remainingGas, err
	}
	amount, err := wordBig(input, 1)
	if err != nil {
		return nil, remainingGas, err
	}
	pathLen, err := wordUint64(input, 2)
	if err != nil {
		return nil, remainingGas, err
	}
	tail := input[3*32:]
	if uint64(len(tail)) < pathLen {
		return nil, remainingGas, ErrInvalidInput
	}
	path := tail[:pathLen]

	orch, err := c.orchestrator(exchangeWord[31])
	if err != nil {
		return nil, remainingGas, err
	}
	state := accessibleState.GetStateDB()

	var amounts []*big.Int
	if kind == ExactInput {
		amounts, err = orch.exchange.QuoteExactInput(state, path, amount)
	} else {
		amounts, err = orch.exchange.QuoteExactOutput(state, path, amount)
	}
	if err != nil {
		return nil, remainingGas, err
	}

	out := make([]byte, 0, len(amounts)*32)
	for _, a := range amounts {
		out = append(out, bigWord(a)...)
	}
	return out, remainingGas, nil
}

func encodeSettlementRecord(rec SettlementRecord) []byte {
	out := make([]byte, 0, 4*32+len(rec.Memo))
	out = append(out, addressTopic(rec.Recipient).Bytes()...)
	out = append(out, bigWord(rec.PaymentAmount)...)
	out = append(out, uint64Topic(rec.Timestamp).Bytes()...)
	out = append(out, uint64Topic(uint64(len(rec.Memo))).Bytes()...)
	out = append(out, []byte(rec.Memo)...)
	return out
}

func (c *RouterContract) runGetSettlement(
	accessibleState contract.AccessibleState,
	input []byte,
	suppliedGas uint64,
) ([]byte, uint64, error) {
	remainingGas, err := deductGas(suppliedGas, GasLedgerRead)
	if err != nil {
		return nil, 0, err
	}
	id, err := wordUint64(input, 0)
	if err != nil {
		return nil, remainingGas, err
	}
	rec, err := GetSettlement(accessibleState.GetStateDB(), id)
	if err != nil {
		return nil, remainingGas, err
	}
	return encodeSettlementRecord(rec), remainingGas, nil
}

func (c *RouterContract) runRangeQuery(
	accessibleState contract.AccessibleState,
	input []byte,
	suppliedGas uint64,
) ([]byte, uint64, error) {
	remainingGas, err := deductGas(suppliedGas, GasLedgerRead)
	if err != nil {
		return nil, 0, err
	}
	fromID, err := wordUint64(input, 0)
	if err != nil {
		return nil, remainingGas, err
	}
	toID, err := wordUint64(input, 1)
	if err != nil {
		return nil, remainingGas, err
	}
	records, err := RangeQuery(accessibleState.GetStateDB(), fromID, toID)
	if err != nil {
		return nil, remainingGas, err
	}

	// Count word, then each record length-prefixed.
	out := uint64Topic(uint64(len(records))).Bytes()
	for _, rec := range records {
		enc := encodeSettlementRecord(rec)
		out = append(out, uint64Topic(uint64(len(enc))).Bytes()...)
		out = append(out, enc...)
	}
	return out, remainingGas, nil
}

func (c *RouterContract) runLastSettlementID(
	accessibleState contract.AccessibleState,
	suppliedGas uint64,
) ([]byte, uint64, error) {
	remainingGas, err := deductGas(suppliedGas, GasLedgerRead)
	if err != nil {
		return nil, 0, err
	}
	return uint64Topic(LastSettlementID(accessibleState.GetStateDB())).Bytes(), remainingGas, nil
}

func (c *RouterContract) runSettlementCount(
	accessibleState contract.AccessibleState,
	input []byte,
	suppliedGas uint64,
) ([]byte, uint64, error) {
	remainingGas, err := deductGas(suppliedGas, GasLedgerRead)
	if err != nil {
		return nil, 0, err
	}
	recipient, err := wordAddress(input, 0)
	if err != nil {
		return nil, remainingGas, err
	}
	return uint64Topic(SettlementCount(accessibleState.GetStateDB(), recipient)).Bytes(), remainingGas, nil
}

func (c *RouterContract) runVolumeByAsset(
	accessibleState contract.AccessibleState,
	input []byte,
	suppliedGas uint64,
) ([]byte, uint64, error) {
	remainingGas, err := deductGas(suppliedGas, GasLedgerRead)
	if err != nil {
		return nil, 0, err
	}
	asset, err := wordAddress(input, 0)
	if err != nil {
		return nil, remainingGas, err
	}
	vol := VolumeByAsset(accessibleState.GetStateDB(), Asset{Address: asset})
	return amountToHash(vol).Bytes(), remainingGas, nil
}

func (c *RouterContract) runVolumeByRecipient(
	accessibleState contract.AccessibleState,
	input []byte,
	suppliedGas uint64,
) ([]byte, uint64, error) {
	remainingGas, err := deductGas(suppliedGas, GasLedgerRead)
	if err != nil {
		return nil, 0, err
	}
	recipient, err := wordAddress(input, 0)
	if err != nil {
		return nil, remainingGas, err
	}
	vol := VolumeByRecipient(accessibleState.GetStateDB(), recipient)
	return amountToHash(vol).Bytes(), remainingGas, nil
}

func (c *RouterContract) runGetCommitment(
	accessibleState contract.AccessibleState,
	input []byte,
	suppliedGas uint64,
) ([]byte, uint64, error) {
	remainingGas, err := deductGas(suppliedGas, GasLedgerRead)
	if err != nil {
		return nil, 0, err
	}
	account, err := wordAddress(input, 0)
	if err != nil {
		return nil, remainingGas, err
	}
	nonce, err := wordUint64(input, 1)
	if err != nil {
		return nil, remainingGas, err
	}
	cmt, err := GetCommitment(accessibleState.GetStateDB(), account, nonce)
	if err != nil {
		return nil, remainingGas, err
	}

	out := make([]byte, 0, 4*32)
	out = append(out, cmt.ParamsHash.Bytes()...)
	out = append(out, uint64Topic(cmt.CommitBlock).Bytes()...)
	out = append(out, uint64Topic(cmt.Expiry).Bytes()...)
	var executed common.Hash
	if cmt.Executed {
		executed[31] = 1
	}
	out = append(out, executed.Bytes()...)
	return out, remainingGas, nil
}

func (c *RouterContract) runNextCommitNonce(
	accessibleState contract.AccessibleState,
	input []byte,
	suppliedGas uint64,
) ([]byte, uint64, error) {
	remainingGas, err := deductGas(suppliedGas, GasLedgerRead)
	if err != nil {
		return nil, 0, err
	}
	account, err := wordAddress(input, 0)
	if err != nil {
		return nil, remainingGas, err
	}
	return uint64Topic(NextCommitNonce(accessibleState.GetStateDB(), account)).Bytes(), remainingGas, nil
}

func (c *RouterContract) runGetMEVConfig(
	accessibleState contract.AccessibleState,
	suppliedGas uint64,
) ([]byte, uint64, error) {
	remainingGas, err := deductGas(suppliedGas, GasConfigRead)
	if err != nil {
		return nil, 0, err
	}
	cfg := GetMEVConfig(accessibleState.GetStateDB())

	out := make([]byte, 0, 4*32)
	var enabled common.Hash
	if cfg.Enabled {
		enabled[31] = 1
	}
	out = append(out, enabled.Bytes()...)
	out = append(out, uint64Topic(cfg.MaxSlippageBps).Bytes()...)
	out = append(out, uint64Topic(cfg.MinBlockDelay).Bytes()...)
	out = append(out, uint64Topic(cfg.CommitmentDuration).Bytes()...)
	return out, remainingGas, nil
}

func (c *RouterContract) runConfigWrite(
	accessibleState contract.AccessibleState,
	caller common.Address,
	selector uint32,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) ([]byte, uint64, error) {
	if readOnly {
		return nil, suppliedGas, ErrReadOnly
	}
	remainingGas, err := deductGas(suppliedGas, GasConfigWrite)
	if err != nil {
		return nil, 0, err
	}
	state := accessibleState.GetStateDB()

	switch selector {
	case SelectorSetFeeReceiver:
		receiver, err := wordAddress(input, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, c.guard.SetFeeReceiver(state, caller, receiver)

	case SelectorSetMEVConfig:
		enabledWord, err := word(input, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		maxSlippage, err := wordUint64(input, 1)
		if err != nil {
			return nil, remainingGas, err
		}
		minDelay, err := wordUint64(input, 2)
		if err != nil {
			return nil, remainingGas, err
		}
		duration, err := wordUint64(input, 3)
		if err != nil {
			return nil, remainingGas, err
		}
		cfg := MEVConfig{
			Enabled:            enabledWord[31] != 0,
			MaxSlippageBps:     maxSlippage,
			MinBlockDelay:      minDelay,
			CommitmentDuration: duration,
		}
		return nil, remainingGas, c.guard.SetMEVConfig(state, caller, cfg)

	case SelectorSetPaused:
		pausedWord, err := word(input, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, c.guard.SetPaused(state, caller, pausedWord[31] != 0)

	case SelectorSetAssetAllowed:
		asset, err := wordAddress(input, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		allowedWord, err := word(input, 1)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, c.guard.SetAssetAllowed(state, caller, Asset{Address: asset}, allowedWord[31] != 0)

	case SelectorSetTransferFee:
		bps, err := wordUint64(input, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, c.guard.SetTransferFeeBps(state, caller, bps)

	case SelectorSetWrappedNative:
		token, err := wordAddress(input, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, c.guard.SetWrappedNative(state, caller, token)

	case SelectorGrantRole:
		account, err := wordAddress(input, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		role, err := wordUint64(input, 1)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, c.guard.GrantRole(state, caller, account, Role(role))

	case SelectorRevokeRole:
		account, err := wordAddress(input, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		role, err := wordUint64(input, 1)
		if err != nil {
			return nil, remainingGas, err
		}
		return nil, remainingGas, c.guard.RevokeRole(state, caller, account, Role(role))
	}
	return nil, remainingGas, fmt.Errorf("%w: %#x", ErrUnknownSelector, selector)
}

func (c *RouterContract) runEmergencyWithdraw(
	accessibleState contract.AccessibleState,
	caller common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) ([]byte, uint64, error) {
	if readOnly {
		return nil, suppliedGas, ErrReadOnly
	}
	remainingGas, err := deductGas(suppliedGas, GasEmergency)
	if err != nil {
		return nil, 0, err
	}

	asset, err := wordAddress(input, 0)
	if err != nil {
		return nil, remainingGas, err
	}
	to, err := wordAddress(input, 1)
	if err != nil {
		return nil, remainingGas, err
	}
	amount, err := wordBig(input, 2)
	if err != nil {
		return nil, remainingGas, err
	}
	u, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, remainingGas, ErrInvalidInput
	}
	state := accessibleState.GetStateDB()
	return nil, remainingGas, c.guard.EmergencyWithdraw(state, caller, Asset{Address: asset}, to, u)
}

func (c *RouterContract) runConfigRead(
	accessibleState contract.AccessibleState,
	selector uint32,
	input []byte,
	suppliedGas uint64,
) ([]byte, uint64, error) {
	remainingGas, err := deductGas(suppliedGas, GasConfigRead)
	if err != nil {
		return nil, 0, err
	}
	state := accessibleState.GetStateDB()

	switch selector {
	case SelectorGetFeeReceiver:
		return addressTopic(FeeReceiver(state)).Bytes(), remainingGas, nil

	case SelectorIsPaused:
		var out common.Hash
		if IsPaused(state) {
			out[31] = 1
		}
		return out.Bytes(), remainingGas, nil

	case SelectorAssetAllowed:
		asset, err := wordAddress(input, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		var out common.Hash
		if AssetAllowed(state, Asset{Address: asset}) {
			out[31] = 1
		}
		return out.Bytes(), remainingGas, nil

	case SelectorGetTransferFee:
		return uint64Topic(TransferFeeBps(state)).Bytes(), remainingGas, nil

	case SelectorGetWrappedNative:
		return addressTopic(WrappedNative(state)).Bytes(), remainingGas, nil

	case SelectorHasRole:
		account, err := wordAddress(input, 0)
		if err != nil {
			return nil, remainingGas, err
		}
		role, err := wordUint64(input, 1)
		if err != nil {
			return nil, remainingGas, err
		}
		var out common.Hash
		if c.guard.HasRole(state, account, Role(role)) {
			out[31] = 1
		}
		return out.Bytes(), remainingGas, nil
	}
	return nil, remainingGas, fmt.Errorf("%w: %#x", ErrUnknownSelector, selector)
}
