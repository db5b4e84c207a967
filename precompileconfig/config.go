// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package precompileconfig defines the configuration contract for
// stateful precompiles: a JSON-serializable config keyed by name,
// activated (and optionally disabled) at a block timestamp.
package precompileconfig

import "math/big"

// Config is implemented by each precompile's configuration type.
type Config interface {
	// Key returns the unique name used in chain config JSON.
	Key() string
	// Timestamp returns the activation timestamp, nil if never active.
	Timestamp() *uint64
	// IsDisabled returns true if this entry deactivates the precompile.
	IsDisabled() bool
	// Equal reports deep equality with another config.
	Equal(Config) bool
	// Verify checks the config is internally consistent.
	Verify(ChainConfig) error
}

// ChainConfig is the chain-level context available to Verify.
type ChainConfig interface {
	ChainID() *big.Int
}

// Upgrade holds the activation window shared by all precompile configs.
type Upgrade struct {
	BlockTimestamp *uint64 `json:"blockTimestamp,omitempty"`
	Disable        bool    `json:"disable,omitempty"`
}

// Timestamp returns the upgrade activation timestamp.
func (u *Upgrade) Timestamp() *uint64 {
	return u.BlockTimestamp
}

// Equal reports whether two upgrades activate identically.
func (u *Upgrade) Equal(other *Upgrade) bool {
	if other == nil {
		return false
	}
	if u.Disable != other.Disable {
		return false
	}
	if (u.BlockTimestamp == nil) != (other.BlockTimestamp == nil) {
		return false
	}
	if u.BlockTimestamp != nil && *u.BlockTimestamp != *other.BlockTimestamp {
		return false
	}
	return true
}
