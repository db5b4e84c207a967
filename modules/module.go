// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package modules maintains the registry of stateful precompile
// modules and the address ranges reserved for them.
package modules

import (
	"bytes"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/payrouter/contract"
)

// Module pairs a precompile contract with its address and config hook.
type Module struct {
	// ConfigKey is the key used in json config files to specify this
	// precompile's config.
	ConfigKey string
	// Address is the address where the precompile is accessible.
	Address common.Address
	// Contract is the precompile implementation.
	Contract contract.StatefulPrecompiledContract
	// Configurator applies the module's config at activation.
	Configurator contract.Configurator
}

type moduleArray []Module

func (m moduleArray) Len() int      { return len(m) }
func (m moduleArray) Swap(i, j int) { m[i], m[j] = m[j], m[i] }
func (m moduleArray) Less(i, j int) bool {
	return bytes.Compare(m[i].Address.Bytes(), m[j].Address.Bytes()) < 0
}
