// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package primitives

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// ChainID identifies the chain a block belongs to and thereby its fork rules.
type ChainID uint64

const (
	MainnetChainID ChainID = 1
	SepoliaChainID ChainID = 11155111
	HoleskyChainID ChainID = 17000
	DevChainID     ChainID = 1337
	// DevPragueChainID is DevChainID with Prague active from genesis.
	DevPragueChainID ChainID = 1338
)

func newUint64(v uint64) *uint64 { return &v }

// DevChainConfig is a local chain with every fork up to Cancun active from genesis.
var DevChainConfig = &params.ChainConfig{
	ChainID:                 big.NewInt(int64(DevChainID)),
	HomesteadBlock:          big.NewInt(0),
	EIP150Block:             big.NewInt(0),
	EIP155Block:             big.NewInt(0),
	EIP158Block:             big.NewInt(0),
	ByzantiumBlock:          big.NewInt(0),
	ConstantinopleBlock:     big.NewInt(0),
	PetersburgBlock:         big.NewInt(0),
	IstanbulBlock:           big.NewInt(0),
	MuirGlacierBlock:        big.NewInt(0),
	BerlinBlock:             big.NewInt(0),
	LondonBlock:             big.NewInt(0),
	ArrowGlacierBlock:       big.NewInt(0),
	GrayGlacierBlock:        big.NewInt(0),
	MergeNetsplitBlock:      big.NewInt(0),
	TerminalTotalDifficulty: big.NewInt(0),
	ShanghaiTime:            newUint64(0),
	CancunTime:              newUint64(0),
}

var DevPragueChainConfig = func() *params.ChainConfig {
	config := *DevChainConfig
	config.ChainID = big.NewInt(int64(DevPragueChainID))
	config.PragueTime = newUint64(0)
	return &config
}()

// ChainConfig returns the fork configuration of a known chain.
func (id ChainID) ChainConfig() (*params.ChainConfig, error) {
	switch id {
	case MainnetChainID:
		return params.MainnetChainConfig, nil
	case SepoliaChainID:
		return params.SepoliaChainConfig, nil
	case HoleskyChainID:
		return params.HoleskyChainConfig, nil
	case DevChainID:
		return DevChainConfig, nil
	case DevPragueChainID:
		return DevPragueChainConfig, nil
	default:
		return nil, fmt.Errorf("unsupported chain id %d", uint64(id))
	}
}

func (id ChainID) String() string {
	switch id {
	case MainnetChainID:
		return "mainnet"
	case SepoliaChainID:
		return "sepolia"
	case HoleskyChainID:
		return "holesky"
	case DevChainID:
		return "dev"
	case DevPragueChainID:
		return "dev-prague"
	default:
		return fmt.Sprintf("chain-%d", uint64(id))
	}
}
