// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package stateprovider

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/offchainlabs/blockproofs/mpt"
	"github.com/offchainlabs/blockproofs/primitives"
)

// Accumulator collects the witness of one recording run. It only grows and
// is safe for concurrent use.
type Accumulator struct {
	mutex   sync.Mutex
	nodes   mpt.NodeSet
	codes   map[common.Hash][]byte
	headers map[uint64]*types.Header
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		nodes:   make(mpt.NodeSet),
		codes:   make(map[common.Hash][]byte),
		headers: make(map[uint64]*types.Header),
	}
}

// AddNodes merges a set of nodes whose keys were already checked against their content.
func (a *Accumulator) AddNodes(nodes mpt.NodeSet) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	for h, enc := range nodes {
		if _, ok := a.nodes[h]; !ok {
			a.nodes[h] = common.CopyBytes(enc)
		}
	}
}

func (a *Accumulator) AddNode(enc []byte) common.Hash {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.nodes.Add(enc)
}

func (a *Accumulator) AddCode(hash common.Hash, code []byte) error {
	if got := crypto.Keccak256Hash(code); got != hash {
		return fmt.Errorf("%w: code hashes to %v, not %v", primitives.ErrRootMismatch, got, hash)
	}
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.codes[hash] = common.CopyBytes(code)
	return nil
}

func (a *Accumulator) AddHeader(header *types.Header) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.headers[header.Number.Uint64()] = header
}

func (a *Accumulator) Header(number uint64) *types.Header {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.headers[number]
}

// Nodes returns a snapshot of the recorded nodes.
func (a *Accumulator) Nodes() mpt.NodeSet {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return maps.Clone(a.nodes)
}

func (a *Accumulator) Size() (nodes int, codes int) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return len(a.nodes), len(a.codes)
}

// Freeze copies everything recorded so far into a witness. Headers are
// ordered by descending number.
func (a *Accumulator) Freeze(priorRoot, postRoot common.Hash) *primitives.Witness {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	w := primitives.NewWitness(priorRoot, postRoot)
	for h, enc := range a.nodes {
		w.Nodes[h] = common.CopyBytes(enc)
	}
	for h, code := range a.codes {
		w.Codes[h] = common.CopyBytes(code)
	}
	numbers := make([]uint64, 0, len(a.headers))
	for n := range a.headers {
		numbers = append(numbers, n)
	}
	slices.Sort(numbers)
	slices.Reverse(numbers)
	for _, n := range numbers {
		w.Headers = append(w.Headers, types.CopyHeader(a.headers[n]))
	}
	return w
}
