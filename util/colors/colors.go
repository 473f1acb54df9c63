// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package colors

var Red = "\033[31;1m"
var Clear = "\033[0;0m"
