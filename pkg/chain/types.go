// Package chain defines the data types shared across the subscription
// engine: blocks, logs, and address/topic filters.
package chain

import (
	"github.com/ethereum/go-ethereum/common"
)

// Block is the minimal header the engine needs to maintain chain
// continuity: its own identity and the hash of its parent.
type Block struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
}

// Equal reports whether two blocks are the same block, per the data
// model's "two blocks are equal iff their hashes are equal" rule.
func (b Block) Equal(other Block) bool {
	return b.Hash == other.Hash
}

// IsZero reports whether b is the zero value (used to detect "no block").
func (b Block) IsZero() bool {
	return b.Hash == (common.Hash{}) && b.Number == 0 && b.ParentHash == (common.Hash{})
}

// HeaderWithoutParent is the anchoring variant of Block: it carries no
// parent hash. The engine itself does not use it; anchoring and
// re-initialization take a full Block.
type HeaderWithoutParent struct {
	Number uint64
	Hash   common.Hash
}

// Log is a single event log entry, delivered to subscribers in
// ascending (BlockNumber, LogIndex) order.
type Log struct {
	BlockNumber      uint64
	BlockHash        common.Hash
	TransactionHash  common.Hash
	TransactionIndex uint
	LogIndex         uint
	Address          common.Address
	Topics           []common.Hash
	Data             []byte
	Removed          bool
}

// AddressAndTopics identifies a log subscription: an address (expected
// in checksum form, see CanonicalizeAddress) and an optional set of
// topic filters.
type AddressAndTopics struct {
	Address common.Address
	Topics  []common.Hash
}
