package chain

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// checksumCache memoizes the mixed-case checksum string for addresses
// already seen, avoiding recomputation on every log dispatched through
// the hot path.
var checksumCache sync.Map // common.Address -> string

// CanonicalizeAddress returns the mixed-case checksum form of addr,
// the canonical representation used for registry keys and log address
// comparisons throughout the engine.
func CanonicalizeAddress(addr common.Address) string {
	if v, ok := checksumCache.Load(addr); ok {
		return v.(string)
	}
	checksum := addr.Hex()
	checksumCache.Store(addr, checksum)
	return checksum
}

// ParseAddress canonicalizes a hex address string into its checksum
// form, returning both the string and the underlying common.Address.
func ParseAddress(hexAddr string) (common.Address, string) {
	addr := common.HexToAddress(hexAddr)
	return addr, CanonicalizeAddress(addr)
}
