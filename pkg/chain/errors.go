package chain

import "fmt"

// ErrBlockNotFound is returned when the RPC backend could not return a
// requested block, after exhausting its retry budget.
type ErrBlockNotFound struct {
	Number uint64
}

func (e *ErrBlockNotFound) Error() string {
	return fmt.Sprintf("block not found: %d", e.Number)
}

// ErrMaxRetryReached is returned when a retry budget (block fetch or
// log fetch) has been exhausted without success.
type ErrMaxRetryReached struct {
	Operation string
	Attempts  int
	Cause     error
}

func (e *ErrMaxRetryReached) Error() string {
	return fmt.Sprintf("max retries (%d) reached for %s: %v", e.Attempts, e.Operation, e.Cause)
}

func (e *ErrMaxRetryReached) Unwrap() error {
	return e.Cause
}

// ErrNoCommonAncestor is returned by the reorg resolver when the
// remote canonical chain diverges from the cache more deeply than the
// cache's retention window, i.e. no shared block could be found.
type ErrNoCommonAncestor struct {
	CacheDepth uint64
}

func (e *ErrNoCommonAncestor) Error() string {
	return fmt.Sprintf("no common ancestor found within cache depth %d", e.CacheDepth)
}

// ErrFailedFetchingLogs is returned when the RPC backend fails to
// return logs, or returns a log referencing a block outside of the
// cache/batch under consideration.
type ErrFailedFetchingLogs struct {
	FromBlock uint64
	ToBlock   uint64
	Cause     error
}

func (e *ErrFailedFetchingLogs) Error() string {
	return fmt.Sprintf("failed fetching logs [%d,%d]: %v", e.FromBlock, e.ToBlock, e.Cause)
}

func (e *ErrFailedFetchingLogs) Unwrap() error {
	return e.Cause
}

// ErrParentMismatch is the programmer-error outcome of appending a
// block onto the cache whose ParentHash does not match the current
// head's hash. The cache never panics; callers are expected to treat
// this as fatal to the current ingest pass.
type ErrParentMismatch struct {
	HeadHash       string
	GotParentHash  string
	IncomingNumber uint64
}

func (e *ErrParentMismatch) Error() string {
	return fmt.Sprintf("parent hash mismatch appending block %d: head=%s parent=%s",
		e.IncomingNumber, e.HeadHash, e.GotParentHash)
}
