// Package common holds small cross-cutting helpers shared by the
// engine's internal packages (component identifiers used for logging,
// metrics, and health reporting).
package common

const (
	ComponentCache      = "chain-cache"
	ComponentResolver   = "reorg-resolver"
	ComponentRepairer   = "chain-repairer"
	ComponentLogFetcher = "log-fetcher"
	ComponentEngine     = "ingest-engine"
	ComponentQueue      = "ingest-queue"
	ComponentRegistry   = "subscription-registry"
	ComponentHeadSource = "head-source"
	ComponentMetrics    = "metrics-server"
)

var AllComponents = map[string]struct{}{
	ComponentCache:      {},
	ComponentResolver:   {},
	ComponentRepairer:   {},
	ComponentLogFetcher: {},
	ComponentEngine:     {},
	ComponentQueue:      {},
	ComponentRegistry:   {},
	ComponentHeadSource: {},
	ComponentMetrics:    {},
}
