package search

import "github.com/poiesic/maildigest/core"

// SearchMonitor provides hooks to observe the search process.
type SearchMonitor interface {
	Start(query string)
	AfterSemanticSearch(matches []core.Match)
	AfterMessageRetrieval(messages []*core.StoredMessage)
	VerbatimHit(message *core.StoredMessage)
	Finish(results []core.SearchResult)
}

type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                                {}
func (n *noopMonitor) AfterSemanticSearch(_ []core.Match)            {}
func (n *noopMonitor) AfterMessageRetrieval(_ []*core.StoredMessage) {}
func (n *noopMonitor) VerbatimHit(_ *core.StoredMessage)             {}
func (n *noopMonitor) Finish(_ []core.SearchResult)                  {}
