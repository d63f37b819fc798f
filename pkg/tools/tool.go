// Package tools provides the capabilities attached to agents: retrieval over
// the uploaded document and web search.
package tools

import "context"

// Tool is a capability an agent can call with a natural-language query.
type Tool interface {
	// Name returns the tool identifier.
	Name() string

	// Description tells the model what the tool is for.
	Description() string

	// Run answers a query with plain text observations.
	Run(ctx context.Context, query string) (string, error)
}
