package llm

import (
	"context"
	"fmt"
)

// NotImplementedProvider stands in for vendors without a working integration
// (google, groq). Every call fails loudly so misconfiguration is visible the
// moment a model is routed to it.
type NotImplementedProvider struct {
	Vendor string
}

func (p *NotImplementedProvider) Chat(context.Context, Request) (Result, error) {
	return Result{}, fmt.Errorf("vendor %q: %w", p.Vendor, ErrNotImplemented)
}
