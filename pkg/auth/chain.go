package auth

import (
	"context"
	"errors"
)

type ChainProvider struct {
	providers []Provider
}

// NewChainProvider creates a ChainProvider that consults the given providers
// in order.
func NewChainProvider(providers ...Provider) *ChainProvider {
	return &ChainProvider{
		providers: providers,
	}
}

// Credential returns the first credential any provider produces. When all of
// them fail the joined errors are reported.
func (p *ChainProvider) Credential(ctx context.Context) (*Credential, error) {
	var errs []error
	for _, provider := range p.providers {
		cred, err := provider.Credential(ctx)
		if err == nil && cred != nil {
			return cred, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, unavailable("chain", ctxErr)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	return nil, unavailable("chain", errors.Join(errs...))
}
