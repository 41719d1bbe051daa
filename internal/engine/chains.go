package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/strategist/internal/models"
)

// chainCache memoizes chains for one analysis so that strategies walking
// the same window fetch each expiration once. Not safe for concurrent use.
type chainCache struct {
	src    ChainSource
	symbol string
	chains map[string]*models.OptionChain
}

func newChainCache(src ChainSource, symbol string) *chainCache {
	return &chainCache{src: src, symbol: symbol, chains: make(map[string]*models.OptionChain)}
}

func (c *chainCache) get(ctx context.Context, exp time.Time) (*models.OptionChain, error) {
	key := exp.Format("2006-01-02")
	if chain, ok := c.chains[key]; ok {
		return chain, nil
	}
	chain, err := c.src.Chain(ctx, c.symbol, exp)
	if err != nil {
		return nil, err
	}
	if chain == nil || len(chain.Strikes) == 0 {
		return nil, fmt.Errorf("empty chain for %s %s", c.symbol, key)
	}
	chain.SortStrikes()
	c.chains[key] = chain
	return chain, nil
}
