package scoring

import (
	"errors"
	"fmt"
	"sort"

	"github.com/eddiefleurent/strategist/internal/market"
	"github.com/eddiefleurent/strategist/internal/models"
)

// ErrUnknownStrategy is returned for identities outside the closed set.
var ErrUnknownStrategy = errors.New("unknown strategy type")

var registry = [models.NumStrategyTypes]Scorer{
	models.BullPutSpread:     mustVertical(models.DirectionBullish, Credit),
	models.BearCallSpread:    mustVertical(models.DirectionBearish, Credit),
	models.BullCallSpread:    mustVertical(models.DirectionBullish, Debit),
	models.BearPutSpread:     mustVertical(models.DirectionBearish, Debit),
	models.IronCondor:        NeutralPremiumScorer{MinIVRank: 30},
	models.IronButterfly:     NeutralPremiumScorer{MinIVRank: 40, Pinned: true},
	models.LongCallButterfly: PinningScorer{},
	models.ShortStrangle:     NeutralPremiumScorer{MinIVRank: 50, Undefined: true},
	models.ShortStraddle:     NeutralPremiumScorer{MinIVRank: 60, Undefined: true, Pinned: true},
	models.LongStrangle:      LongVolatilityScorer{},
	models.LongStraddle:      LongVolatilityScorer{},
	models.CoveredCall:       IncomeScorer{Direction: models.DirectionBullish},
	models.CashSecuredPut:    IncomeScorer{Direction: models.DirectionBullish},
	models.NakedCall:         IncomeScorer{Direction: models.DirectionBearish, Undefined: true},
	models.NakedPut:          IncomeScorer{Direction: models.DirectionBullish, Undefined: true},
	models.LongCall:          LongPremiumScorer{Direction: models.DirectionBullish},
	models.LongPut:           LongPremiumScorer{Direction: models.DirectionBearish},
	models.CalendarSpread:    PinningScorer{Calendar: true},
}

func mustVertical(dir models.Direction, kind PremiumKind) *VerticalScorer {
	v, err := NewVerticalScorer(VerticalCapabilities{
		Direction: dir,
		Premium:   kind,
		MinIVRank: 30,
		MaxIVRank: 50,
	})
	if err != nil {
		panic(err)
	}
	return v
}

// For returns the scorer registered for a strategy identity.
func For(t models.StrategyType) (Scorer, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(t))
	}
	return registry[t], nil
}

// Ranked is one strategy's result within a ranking.
type Ranked struct {
	Strategy models.StrategyType
	Result
}

// Rank scores every given strategy and sorts by score descending; equal
// scores keep enum order.
func Rank(r *market.Report, types []models.StrategyType) ([]Ranked, error) {
	out := make([]Ranked, 0, len(types))
	for _, t := range types {
		s, err := For(t)
		if err != nil {
			return nil, err
		}
		out = append(out, Ranked{Strategy: t, Result: s.Score(r)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Strategy < out[j].Strategy
	})
	return out, nil
}
