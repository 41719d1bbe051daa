package strikes

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/strategist/internal/models"
)

// exactDelta short-circuits the scan when a strike is this close to target.
const exactDelta = 0.01

// DeltaStrike is a listed strike with its live delta, nil when unknown.
type DeltaStrike struct {
	Strike decimal.Decimal
	Delta  *float64
}

// DeltaRequest describes a delta-targeted vertical spread search.
type DeltaRequest struct {
	Strikes     []DeltaStrike
	Price       decimal.Decimal
	Width       decimal.Decimal
	Kind        models.OptionType
	TargetDelta float64 // magnitude; puts search -TargetDelta, calls +TargetDelta
}

// DeltaStrikesFromChain extracts one side of a chain for delta targeting.
func DeltaStrikesFromChain(chain *models.OptionChain, kind models.OptionType) []DeltaStrike {
	out := make([]DeltaStrike, 0, len(chain.Strikes))
	for _, row := range chain.Strikes {
		q := row.Side(kind)
		if q == nil {
			continue
		}
		out = append(out, DeltaStrike{Strike: row.Strike, Delta: q.Delta})
	}
	return out
}

// SignedTarget returns the delta to search for: negative for puts.
func SignedTarget(kind models.OptionType, target float64) float64 {
	target = math.Abs(target)
	if kind == models.OptionTypePut {
		return -target
	}
	return target
}

// FindStrikeByDelta returns the strike whose delta is closest to the signed
// target. Strikes without delta are skipped; false when none has one.
func FindStrikeByDelta(strikes []DeltaStrike, target float64) (DeltaStrike, float64, bool) {
	var best DeltaStrike
	bestDiff := math.Inf(1)
	for _, s := range strikes {
		if s.Delta == nil || math.IsNaN(*s.Delta) {
			continue
		}
		diff := math.Abs(*s.Delta - target)
		if diff < bestDiff || (diff == bestDiff && s.Strike.LessThan(best.Strike)) {
			best, bestDiff = s, diff
		}
		if diff <= exactDelta {
			break
		}
	}
	if math.IsInf(bestDiff, 1) {
		return DeltaStrike{}, 0, false
	}
	return best, bestDiff, true
}

// FindSpreadStrikesByDelta selects the short strike by delta and pairs the
// long strike exactly as FindSpreadStrikes does.
func FindSpreadStrikesByDelta(req DeltaRequest) (Match, bool) {
	m, reason := findSpreadByDelta(req)
	return m, reason == ""
}

func findSpreadByDelta(req DeltaRequest) (Match, string) {
	listed := make([]decimal.Decimal, len(req.Strikes))
	for i, s := range req.Strikes {
		listed[i] = s.Strike
	}
	if reason := validateRequest(Request{Strikes: listed, Price: req.Price, Width: req.Width, Kind: req.Kind}); reason != "" {
		return Match{}, reason
	}
	if req.TargetDelta <= 0 || req.TargetDelta >= 1 {
		return Match{}, fmt.Sprintf("target delta %.2f outside (0,1)", req.TargetDelta)
	}

	target := SignedTarget(req.Kind, req.TargetDelta)
	short, diff, ok := FindStrikeByDelta(req.Strikes, target)
	if !ok {
		return Match{}, "no strike has delta data"
	}
	delta := *short.Delta
	m := Match{
		Short:         short.Strike,
		ShortIdeal:    short.Strike,
		Deviation:     diff,
		ShortDelta:    &delta,
		DeltaTargeted: true,
	}
	if reason := pairLong(&m, listed, req.Width, req.Kind, req.Price); reason != "" {
		return Match{}, reason
	}
	m.Quality = quality(decimal.NewFromFloat(diff), decimal.NewFromFloat(0.10),
		decimal.NewFromFloat(m.LongDeviation), LongDeviation)
	return m, ""
}
