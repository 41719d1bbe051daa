// Package scoring turns a market condition report into a suitability score
// per strategy identity.
//
// Every scorer follows the same shape: a hard stop when the report cannot be
// traded or technical data is missing, a baseline, a fixed sequence of
// independent signed adjustments each with a reason, and a floor at zero.
// Vertical spreads and long single options keep an open ceiling so that
// strongly aligned setups rank above merely acceptable ones; every other
// family clamps to [0,100].
package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/eddiefleurent/strategist/internal/market"
)

// NoCeiling disables the upper clamp.
const NoCeiling = 0.0

// Result is a score with the ordered reasons that produced it.
type Result struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// Explanation joins the reasons for display.
func (r Result) Explanation() string {
	return strings.Join(r.Reasons, "; ")
}

// Scorer evaluates one strategy archetype against a report.
type Scorer interface {
	Score(r *market.Report) Result
}

// hardStop returns a zero result when scoring must not run.
func hardStop(r *market.Report) (Result, bool) {
	if r == nil {
		return Result{Reasons: []string{"no market report"}}, true
	}
	if !r.CanTrade() {
		return Result{Reasons: []string{r.NoTradeExplanation()}}, true
	}
	if !r.Conditions().TechnicalDataAvailable {
		return Result{Reasons: []string{"technical data unavailable"}}, true
	}
	return Result{}, false
}

// scorecard accumulates adjustments.
type scorecard struct {
	score   float64
	reasons []string
}

func newScorecard(baseline float64) *scorecard {
	return &scorecard{score: baseline}
}

// add applies a signed delta; zero deltas still record their reason.
func (s *scorecard) add(delta float64, format string, args ...any) {
	s.score += delta
	reason := fmt.Sprintf(format, args...)
	if delta != 0 {
		reason = fmt.Sprintf("%s (%+.0f)", reason, delta)
	}
	s.reasons = append(s.reasons, reason)
}

func (s *scorecard) result(ceiling float64) Result {
	score := math.Max(0, s.score)
	if math.IsNaN(score) {
		score = 0
	}
	if ceiling > 0 {
		score = math.Min(score, ceiling)
	}
	return Result{Score: score, Reasons: s.reasons}
}
