// Package risk classifies strategies by whether their loss is bounded and
// decides what must happen before a composition may be executed.
package risk

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strategist/internal/models"
)

var (
	// ErrUnknownStrategy is returned for identities outside the closed set
	ErrUnknownStrategy = errors.New("unknown strategy type")
	// ErrAcknowledgementRequired is returned when an undefined-risk opt-in is not acknowledged
	ErrAcknowledgementRequired = errors.New("undefined-risk opt-in requires acknowledgement")
)

var profiles = [models.NumStrategyTypes]models.RiskProfile{
	models.BullPutSpread:     models.RiskDefined,
	models.BearCallSpread:    models.RiskDefined,
	models.BullCallSpread:    models.RiskDefined,
	models.BearPutSpread:     models.RiskDefined,
	models.IronCondor:        models.RiskDefined,
	models.IronButterfly:     models.RiskDefined,
	models.LongCallButterfly: models.RiskDefined,
	models.ShortStrangle:     models.RiskUndefined,
	models.ShortStraddle:     models.RiskUndefined,
	models.LongStrangle:      models.RiskDefined,
	models.LongStraddle:      models.RiskDefined,
	models.CoveredCall:       models.RiskDefined,
	models.CashSecuredPut:    models.RiskDefined,
	models.NakedCall:         models.RiskUndefined,
	models.NakedPut:          models.RiskUndefined,
	models.LongCall:          models.RiskDefined,
	models.LongPut:           models.RiskDefined,
	models.CalendarSpread:    models.RiskDefined,
}

// Profile returns the risk profile of a strategy.
func Profile(t models.StrategyType) (models.RiskProfile, error) {
	if !t.Valid() {
		return "", fmt.Errorf("%w: %d", ErrUnknownStrategy, int(t))
	}
	return profiles[t], nil
}

// Policy holds the undefined-risk strategies the operator has opted into.
// It is safe for concurrent use.
type Policy struct {
	mu     sync.RWMutex
	optIns map[models.StrategyType]bool
	logger logrus.FieldLogger
}

// NewPolicy returns a policy with no opt-ins.
func NewPolicy(logger logrus.FieldLogger) *Policy {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Policy{optIns: make(map[models.StrategyType]bool), logger: logger}
}

// OptIn makes an undefined-risk strategy automation-eligible. The caller
// must acknowledge the unbounded loss; opting into a defined-risk strategy
// is a no-op.
func (p *Policy) OptIn(t models.StrategyType, acknowledged bool) error {
	profile, err := Profile(t)
	if err != nil {
		return err
	}
	if profile == models.RiskDefined {
		return nil
	}
	if !acknowledged {
		return fmt.Errorf("%w: %s", ErrAcknowledgementRequired, t)
	}
	p.mu.Lock()
	p.optIns[t] = true
	p.mu.Unlock()
	p.logger.WithField("strategy", t.String()).Warn("undefined-risk strategy opted into automation")
	return nil
}

// OptedIn reports whether t has been opted into automation.
func (p *Policy) OptedIn(t models.StrategyType) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.optIns[t]
}

// Requirements returns what execution of t requires under this policy.
// Undefined-risk strategies always need a margin check.
func (p *Policy) Requirements(t models.StrategyType) (models.RiskRequirements, error) {
	profile, err := Profile(t)
	if err != nil {
		return models.RiskRequirements{}, err
	}
	if profile == models.RiskDefined {
		return models.RiskRequirements{Profile: profile, AutomationEligible: true}, nil
	}
	req := models.RiskRequirements{
		Profile:             profile,
		RequiresMarginCheck: true,
		Warning:             fmt.Sprintf("%s has undefined risk: losses are not capped by the position", t),
	}
	if p.OptedIn(t) {
		req.AutomationEligible = true
	} else {
		req.RequiresConfirmation = true
	}
	return req, nil
}
