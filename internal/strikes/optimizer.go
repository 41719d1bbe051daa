package strikes

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Optimizer wraps the strike search functions and logs every rejection.
type Optimizer struct {
	logger logrus.FieldLogger
}

// NewOptimizer returns an optimizer logging through logger, or the standard
// logrus logger when nil.
func NewOptimizer(logger logrus.FieldLogger) *Optimizer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Optimizer{logger: logger}
}

// SpreadStrikes is FindSpreadStrikes with rejection logging.
func (o *Optimizer) SpreadStrikes(req Request) (Match, bool) {
	m, reason := findSpread(req)
	if reason != "" {
		o.logger.WithFields(logrus.Fields{
			"kind":    req.Kind,
			"price":   req.Price.String(),
			"width":   req.Width.String(),
			"otm":     req.TargetOTMPct.String(),
			"relaxed": req.Relaxed,
			"strikes": len(req.Strikes),
		}).Debugf("spread strikes rejected: %s", reason)
		return Match{}, false
	}
	return m, true
}

// SpreadStrikesByDelta is FindSpreadStrikesByDelta with rejection logging.
func (o *Optimizer) SpreadStrikesByDelta(req DeltaRequest) (Match, bool) {
	m, reason := findSpreadByDelta(req)
	if reason != "" {
		o.logger.WithFields(logrus.Fields{
			"kind":         req.Kind,
			"target_delta": req.TargetDelta,
			"width":        req.Width.String(),
			"strikes":      len(req.Strikes),
		}).Debugf("delta spread strikes rejected: %s", reason)
		return Match{}, false
	}
	return m, true
}

// Strike is FindStrike with rejection logging.
func (o *Optimizer) Strike(listed []decimal.Decimal, ideal, price, gate decimal.Decimal) (decimal.Decimal, bool) {
	k, dev, ok := FindStrike(listed, ideal, price, gate)
	if !ok {
		o.logger.WithFields(logrus.Fields{
			"ideal":     ideal.String(),
			"deviation": dev.String(),
			"gate":      gate.String(),
		}).Debug("single strike rejected")
	}
	return k, ok
}
