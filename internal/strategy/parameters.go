// Package strategy holds strategy parameters and turns a selected strategy,
// a market report and an option chain into a priced composition.
package strategy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/strategist/internal/models"
)

// ErrInvalidParameters wraps every parameter validation failure.
var ErrInvalidParameters = errors.New("invalid strategy parameters")

// StrikeSelection is how the short strike is targeted.
type StrikeSelection string

// Strike selection methods.
const (
	SelectByOTMPercent StrikeSelection = "otm_percent"
	SelectByDelta      StrikeSelection = "delta"
)

// GenerationMode controls how strict candidate generation is.
type GenerationMode string

// Generation modes. RELAXED widens the short strike gate; FORCE also
// accepts the best strategy below the minimum score.
const (
	ModeStrict  GenerationMode = "STRICT"
	ModeRelaxed GenerationMode = "RELAXED"
	ModeForce   GenerationMode = "FORCE"
)

// Relaxed reports whether the wider strike gate applies.
func (m GenerationMode) Relaxed() bool {
	return m == ModeRelaxed || m == ModeForce
}

// BaseParameters are shared by every strategy family.
type BaseParameters struct {
	MinDTE          int             `yaml:"min_dte" json:"min_dte"`
	MaxDTE          int             `yaml:"max_dte" json:"max_dte"`
	TargetDTE       int             `yaml:"target_dte" json:"target_dte"`
	Quantity        int             `yaml:"quantity" json:"quantity"`
	StrikeSelection StrikeSelection `yaml:"strike_selection" json:"strike_selection"`
	Mode            GenerationMode  `yaml:"mode" json:"mode"`
	Source          string          `yaml:"source" json:"source"`
}

// NewBaseParameters validates p. It never clamps; any violation is an error.
func NewBaseParameters(p BaseParameters) (BaseParameters, error) {
	if err := p.validate(); err != nil {
		return BaseParameters{}, err
	}
	return p, nil
}

func (p BaseParameters) validate() error {
	if p.MinDTE < 0 {
		return invalid("min_dte must be >= 0 (got %d)", p.MinDTE)
	}
	if p.MinDTE > p.MaxDTE {
		return invalid("min_dte (%d) must be <= max_dte (%d)", p.MinDTE, p.MaxDTE)
	}
	if p.TargetDTE != 0 && (p.TargetDTE < p.MinDTE || p.TargetDTE > p.MaxDTE) {
		return invalid("target_dte (%d) must be within [%d,%d]", p.TargetDTE, p.MinDTE, p.MaxDTE)
	}
	if p.Quantity <= 0 {
		return invalid("quantity must be > 0 (got %d)", p.Quantity)
	}
	switch p.StrikeSelection {
	case SelectByOTMPercent, SelectByDelta:
	default:
		return invalid("unknown strike_selection %q", p.StrikeSelection)
	}
	switch p.Mode {
	case ModeStrict, ModeRelaxed, ModeForce:
	default:
		return invalid("unknown mode %q", p.Mode)
	}
	return nil
}

// EffectiveTargetDTE returns TargetDTE, or the window midpoint when unset.
func (p BaseParameters) EffectiveTargetDTE() int {
	if p.TargetDTE != 0 {
		return p.TargetDTE
	}
	return (p.MinDTE + p.MaxDTE) / 2
}

// VerticalParameters specialise BaseParameters for spreads. Widths are in
// strike points; percentages are fractions in [0,1].
type VerticalParameters struct {
	BaseParameters   `yaml:",inline" json:",inline"`
	Direction        models.Direction  `yaml:"direction" json:"direction"`
	OptionType       models.OptionType `yaml:"option_type" json:"option_type"`
	WidthMin         decimal.Decimal   `yaml:"width_min" json:"width_min"`
	WidthMax         decimal.Decimal   `yaml:"width_max" json:"width_max"`
	WidthTarget      decimal.Decimal   `yaml:"width_target" json:"width_target"`
	TargetOTMPct     decimal.Decimal   `yaml:"target_otm_pct" json:"target_otm_pct"`
	TargetDelta      float64           `yaml:"target_delta" json:"target_delta"`
	ProfitTargetPct  float64           `yaml:"profit_target_pct" json:"profit_target_pct"`
	SupportBuffer    decimal.Decimal   `yaml:"support_buffer" json:"support_buffer"`
	ResistanceBuffer decimal.Decimal   `yaml:"resistance_buffer" json:"resistance_buffer"`
}

// NewVerticalParameters validates p. It never clamps; any violation is an error.
func NewVerticalParameters(p VerticalParameters) (VerticalParameters, error) {
	if err := p.BaseParameters.validate(); err != nil {
		return VerticalParameters{}, err
	}
	if _, err := VerticalStrategyFor(p.Direction, p.OptionType); err != nil {
		return VerticalParameters{}, err
	}
	if !p.WidthMin.IsPositive() {
		return VerticalParameters{}, invalid("width_min must be > 0 (got %s)", p.WidthMin)
	}
	if p.WidthMin.GreaterThan(p.WidthMax) {
		return VerticalParameters{}, invalid("width_min (%s) must be <= width_max (%s)", p.WidthMin, p.WidthMax)
	}
	if !p.WidthTarget.IsZero() && (p.WidthTarget.LessThan(p.WidthMin) || p.WidthTarget.GreaterThan(p.WidthMax)) {
		return VerticalParameters{}, invalid("width_target (%s) must be within [%s,%s]", p.WidthTarget, p.WidthMin, p.WidthMax)
	}
	for _, f := range []struct {
		name string
		v    decimal.Decimal
	}{
		{"target_otm_pct", p.TargetOTMPct},
		{"support_buffer", p.SupportBuffer},
		{"resistance_buffer", p.ResistanceBuffer},
		{"target_delta", decimal.NewFromFloat(p.TargetDelta)},
		{"profit_target_pct", decimal.NewFromFloat(p.ProfitTargetPct)},
	} {
		if f.v.IsNegative() || f.v.GreaterThan(decimal.NewFromInt(1)) {
			return VerticalParameters{}, invalid("%s must be within [0,1] (got %s)", f.name, f.v)
		}
	}
	if p.StrikeSelection == SelectByDelta && p.TargetDelta == 0 {
		return VerticalParameters{}, invalid("target_delta is required for delta strike selection")
	}
	return p, nil
}

// Width returns WidthTarget, or WidthMin when no target is set.
func (p VerticalParameters) Width() decimal.Decimal {
	if !p.WidthTarget.IsZero() {
		return p.WidthTarget
	}
	return p.WidthMin
}

// Strategy returns the vertical spread these parameters describe.
func (p VerticalParameters) Strategy() (models.StrategyType, error) {
	return VerticalStrategyFor(p.Direction, p.OptionType)
}

// DefaultVerticalParameters is a 30-45 DTE, 5-wide, 3% OTM credit put spread.
func DefaultVerticalParameters() VerticalParameters {
	return VerticalParameters{
		BaseParameters: BaseParameters{
			MinDTE:          30,
			MaxDTE:          45,
			TargetDTE:       38,
			Quantity:        1,
			StrikeSelection: SelectByOTMPercent,
			Mode:            ModeStrict,
			Source:          "default",
		},
		Direction:        models.DirectionBullish,
		OptionType:       models.OptionTypePut,
		WidthMin:         decimal.NewFromInt(5),
		WidthMax:         decimal.NewFromInt(10),
		WidthTarget:      decimal.NewFromInt(5),
		TargetOTMPct:     decimal.RequireFromString("0.03"),
		TargetDelta:      0.16,
		ProfitTargetPct:  0.5,
		SupportBuffer:    decimal.RequireFromString("0.02"),
		ResistanceBuffer: decimal.RequireFromString("0.02"),
	}
}

// VerticalStrategyFor maps direction and option type to the vertical spread:
// bullish puts and bearish calls are credit spreads, the other two are debit.
func VerticalStrategyFor(dir models.Direction, optType models.OptionType) (models.StrategyType, error) {
	switch {
	case dir == models.DirectionBullish && optType == models.OptionTypePut:
		return models.BullPutSpread, nil
	case dir == models.DirectionBearish && optType == models.OptionTypeCall:
		return models.BearCallSpread, nil
	case dir == models.DirectionBullish && optType == models.OptionTypeCall:
		return models.BullCallSpread, nil
	case dir == models.DirectionBearish && optType == models.OptionTypePut:
		return models.BearPutSpread, nil
	}
	return 0, invalid("no vertical spread for direction %q and option type %q", dir, optType)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameters, fmt.Sprintf(format, args...))
}
