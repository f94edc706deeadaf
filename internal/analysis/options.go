package analysis

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rewired-gh/callseason/internal/models"
)

const (
	DefaultSmoothingWindow    = 7
	DefaultProminenceFraction = 0.05
	DefaultMinPoints          = 30
	DefaultMinCoverage        = 0.5
)

// Options are the recognized analysis parameters. Every field takes part in the
// cache key, so two requests share a result only when all options match.
type Options struct {
	Cycle           models.Cycle `json:"cycle" validate:"oneof=day_of_year week_of_year month_of_year"`
	SmoothingWindow int          `json:"smoothing_window" validate:"gte=1"`
	// MinProminence is the absolute significance threshold. When nil it is
	// derived as ProminenceFraction of the curve's value range.
	MinProminence      *float64 `json:"min_prominence" validate:"omitempty,gte=0"`
	ProminenceFraction float64  `json:"prominence_fraction" validate:"gte=0,lte=1"`
	MinPoints          int      `json:"min_points" validate:"gte=1"`
	MinCoverage        float64  `json:"min_coverage" validate:"gte=0,lte=1"`
}

// DefaultOptions returns the options used when a request does not override them.
func DefaultOptions() Options {
	return Options{
		Cycle:              models.DayOfYear,
		SmoothingWindow:    DefaultSmoothingWindow,
		ProminenceFraction: DefaultProminenceFraction,
		MinPoints:          DefaultMinPoints,
		MinCoverage:        DefaultMinCoverage,
	}
}

// WithDefaults fills unset fields from DefaultOptions. A zero value counts as
// unset for every field, so a zero-value Options analyzes exactly like
// DefaultOptions. Negative values are left alone so Validate rejects them. An
// absolute threshold of zero is still available through WithMinProminence(0).
func (o Options) WithDefaults() Options {
	return o.fill(DefaultOptions())
}

// WithDefaultsFrom fills unset fields from base, then from DefaultOptions for
// anything base leaves unset too. A nil MinProminence inherits base's.
func (o Options) WithDefaultsFrom(base Options) Options {
	return o.fill(base.WithDefaults())
}

func (o Options) fill(base Options) Options {
	if o.Cycle == "" {
		o.Cycle = base.Cycle
	}
	if o.SmoothingWindow == 0 {
		o.SmoothingWindow = base.SmoothingWindow
	}
	if o.MinProminence == nil && base.MinProminence != nil {
		v := *base.MinProminence
		o.MinProminence = &v
	}
	if o.ProminenceFraction == 0 {
		o.ProminenceFraction = base.ProminenceFraction
	}
	if o.MinPoints == 0 {
		o.MinPoints = base.MinPoints
	}
	if o.MinCoverage == 0 {
		o.MinCoverage = base.MinCoverage
	}
	return o
}

// WithMinProminence returns a copy with an absolute prominence threshold.
func (o Options) WithMinProminence(v float64) Options {
	o.MinProminence = &v
	return o
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate returns an *InvalidConfigError for the first out-of-range option.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &InvalidConfigError{Field: fe.Field(), Value: fe.Value(), Reason: describeTag(fe)}
		}
		return &InvalidConfigError{Field: "options", Value: o, Reason: err.Error()}
	}
	if o.MinProminence != nil && math.IsInf(*o.MinProminence, 0) {
		return &InvalidConfigError{Field: "min_prominence", Value: *o.MinProminence, Reason: "must be finite"}
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	}
	return "failed " + fe.Tag() + " check"
}

// Fingerprint is a canonical rendering of the effective options, stable across
// processes, used to derive cache keys.
func (o Options) Fingerprint() string {
	prominence := "auto"
	if o.MinProminence != nil {
		prominence = strconv.FormatFloat(*o.MinProminence, 'g', -1, 64)
	}
	return fmt.Sprintf("cycle=%s;window=%d;min_prominence=%s;fraction=%s;min_points=%d;min_coverage=%s",
		o.Cycle,
		o.SmoothingWindow,
		prominence,
		strconv.FormatFloat(o.ProminenceFraction, 'g', -1, 64),
		o.MinPoints,
		strconv.FormatFloat(o.MinCoverage, 'g', -1, 64),
	)
}

// effectiveMinProminence resolves the threshold for a built curve.
func (o Options) effectiveMinProminence(curve models.SeasonalCurve) float64 {
	if o.MinProminence != nil {
		return *o.MinProminence
	}
	lo, hi, ok := curve.ValueRange()
	if !ok {
		return 0
	}
	return o.ProminenceFraction * (hi - lo)
}
