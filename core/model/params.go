package model

import (
	"fmt"
	"math"
	"strconv"

	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

// Hyperparameters arrive from JSON (float64), YAML (int), Go literals and
// grid values. The helpers below accept all of those shapes.

// ParamInt converts v to an int. Floats must be integral.
func ParamInt(name string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case float32:
		return floatToInt(name, float64(x))
	case float64:
		return floatToInt(name, x)
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, scierrors.NewValidationError(name, "expected an integer", v)
		}
		return n, nil
	default:
		return 0, scierrors.NewValidationError(name, "expected an integer", v)
	}
}

func floatToInt(name string, f float64) (int, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, scierrors.NewValidationError(name, "expected an integer", f)
	}
	return int(f), nil
}

// ParamFloat converts v to a float64.
func ParamFloat(name string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, scierrors.NewValidationError(name, "expected a number", v)
		}
		return f, nil
	default:
		return 0, scierrors.NewValidationError(name, "expected a number", v)
	}
}

// ParamString converts v to a string. nil becomes "".
func ParamString(name string, v interface{}) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case nil:
		return "", nil
	default:
		return "", scierrors.NewValidationError(name, "expected a string", v)
	}
}

// ParamBool converts v to a bool.
func ParamBool(name string, v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, scierrors.NewValidationError(name, "expected a boolean", v)
		}
		return b, nil
	default:
		return false, scierrors.NewValidationError(name, "expected a boolean", v)
	}
}

// ParamOptionalInt converts v to an int where nil means "unset" and returns 0.
// sklearn uses None for unlimited depth and similar knobs.
func ParamOptionalInt(name string, v interface{}) (int, error) {
	if v == nil {
		return 0, nil
	}
	n, err := ParamInt(name, v)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, scierrors.NewValidationError(name, "must be positive or null", v)
	}
	return n, nil
}

// UnknownParam is the error for a parameter name an estimator does not expose.
func UnknownParam(modelName, param string) error {
	return scierrors.NewValidationError(param, fmt.Sprintf("invalid parameter for estimator %s", modelName), nil)
}

// ClassWeight holds a parsed class_weight value: nil, "balanced",
// "balanced_subsample", or an explicit code→weight map.
type ClassWeight struct {
	Mode    string
	Weights map[int]float64
}

// ParseClassWeight accepts nil, a mode string, or a mapping whose keys are
// class codes (ints or numeric strings).
func ParseClassWeight(name string, v interface{}) (ClassWeight, error) {
	switch x := v.(type) {
	case nil:
		return ClassWeight{}, nil
	case string:
		switch x {
		case "", "none", "None":
			return ClassWeight{}, nil
		case "balanced", "balanced_subsample":
			return ClassWeight{Mode: x}, nil
		}
		return ClassWeight{}, scierrors.NewValidationError(name, "expected balanced, balanced_subsample, a mapping or null", v)
	case map[int]float64:
		return ClassWeight{Weights: x}, nil
	case map[string]interface{}:
		w := make(map[int]float64, len(x))
		for k, raw := range x {
			code, err := strconv.Atoi(k)
			if err != nil {
				return ClassWeight{}, scierrors.NewValidationError(name, "mapping keys must be class codes", k)
			}
			f, err := ParamFloat(name, raw)
			if err != nil {
				return ClassWeight{}, err
			}
			w[code] = f
		}
		return ClassWeight{Weights: w}, nil
	default:
		return ClassWeight{}, scierrors.NewValidationError(name, "expected balanced, balanced_subsample, a mapping or null", v)
	}
}

// Param returns the value in sklearn-facing form.
func (c ClassWeight) Param() interface{} {
	if c.Mode != "" {
		return c.Mode
	}
	if c.Weights != nil {
		return c.Weights
	}
	return nil
}

// SampleWeights expands the class weights to one weight per sample.
// "balanced" uses n_samples / (n_classes * bincount(y)).
func (c ClassWeight) SampleWeights(y []int, nClasses int) []float64 {
	w := make([]float64, len(y))
	switch {
	case c.Mode != "":
		counts := make([]float64, nClasses)
		for _, label := range y {
			counts[label]++
		}
		present := 0
		for _, cnt := range counts {
			if cnt > 0 {
				present++
			}
		}
		for i, label := range y {
			w[i] = float64(len(y)) / (float64(present) * counts[label])
		}
	case c.Weights != nil:
		for i, label := range y {
			if cw, ok := c.Weights[label]; ok {
				w[i] = cw
			} else {
				w[i] = 1
			}
		}
	default:
		for i := range w {
			w[i] = 1
		}
	}
	return w
}
