package tree

import (
	"math"

	"github.com/YuminosukeSato/exoml/core/model"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

// MaxFeatures is the max_features hyperparameter: the number of features
// examined per split. The zero value means all features.
type MaxFeatures struct {
	Mode string  // "", "sqrt", "log2", "int" or "float"
	N    int     // used by "int"
	Frac float64 // used by "float"
}

// Sqrt is the random-forest default.
var Sqrt = MaxFeatures{Mode: "sqrt"}

// ParseMaxFeatures accepts nil, "sqrt", "log2", "auto" (= sqrt), a positive
// integer or a fraction in (0, 1].
func ParseMaxFeatures(name string, v interface{}) (MaxFeatures, error) {
	switch x := v.(type) {
	case nil:
		return MaxFeatures{}, nil
	case string:
		switch x {
		case "sqrt", "auto":
			return Sqrt, nil
		case "log2":
			return MaxFeatures{Mode: "log2"}, nil
		case "", "None", "none":
			return MaxFeatures{}, nil
		}
		return MaxFeatures{}, scierrors.NewValidationError(name, "expected sqrt, log2, an int, a float or null", v)
	case float64:
		// JSON numbers arrive as float64; integral values are counts
		if x != math.Trunc(x) {
			if x <= 0 || x > 1 {
				return MaxFeatures{}, scierrors.NewValidationError(name, "float must be in (0, 1]", v)
			}
			return MaxFeatures{Mode: "float", Frac: x}, nil
		}
	case float32:
		return ParseMaxFeatures(name, float64(x))
	}
	n, err := model.ParamInt(name, v)
	if err != nil {
		return MaxFeatures{}, err
	}
	if n < 1 {
		return MaxFeatures{}, scierrors.NewValidationError(name, "must be positive", v)
	}
	return MaxFeatures{Mode: "int", N: n}, nil
}

// Resolve returns the feature count for p input features.
func (m MaxFeatures) Resolve(p int) (int, error) {
	var n int
	switch m.Mode {
	case "":
		n = p
	case "sqrt":
		n = int(math.Sqrt(float64(p)))
	case "log2":
		n = int(math.Log2(float64(p)))
	case "int":
		if m.N > p {
			return 0, scierrors.NewValidationError("max_features", "exceeds the number of features", m.N)
		}
		n = m.N
	case "float":
		n = int(m.Frac * float64(p))
	default:
		return 0, scierrors.NewValidationError("max_features", "unknown mode", m.Mode)
	}
	if n < 1 {
		n = 1
	}
	return n, nil
}

// Param returns the scikit-learn facing value.
func (m MaxFeatures) Param() interface{} {
	switch m.Mode {
	case "sqrt", "log2":
		return m.Mode
	case "int":
		return m.N
	case "float":
		return m.Frac
	}
	return nil
}
