package model_selection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/YuminosukeSato/exoml/pkg/errors"
)

// ParamGrid maps a parameter name to the values to try. nil values are
// allowed and mean "unset" (sklearn None).
type ParamGrid map[string][]interface{}

// ParseParamGrid converts a decoded JSON/YAML mapping into a ParamGrid.
// Scalars are treated as one-element lists.
func ParseParamGrid(raw map[string]interface{}) (ParamGrid, error) {
	grid := make(ParamGrid, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case []interface{}:
			grid[k] = append([]interface{}(nil), x...)
		case nil:
			grid[k] = []interface{}{nil}
		case map[string]interface{}:
			return nil, errors.NewValidationError("param_grid."+k, "expected a list of values", v)
		default:
			grid[k] = []interface{}{x}
		}
	}
	return grid, nil
}

// Keys returns the parameter names in sorted order.
func (g ParamGrid) Keys() []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks that every list is non-empty and, when prefixes are
// given, that every name starts with "<prefix>__".
func (g ParamGrid) Validate(prefixes ...string) error {
	if len(g) == 0 {
		return errors.NewValidationError("param_grid", "must not be empty", nil)
	}
	for _, k := range g.Keys() {
		if len(g[k]) == 0 {
			return errors.NewValidationError("param_grid."+k, "value list must not be empty", g[k])
		}
		if len(prefixes) == 0 {
			continue
		}
		step, _, ok := strings.Cut(k, "__")
		known := false
		for _, p := range prefixes {
			if ok && step == p {
				known = true
				break
			}
		}
		if !known {
			return errors.NewValidationError(k,
				fmt.Sprintf("parameter must be prefixed with one of %s followed by __", strings.Join(prefixes, ", ")), nil)
		}
	}
	return nil
}

// Size returns the number of candidates.
func (g ParamGrid) Size() int {
	if len(g) == 0 {
		return 0
	}
	n := 1
	for _, vs := range g {
		n *= len(vs)
	}
	return n
}

// Expand returns the cartesian product. The last sorted key varies
// fastest, as in sklearn's ParameterGrid.
func (g ParamGrid) Expand() []map[string]interface{} {
	keys := g.Keys()
	total := g.Size()
	out := make([]map[string]interface{}, 0, total)
	for i := 0; i < total; i++ {
		cand := make(map[string]interface{}, len(keys))
		rem := i
		for j := len(keys) - 1; j >= 0; j-- {
			vs := g[keys[j]]
			cand[keys[j]] = vs[rem%len(vs)]
			rem /= len(vs)
		}
		out = append(out, cand)
	}
	return out
}
