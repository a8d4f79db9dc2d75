package preprocessing

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/exoml/core/model"
	"github.com/YuminosukeSato/exoml/pkg/errors"
)

// OneHotEncoder expands string columns into indicator blocks. Each block
// follows the sorted vocabulary seen at fit time. With HandleUnknown
// "ignore", unseen values produce an all-zero block.
type OneHotEncoder struct {
	State         *model.StateManager
	HandleUnknown string
	Categories    [][]string
	// Index maps column -> category -> offset inside the column's block.
	Index []map[string]int
}

// NewOneHotEncoder creates an encoder. handleUnknown is "ignore" or "error".
func NewOneHotEncoder(handleUnknown string) *OneHotEncoder {
	return &OneHotEncoder{State: model.NewStateManager(), HandleUnknown: handleUnknown}
}

func (e *OneHotEncoder) IsFitted() bool { return e.State.IsFitted() }

// Fit learns the sorted vocabulary of each column.
func (e *OneHotEncoder) Fit(cols [][]string) error {
	if e.HandleUnknown != "ignore" && e.HandleUnknown != "error" {
		return errors.NewValidationError("handle_unknown", "expected ignore or error", e.HandleUnknown)
	}
	e.Categories = make([][]string, len(cols))
	e.Index = make([]map[string]int, len(cols))
	rows := 0
	for j, values := range cols {
		rows = len(values)
		seen := make(map[string]struct{})
		for _, v := range values {
			seen[v] = struct{}{}
		}
		cats := make([]string, 0, len(seen))
		for v := range seen {
			cats = append(cats, v)
		}
		sort.Strings(cats)
		e.Categories[j] = cats
		e.Index[j] = make(map[string]int, len(cats))
		for k, v := range cats {
			e.Index[j][v] = k
		}
	}
	if e.State == nil {
		e.State = model.NewStateManager()
	}
	e.State.MarkFitted(len(cols), rows, 0)
	return nil
}

// Width is the total number of indicator columns.
func (e *OneHotEncoder) Width() int {
	w := 0
	for _, cats := range e.Categories {
		w += len(cats)
	}
	return w
}

// Transform encodes the columns into an n×Width matrix.
func (e *OneHotEncoder) Transform(cols [][]string) (*mat.Dense, error) {
	rows := 0
	if len(cols) > 0 {
		rows = len(cols[0])
	}
	if rows == 0 || e.Width() == 0 {
		return nil, errors.NewModelError("OneHotEncoder.Transform", "empty output", errors.ErrEmptyData)
	}
	out := mat.NewDense(rows, e.Width(), nil)
	if err := e.EncodeInto(out, 0, cols); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeInto writes the indicator block into dst starting at column offset.
// dst must be zeroed in that range.
func (e *OneHotEncoder) EncodeInto(dst *mat.Dense, offset int, cols [][]string) error {
	if err := e.State.RequireFitted("OneHotEncoder", "Transform"); err != nil {
		return err
	}
	if len(cols) != len(e.Categories) {
		return errors.NewDimensionError("OneHotEncoder.Transform", len(e.Categories), len(cols), 1)
	}
	for j, values := range cols {
		for i, v := range values {
			k, ok := e.Index[j][v]
			if !ok {
				if e.HandleUnknown == "error" {
					return errors.NewValueError("OneHotEncoder.Transform",
						fmt.Sprintf("found unknown category %q in column %d during transform", v, j))
				}
				continue
			}
			dst.Set(i, offset+k, 1)
		}
		offset += len(e.Categories[j])
	}
	return nil
}

// FeatureNamesOut returns "<input>_<category>" for every indicator column.
func (e *OneHotEncoder) FeatureNamesOut(inputNames []string) []string {
	names := make([]string, 0, e.Width())
	for j, cats := range e.Categories {
		for _, c := range cats {
			names = append(names, inputNames[j]+"_"+c)
		}
	}
	return names
}

func (e *OneHotEncoder) GetParams() map[string]interface{} {
	return map[string]interface{}{"handle_unknown": e.HandleUnknown}
}

func (e *OneHotEncoder) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		if k != "handle_unknown" {
			return model.UnknownParam("OneHotEncoder", k)
		}
		s, err := model.ParamString(k, v)
		if err != nil {
			return err
		}
		if s != "ignore" && s != "error" {
			return errors.NewValidationError(k, "expected ignore or error", v)
		}
		e.HandleUnknown = s
	}
	return nil
}
