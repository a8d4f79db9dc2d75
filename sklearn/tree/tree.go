// Package tree implements a CART decision tree classifier compatible with
// scikit-learn's DecisionTreeClassifier. The random forest and extra trees
// ensembles are built from it.
package tree

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/exoml/core/model"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

func init() {
	model.RegisterGob(&DecisionTreeClassifier{})
}

const leaf = -1

// Node is one node of a fitted tree. Leaves have Feature == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	// Value is the normalised weighted class distribution of the node.
	Value     []float64
	Impurity  float64
	NSamples  int
	WeightedN float64
}

// DecisionTreeClassifier is a CART classifier.
type DecisionTreeClassifier struct {
	State *model.StateManager

	// Hyperparameters
	Criterion       string // "gini" or "entropy"
	Splitter        string // "best" or "random"
	MaxDepth        int    // 0 = unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     MaxFeatures
	ClassWeight     model.ClassWeight
	RandomState     model.Seed

	// Fitted attributes
	Nodes       []Node
	ClassCodes  []int
	NFeatures   int
	Importances []float64
	Depth       int
}

// Option configures a DecisionTreeClassifier.
type Option func(*DecisionTreeClassifier)

// NewDecisionTreeClassifier creates a tree with scikit-learn defaults.
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		State:           model.NewStateManager(),
		Criterion:       "gini",
		Splitter:        "best",
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

// WithCriterion sets the impurity measure.
func WithCriterion(c string) Option { return func(dt *DecisionTreeClassifier) { dt.Criterion = c } }

// WithSplitter sets "best" or "random".
func WithSplitter(s string) Option { return func(dt *DecisionTreeClassifier) { dt.Splitter = s } }

// WithMaxDepth limits the depth; 0 means unlimited.
func WithMaxDepth(d int) Option { return func(dt *DecisionTreeClassifier) { dt.MaxDepth = d } }

// WithMinSamplesSplit sets the minimum samples needed to split a node.
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.MinSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum samples in each leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.MinSamplesLeaf = n }
}

// WithMaxFeatures sets the per-split feature subset.
func WithMaxFeatures(m MaxFeatures) Option {
	return func(dt *DecisionTreeClassifier) { dt.MaxFeatures = m }
}

// WithClassWeight sets class weights.
func WithClassWeight(cw model.ClassWeight) Option {
	return func(dt *DecisionTreeClassifier) { dt.ClassWeight = cw }
}

// WithRandomState fixes the seed.
func WithRandomState(seed int64) Option {
	return func(dt *DecisionTreeClassifier) { dt.RandomState = model.FixedSeed(seed) }
}

func (dt *DecisionTreeClassifier) IsFitted() bool { return dt.State.IsFitted() }

// Classes returns the class codes seen during fitting.
func (dt *DecisionTreeClassifier) Classes() []int { return append([]int(nil), dt.ClassCodes...) }

func (dt *DecisionTreeClassifier) validate() error {
	if dt.Criterion != "gini" && dt.Criterion != "entropy" && dt.Criterion != "log_loss" {
		return scierrors.NewValidationError("criterion", "expected gini, entropy or log_loss", dt.Criterion)
	}
	if dt.Splitter != "best" && dt.Splitter != "random" {
		return scierrors.NewValidationError("splitter", "expected best or random", dt.Splitter)
	}
	if dt.MinSamplesSplit < 2 {
		return scierrors.NewValidationError("min_samples_split", "must be at least 2", dt.MinSamplesSplit)
	}
	if dt.MinSamplesLeaf < 1 {
		return scierrors.NewValidationError("min_samples_leaf", "must be at least 1", dt.MinSamplesLeaf)
	}
	if dt.MaxDepth < 0 {
		return scierrors.NewValidationError("max_depth", "must be positive or null", dt.MaxDepth)
	}
	return nil
}

// Fit grows the tree on X and the class-code column y.
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	return dt.FitWeighted(X, y, nil)
}

// FitWeighted grows the tree with per-sample weights. Rows with zero weight
// do not reach the root but their labels still count as known classes, so
// bootstrapped ensemble members share one class set.
func (dt *DecisionTreeClassifier) FitWeighted(X, y mat.Matrix, sampleWeight []float64) error {
	return dt.FitRand(X, y, sampleWeight, dt.RandomState.Rand(0))
}

// FitRand is FitWeighted with a caller-owned generator. Ensembles pass one
// generator per member.
func (dt *DecisionTreeClassifier) FitRand(X, y mat.Matrix, sampleWeight []float64, rng *rand.Rand) error {
	if err := dt.validate(); err != nil {
		return err
	}
	codes, err := model.CheckFitInput("DecisionTreeClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	n, p := X.Dims()
	w, err := model.CheckSampleWeight("DecisionTreeClassifier.Fit", n, sampleWeight)
	if err != nil {
		return err
	}
	classes, encoded := model.EncodeClasses(codes)
	k := len(classes)

	cw := dt.ClassWeight.SampleWeights(codes, maxCode(classes)+1)
	weights := make([]float64, n)
	idx := make([]int, 0, n)
	for i := 0; i < n; i++ {
		weights[i] = w[i] * cw[i]
		if weights[i] > 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return scierrors.NewValueError("DecisionTreeClassifier.Fit", "all sample weights are zero")
	}

	mtry, err := dt.MaxFeatures.Resolve(p)
	if err != nil {
		return err
	}

	b := &builder{
		cols:     columns(X),
		y:        encoded,
		w:        weights,
		k:        k,
		mtry:     mtry,
		dt:       dt,
		rng:      rng,
		imp:      make([]float64, p),
		entropy:  dt.Criterion != "gini",
		scratchL: make([]float64, k),
		scratchR: make([]float64, k),
	}
	b.build(idx, 0)

	dt.Nodes = b.nodes
	dt.ClassCodes = classes
	dt.NFeatures = p
	dt.Depth = b.maxDepth
	total := 0.0
	for _, v := range b.imp {
		total += v
	}
	dt.Importances = make([]float64, p)
	if total > 0 {
		for j, v := range b.imp {
			dt.Importances[j] = v / total
		}
	}
	if dt.State == nil {
		dt.State = model.NewStateManager()
	}
	dt.State.MarkFitted(p, n, k)
	return nil
}

func maxCode(classes []int) int {
	return classes[len(classes)-1]
}

// columns copies X into column-major slices.
func columns(X mat.Matrix) [][]float64 {
	n, p := X.Dims()
	cols := make([][]float64, p)
	for j := 0; j < p; j++ {
		cols[j] = make([]float64, n)
	}
	if d, ok := X.(mat.RawMatrixer); ok {
		raw := d.RawMatrix()
		for i := 0; i < n; i++ {
			row := raw.Data[i*raw.Stride : i*raw.Stride+p]
			for j, v := range row {
				cols[j][i] = v
			}
		}
		return cols
	}
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			cols[j][i] = X.At(i, j)
		}
	}
	return cols
}

// leafValue returns the class distribution for row i of X.
func (dt *DecisionTreeClassifier) leafValue(X mat.Matrix, i int) []float64 {
	node := 0
	for dt.Nodes[node].Feature != leaf {
		nd := dt.Nodes[node]
		if X.At(i, nd.Feature) <= nd.Threshold {
			node = nd.Left
		} else {
			node = nd.Right
		}
	}
	return dt.Nodes[node].Value
}

// PredictProba returns the leaf class distributions, columns in Classes() order.
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.State.RequireFitted("DecisionTreeClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	n, p := X.Dims()
	if err := dt.State.CheckFeatures("DecisionTreeClassifier.PredictProba", p); err != nil {
		return nil, err
	}
	out := mat.NewDense(n, len(dt.ClassCodes), nil)
	for i := 0; i < n; i++ {
		out.SetRow(i, dt.leafValue(X, i))
	}
	return out, nil
}

// Predict returns the most probable class code for each row.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := dt.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return model.ArgmaxLabels(proba, dt.ClassCodes), nil
}

// Score returns the mean accuracy on X, y.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0
	}
	n, _ := X.Dims()
	correct := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

// GetFeatureImportances returns normalised impurity decrease per feature.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.Importances...)
}

// GetDepth returns the depth of the fitted tree.
func (dt *DecisionTreeClassifier) GetDepth() int { return dt.Depth }

// GetNLeaves returns the number of leaves.
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	n := 0
	for _, nd := range dt.Nodes {
		if nd.Feature == leaf {
			n++
		}
	}
	return n
}

// GetParams returns hyperparameters under scikit-learn names.
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	var depth interface{}
	if dt.MaxDepth > 0 {
		depth = dt.MaxDepth
	}
	return map[string]interface{}{
		"criterion":         dt.Criterion,
		"splitter":          dt.Splitter,
		"max_depth":         depth,
		"min_samples_split": dt.MinSamplesSplit,
		"min_samples_leaf":  dt.MinSamplesLeaf,
		"max_features":      dt.MaxFeatures.Param(),
		"class_weight":      dt.ClassWeight.Param(),
		"random_state":      dt.RandomState.Param(),
	}
}

// SetParams updates hyperparameters by scikit-learn name.
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		if err := dt.setParam(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (dt *DecisionTreeClassifier) setParam(k string, v interface{}) error {
	var err error
	switch k {
	case "criterion":
		dt.Criterion, err = model.ParamString(k, v)
	case "splitter":
		dt.Splitter, err = model.ParamString(k, v)
	case "max_depth":
		dt.MaxDepth, err = model.ParamOptionalInt(k, v)
	case "min_samples_split":
		dt.MinSamplesSplit, err = model.ParamInt(k, v)
	case "min_samples_leaf":
		dt.MinSamplesLeaf, err = model.ParamInt(k, v)
	case "max_features":
		dt.MaxFeatures, err = ParseMaxFeatures(k, v)
	case "class_weight":
		dt.ClassWeight, err = model.ParseClassWeight(k, v)
	case "random_state":
		dt.RandomState, err = model.ParseSeed(k, v)
	default:
		return model.UnknownParam("DecisionTreeClassifier", k)
	}
	return err
}

// Clone returns an unfitted copy.
func (dt *DecisionTreeClassifier) Clone() model.Classifier {
	return dt.CloneTree()
}

// CloneTree is Clone with the concrete return type.
func (dt *DecisionTreeClassifier) CloneTree() *DecisionTreeClassifier {
	return &DecisionTreeClassifier{
		State:           model.NewStateManager(),
		Criterion:       dt.Criterion,
		Splitter:        dt.Splitter,
		MaxDepth:        dt.MaxDepth,
		MinSamplesSplit: dt.MinSamplesSplit,
		MinSamplesLeaf:  dt.MinSamplesLeaf,
		MaxFeatures:     dt.MaxFeatures,
		ClassWeight:     dt.ClassWeight,
		RandomState:     dt.RandomState,
	}
}

func (dt *DecisionTreeClassifier) String() string {
	return fmt.Sprintf("DecisionTreeClassifier(criterion=%s, splitter=%s, max_depth=%v)",
		dt.Criterion, dt.Splitter, dt.GetParams()["max_depth"])
}

// builder grows one tree depth-first.
type builder struct {
	cols     [][]float64
	y        []int
	w        []float64
	k        int
	mtry     int
	dt       *DecisionTreeClassifier
	rng      *rand.Rand
	nodes    []Node
	imp      []float64
	entropy  bool
	maxDepth int

	scratchL []float64
	scratchR []float64
	order    []int
}

func (b *builder) impurity(counts []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	if b.entropy {
		e := 0.0
		for _, c := range counts {
			if c > 0 {
				p := c / total
				e -= p * math.Log2(p)
			}
		}
		return e
	}
	g := 1.0
	for _, c := range counts {
		p := c / total
		g -= p * p
	}
	return g
}

type split struct {
	feature   int
	threshold float64
	score     float64 // weighted child impurity, lower is better
	found     bool
}

func (b *builder) build(idx []int, depth int) int {
	if depth > b.maxDepth {
		b.maxDepth = depth
	}
	counts := make([]float64, b.k)
	total := 0.0
	for _, i := range idx {
		counts[b.y[i]] += b.w[i]
		total += b.w[i]
	}
	impurity := b.impurity(counts, total)
	value := make([]float64, b.k)
	for c := range counts {
		value[c] = counts[c] / total
	}

	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature:   leaf,
		Left:      leaf,
		Right:     leaf,
		Value:     value,
		Impurity:  impurity,
		NSamples:  len(idx),
		WeightedN: total,
	})

	dt := b.dt
	n := len(idx)
	if (dt.MaxDepth > 0 && depth >= dt.MaxDepth) ||
		n < dt.MinSamplesSplit ||
		n < 2*dt.MinSamplesLeaf ||
		impurity <= 1e-12 {
		return self
	}

	best := b.findSplit(idx)
	if !best.found {
		return self
	}

	// partition in place: left rows first
	col := b.cols[best.feature]
	lo, hi := 0, n-1
	for lo <= hi {
		if col[idx[lo]] <= best.threshold {
			lo++
		} else {
			idx[lo], idx[hi] = idx[hi], idx[lo]
			hi--
		}
	}
	left, right := idx[:lo], idx[lo:]

	b.imp[best.feature] += total*impurity - best.score

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	nd := &b.nodes[self]
	nd.Feature = best.feature
	nd.Threshold = best.threshold
	nd.Left = l
	nd.Right = r
	return self
}

func (b *builder) findSplit(idx []int) split {
	best := split{score: math.Inf(1)}
	p := len(b.cols)
	features := b.rng.Perm(p)
	visited := 0
	for _, f := range features {
		if visited >= b.mtry {
			break
		}
		var s split
		var constant bool
		if b.dt.Splitter == "random" {
			s, constant = b.randomSplit(idx, f)
		} else {
			s, constant = b.bestSplit(idx, f)
		}
		if constant {
			continue
		}
		visited++
		if s.found && s.score < best.score {
			best = s
		}
	}
	return best
}

// bestSplit scans every boundary between distinct sorted values of f.
func (b *builder) bestSplit(idx []int, f int) (split, bool) {
	col := b.cols[f]
	n := len(idx)
	if cap(b.order) < n {
		b.order = make([]int, n)
	}
	order := b.order[:n]
	copy(order, idx)
	sort.Slice(order, func(a, c int) bool { return col[order[a]] < col[order[c]] })
	if col[order[0]] == col[order[n-1]] {
		return split{}, true
	}

	left, right := b.scratchL, b.scratchR
	for c := range left {
		left[c], right[c] = 0, 0
	}
	var wl, wr float64
	for _, i := range order {
		right[b.y[i]] += b.w[i]
		wr += b.w[i]
	}

	minLeaf := b.dt.MinSamplesLeaf
	best := split{score: math.Inf(1)}
	for pos := 0; pos < n-1; pos++ {
		i := order[pos]
		left[b.y[i]] += b.w[i]
		right[b.y[i]] -= b.w[i]
		wl += b.w[i]
		wr -= b.w[i]
		v, next := col[i], col[order[pos+1]]
		if v == next {
			continue
		}
		nl := pos + 1
		if nl < minLeaf || n-nl < minLeaf {
			continue
		}
		score := wl*b.impurity(left, wl) + wr*b.impurity(right, wr)
		if score < best.score {
			thr := v + (next-v)/2
			if thr >= next {
				thr = v
			}
			best = split{feature: f, threshold: thr, score: score, found: true}
		}
	}
	return best, false
}

// randomSplit draws one threshold uniformly between the node's min and max.
func (b *builder) randomSplit(idx []int, f int) (split, bool) {
	col := b.cols[f]
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range idx {
		lo = math.Min(lo, col[i])
		hi = math.Max(hi, col[i])
	}
	if hi <= lo+1e-7 {
		return split{}, true
	}
	thr := lo + b.rng.Float64()*(hi-lo)
	if thr >= hi {
		thr = lo
	}

	left, right := b.scratchL, b.scratchR
	for c := range left {
		left[c], right[c] = 0, 0
	}
	var wl, wr float64
	nl := 0
	for _, i := range idx {
		if col[i] <= thr {
			left[b.y[i]] += b.w[i]
			wl += b.w[i]
			nl++
		} else {
			right[b.y[i]] += b.w[i]
			wr += b.w[i]
		}
	}
	minLeaf := b.dt.MinSamplesLeaf
	if nl < minLeaf || len(idx)-nl < minLeaf {
		return split{}, false
	}
	score := wl*b.impurity(left, wl) + wr*b.impurity(right, wr)
	return split{feature: f, threshold: thr, score: score, found: true}, false
}
