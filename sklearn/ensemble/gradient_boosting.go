package ensemble

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/exoml/core/model"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

func init() {
	model.RegisterGob(&GradientBoostingClassifier{})
}

// Boosting flavours. They share the histogram trainer and differ in
// parameter names and defaults.
const (
	FlavorHistGB  = "histgb"
	FlavorXGBoost = "xgboost"
)

// GBNode is a node of a boosted regression tree. Leaves have Feature == -1
// and carry the shrunken leaf value.
type GBNode struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
	// Bin is the histogram bin of Threshold, used while training.
	Bin int
}

// GBTree is one boosted regression tree.
type GBTree struct {
	Nodes []GBNode
}

func (t GBTree) predict(X mat.Matrix, i int) float64 {
	n := 0
	for t.Nodes[n].Feature >= 0 {
		nd := t.Nodes[n]
		if X.At(i, nd.Feature) <= nd.Threshold {
			n = nd.Left
		} else {
			n = nd.Right
		}
	}
	return t.Nodes[n].Value
}

// GradientBoostingClassifier is a second-order histogram gradient boosting
// classifier. Binary problems use the logistic loss with one tree per round;
// k>2 classes use softmax with k trees per round.
//
// Split gain is ½(GL²/(HL+λ) + GR²/(HR+λ) − G²/(H+λ)) − γ and leaf values
// are −G/(H+λ) scaled by the learning rate.
type GradientBoostingClassifier struct {
	State  *model.StateManager
	Flavor string

	NEstimators     int     // max_iter | n_estimators
	LearningRate    float64 // learning_rate
	MaxDepth        int     // max_depth, 0 = unlimited
	MaxLeafNodes    int     // max_leaf_nodes, 0 = unlimited
	MinSamplesLeaf  int     // min_samples_leaf
	MinChildWeight  float64 // min_child_weight (hessian sum)
	Lambda          float64 // l2_regularization | reg_lambda
	Gamma           float64 // gamma
	MaxBins         int     // max_bins
	Subsample       float64 // subsample
	ColsampleByTree float64 // colsample_bytree
	ClassWeight     model.ClassWeight
	RandomState     model.Seed

	// Accepted for configuration compatibility and reported back by
	// GetParams; they do not change training.
	Passthrough map[string]interface{}

	ClassCodes []int
	InitScore  []float64
	// Trees[round][k]; binary problems have one tree per round.
	Trees     [][]GBTree
	NFeatures int
}

// GBOption configures a GradientBoostingClassifier.
type GBOption func(*GradientBoostingClassifier)

// WithGBEstimators sets the number of boosting rounds.
func WithGBEstimators(n int) GBOption {
	return func(g *GradientBoostingClassifier) { g.NEstimators = n }
}

// WithGBLearningRate sets the shrinkage.
func WithGBLearningRate(lr float64) GBOption {
	return func(g *GradientBoostingClassifier) { g.LearningRate = lr }
}

// WithGBMaxDepth sets max_depth; 0 means unlimited.
func WithGBMaxDepth(d int) GBOption {
	return func(g *GradientBoostingClassifier) { g.MaxDepth = d }
}

// WithGBRandomState fixes the seed.
func WithGBRandomState(seed int64) GBOption {
	return func(g *GradientBoostingClassifier) { g.RandomState = model.FixedSeed(seed) }
}

// NewHistGradientBoostingClassifier uses HistGradientBoostingClassifier
// defaults.
func NewHistGradientBoostingClassifier(opts ...GBOption) *GradientBoostingClassifier {
	g := &GradientBoostingClassifier{
		State:           model.NewStateManager(),
		Flavor:          FlavorHistGB,
		NEstimators:     100,
		LearningRate:    0.1,
		MaxLeafNodes:    31,
		MinSamplesLeaf:  20,
		MinChildWeight:  1e-3,
		MaxBins:         255,
		Subsample:       1,
		ColsampleByTree: 1,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewXGBClassifier uses XGBClassifier defaults.
func NewXGBClassifier(opts ...GBOption) *GradientBoostingClassifier {
	g := &GradientBoostingClassifier{
		State:           model.NewStateManager(),
		Flavor:          FlavorXGBoost,
		NEstimators:     100,
		LearningRate:    0.3,
		MaxDepth:        6,
		MinSamplesLeaf:  1,
		MinChildWeight:  1,
		Lambda:          1,
		MaxBins:         256,
		Subsample:       1,
		ColsampleByTree: 1,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GradientBoostingClassifier) IsFitted() bool { return g.State.IsFitted() }

// Classes returns the class codes seen during fitting.
func (g *GradientBoostingClassifier) Classes() []int { return append([]int(nil), g.ClassCodes...) }

func (g *GradientBoostingClassifier) name() string {
	if g.Flavor == FlavorXGBoost {
		return "XGBClassifier"
	}
	return "HistGradientBoostingClassifier"
}

func (g *GradientBoostingClassifier) validate() error {
	switch {
	case g.NEstimators < 1:
		return scierrors.NewValidationError(g.roundsParam(), "must be at least 1", g.NEstimators)
	case g.LearningRate <= 0:
		return scierrors.NewValidationError("learning_rate", "must be positive", g.LearningRate)
	case g.MaxBins < 2 || g.MaxBins > 65535:
		return scierrors.NewValidationError("max_bins", "must be in [2, 65535]", g.MaxBins)
	case g.Subsample <= 0 || g.Subsample > 1:
		return scierrors.NewValidationError("subsample", "must be in (0, 1]", g.Subsample)
	case g.ColsampleByTree <= 0 || g.ColsampleByTree > 1:
		return scierrors.NewValidationError("colsample_bytree", "must be in (0, 1]", g.ColsampleByTree)
	case g.Lambda < 0:
		return scierrors.NewValidationError("reg_lambda", "must be non-negative", g.Lambda)
	case g.MaxLeafNodes == 1:
		return scierrors.NewValidationError("max_leaf_nodes", "must be at least 2", g.MaxLeafNodes)
	}
	return nil
}

func (g *GradientBoostingClassifier) roundsParam() string {
	if g.Flavor == FlavorXGBoost {
		return "n_estimators"
	}
	return "max_iter"
}

// Fit boosts NEstimators rounds on X and the class-code column y.
func (g *GradientBoostingClassifier) Fit(X, y mat.Matrix) error {
	return g.FitWeighted(X, y, nil)
}

// FitWeighted boosts with per-sample weights multiplied by class weights.
func (g *GradientBoostingClassifier) FitWeighted(X, y mat.Matrix, sampleWeight []float64) error {
	start := time.Now()
	if err := g.validate(); err != nil {
		return err
	}
	op := g.name() + ".Fit"
	codes, err := model.CheckFitInput(op, X, y)
	if err != nil {
		return err
	}
	n, p := X.Dims()
	w, err := model.CheckSampleWeight(op, n, sampleWeight)
	if err != nil {
		return err
	}
	classes, enc := model.EncodeClasses(codes)
	if len(classes) < 2 {
		return scierrors.NewValueError(op, "need samples of at least 2 classes")
	}
	cw := g.ClassWeight.SampleWeights(codes, classes[len(classes)-1]+1)
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = w[i] * cw[i]
	}

	bins := newBinner(X, g.MaxBins)
	k := len(classes)
	nOut := k
	if k == 2 {
		nOut = 1
	}

	// initial raw scores from weighted class priors
	prior := make([]float64, k)
	total := 0.0
	for i, c := range enc {
		prior[c] += weights[i]
		total += weights[i]
	}
	init := make([]float64, nOut)
	if k == 2 {
		p1 := clipProb(prior[1] / total)
		init[0] = math.Log(p1 / (1 - p1))
	} else {
		for c := range init {
			init[c] = math.Log(clipProb(prior[c] / total))
		}
	}

	raw := make([][]float64, nOut)
	for c := range raw {
		raw[c] = make([]float64, n)
		for i := range raw[c] {
			raw[c][i] = init[c]
		}
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	prob := make([]float64, k)
	rng := g.RandomState.Rand(0)

	g.Trees = g.Trees[:0]
	for round := 0; round < g.NEstimators; round++ {
		rows := g.sampleRows(rng, n)
		roundTrees := make([]GBTree, nOut)
		for c := 0; c < nOut; c++ {
			for i := 0; i < n; i++ {
				var target, pr float64
				if k == 2 {
					pr = scierrors.Sigmoid(raw[0][i])
					if enc[i] == 1 {
						target = 1
					}
				} else {
					for o := 0; o < k; o++ {
						prob[o] = raw[o][i]
					}
					scierrors.SoftmaxInPlace(prob)
					pr = prob[c]
					if enc[i] == c {
						target = 1
					}
				}
				h := pr * (1 - pr)
				if g.Flavor == FlavorXGBoost && k > 2 {
					h *= 2
				}
				grad[i] = weights[i] * (pr - target)
				hess[i] = weights[i] * math.Max(h, 1e-16)
			}
			features := g.sampleFeatures(rng, p)
			t := g.growTree(bins, rows, features, grad, hess)
			for i := 0; i < n; i++ {
				raw[c][i] += t.predictBinned(bins, i)
			}
			roundTrees[c] = t
		}
		g.Trees = append(g.Trees, roundTrees)
	}

	g.ClassCodes = classes
	g.InitScore = init
	g.NFeatures = p
	if g.State == nil {
		g.State = model.NewStateManager()
	}
	g.State.MarkFitted(p, n, k)
	log.GetLoggerWithName("ensemble").Debug("boosting fitted",
		log.ModelNameKey, g.name(),
		log.SamplesKey, n,
		log.FeaturesKey, p,
		log.IterationKey, g.NEstimators,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func clipProb(p float64) float64 {
	return scierrors.ClipValue(p, 1e-15, 1-1e-15)
}

func (g *GradientBoostingClassifier) sampleRows(rng *rand.Rand, n int) []int {
	if g.Subsample >= 1 {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	m := int(math.Max(1, math.Round(g.Subsample*float64(n))))
	rows := rng.Perm(n)[:m]
	sort.Ints(rows)
	return rows
}

func (g *GradientBoostingClassifier) sampleFeatures(rng *rand.Rand, p int) []int {
	if g.ColsampleByTree >= 1 {
		f := make([]int, p)
		for j := range f {
			f[j] = j
		}
		return f
	}
	m := int(math.Max(1, math.Floor(g.ColsampleByTree*float64(p))))
	f := rng.Perm(p)[:m]
	sort.Ints(f)
	return f
}

// binner quantises each feature into at most maxBins bins. Bin b holds
// values v with thresholds[b-1] < v <= thresholds[b].
type binner struct {
	thresholds [][]float64
	codes      [][]uint16 // column-major
}

func newBinner(X mat.Matrix, maxBins int) *binner {
	n, p := X.Dims()
	b := &binner{thresholds: make([][]float64, p), codes: make([][]uint16, p)}
	values := make([]float64, n)
	for j := 0; j < p; j++ {
		for i := 0; i < n; i++ {
			values[i] = X.At(i, j)
		}
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		unique := sorted[:0:0]
		for i, v := range sorted {
			if i == 0 || v != sorted[i-1] {
				unique = append(unique, v)
			}
		}
		var thr []float64
		if len(unique) <= maxBins {
			for i := 0; i+1 < len(unique); i++ {
				thr = append(thr, unique[i]+(unique[i+1]-unique[i])/2)
			}
		} else {
			// midpoints at evenly spaced quantiles
			for q := 1; q < maxBins; q++ {
				pos := float64(q) * float64(n-1) / float64(maxBins)
				lo := sorted[int(math.Floor(pos))]
				hi := sorted[int(math.Ceil(pos))]
				v := lo + (hi-lo)*(pos-math.Floor(pos))
				if len(thr) == 0 || v > thr[len(thr)-1] {
					thr = append(thr, v)
				}
			}
		}
		b.thresholds[j] = thr
		col := make([]uint16, n)
		for i, v := range values {
			col[i] = uint16(sort.SearchFloat64s(thr, v))
		}
		b.codes[j] = col
	}
	return b
}

func (b *binner) nBins(j int) int { return len(b.thresholds[j]) + 1 }

func (t GBTree) predictBinned(b *binner, i int) float64 {
	n := 0
	for t.Nodes[n].Feature >= 0 {
		nd := t.Nodes[n]
		if int(b.codes[nd.Feature][i]) <= nd.Bin {
			n = nd.Left
		} else {
			n = nd.Right
		}
	}
	return t.Nodes[n].Value
}

type gbLeaf struct {
	node  int
	rows  []int
	depth int
	g, h  float64
	best  gbSplit
}

type gbSplit struct {
	feature int
	bin     int
	gain    float64
	ok      bool
}

// growTree grows one regression tree best-first on (grad, hess), bounded by
// MaxLeafNodes and MaxDepth.
func (g *GradientBoostingClassifier) growTree(b *binner, rows, features []int, grad, hess []float64) GBTree {
	t := GBTree{}
	var sg, sh float64
	for _, i := range rows {
		sg += grad[i]
		sh += hess[i]
	}
	t.Nodes = append(t.Nodes, GBNode{Feature: -1, Left: -1, Right: -1, Value: g.leafValue(sg, sh)})
	root := &gbLeaf{node: 0, rows: rows, g: sg, h: sh}
	root.best = g.findSplit(b, root, features, grad, hess)

	open := []*gbLeaf{root}
	leaves := 1
	for len(open) > 0 {
		if g.MaxLeafNodes > 0 && leaves >= g.MaxLeafNodes {
			break
		}
		// pick the open leaf with the largest gain
		bi := -1
		for i, l := range open {
			if l.best.ok && (bi < 0 || l.best.gain > open[bi].best.gain) {
				bi = i
			}
		}
		if bi < 0 {
			break
		}
		l := open[bi]
		open = append(open[:bi], open[bi+1:]...)

		codes := b.codes[l.best.feature]
		var left, right []int
		var lg, lh float64
		for _, i := range l.rows {
			if int(codes[i]) <= l.best.bin {
				left = append(left, i)
				lg += grad[i]
				lh += hess[i]
			} else {
				right = append(right, i)
			}
		}
		li := len(t.Nodes)
		t.Nodes = append(t.Nodes,
			GBNode{Feature: -1, Left: -1, Right: -1, Value: g.leafValue(lg, lh)},
			GBNode{Feature: -1, Left: -1, Right: -1, Value: g.leafValue(l.g-lg, l.h-lh)},
		)
		t.Nodes[l.node] = GBNode{
			Feature:   l.best.feature,
			Threshold: b.thresholds[l.best.feature][l.best.bin],
			Bin:       l.best.bin,
			Left:      li,
			Right:     li + 1,
		}
		leaves++

		for c, part := range [][]int{left, right} {
			child := &gbLeaf{node: li + c, rows: part, depth: l.depth + 1}
			for _, i := range part {
				child.g += grad[i]
				child.h += hess[i]
			}
			child.best = g.findSplit(b, child, features, grad, hess)
			open = append(open, child)
		}
	}
	return t
}

func (g *GradientBoostingClassifier) leafValue(sg, sh float64) float64 {
	return -g.LearningRate * sg / (sh + g.Lambda + 1e-12)
}

func (g *GradientBoostingClassifier) findSplit(b *binner, l *gbLeaf, features []int, grad, hess []float64) gbSplit {
	best := gbSplit{}
	if g.MaxDepth > 0 && l.depth >= g.MaxDepth {
		return best
	}
	if len(l.rows) < 2*g.MinSamplesLeaf {
		return best
	}
	parent := l.g * l.g / (l.h + g.Lambda)
	for _, f := range features {
		nb := b.nBins(f)
		if nb < 2 {
			continue
		}
		hg := make([]float64, nb)
		hh := make([]float64, nb)
		hc := make([]int, nb)
		codes := b.codes[f]
		for _, i := range l.rows {
			c := codes[i]
			hg[c] += grad[i]
			hh[c] += hess[i]
			hc[c]++
		}
		var gl, hl float64
		cl := 0
		for bin := 0; bin < nb-1; bin++ {
			gl += hg[bin]
			hl += hh[bin]
			cl += hc[bin]
			cr := len(l.rows) - cl
			if cl < g.MinSamplesLeaf {
				continue
			}
			if cr < g.MinSamplesLeaf {
				break
			}
			gr, hr := l.g-gl, l.h-hl
			if hl < g.MinChildWeight || hr < g.MinChildWeight {
				continue
			}
			gain := 0.5*(gl*gl/(hl+g.Lambda)+gr*gr/(hr+g.Lambda)-parent) - g.Gamma
			if gain > 1e-12 && (!best.ok || gain > best.gain) {
				best = gbSplit{feature: f, bin: bin, gain: gain, ok: true}
			}
		}
	}
	return best
}

// DecisionFunction returns raw scores: n×1 for binary problems, n×k otherwise.
func (g *GradientBoostingClassifier) DecisionFunction(X mat.Matrix) (*mat.Dense, error) {
	if err := g.State.RequireFitted(g.name(), "DecisionFunction"); err != nil {
		return nil, err
	}
	n, p := X.Dims()
	if err := g.State.CheckFeatures(g.name()+".DecisionFunction", p); err != nil {
		return nil, err
	}
	out := mat.NewDense(n, len(g.InitScore), nil)
	for i := 0; i < n; i++ {
		for c, s := range g.InitScore {
			v := s
			for _, round := range g.Trees {
				v += round[c].predict(X, i)
			}
			out.Set(i, c, v)
		}
	}
	return out, nil
}

// PredictProba returns class probabilities, columns in Classes() order.
func (g *GradientBoostingClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	raw, err := g.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	n, _ := raw.Dims()
	k := len(g.ClassCodes)
	out := mat.NewDense(n, k, nil)
	row := make([]float64, k)
	for i := 0; i < n; i++ {
		if k == 2 {
			p1 := scierrors.Sigmoid(raw.At(i, 0))
			out.Set(i, 0, 1-p1)
			out.Set(i, 1, p1)
			continue
		}
		mat.Row(row, i, raw)
		scierrors.SoftmaxInPlace(row)
		out.SetRow(i, row)
	}
	return out, nil
}

// Predict returns the most probable class code for each row.
func (g *GradientBoostingClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := g.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return model.ArgmaxLabels(proba, g.ClassCodes), nil
}

// GetParams returns hyperparameters under the flavour's names.
func (g *GradientBoostingClassifier) GetParams() map[string]interface{} {
	var depth interface{}
	if g.MaxDepth > 0 {
		depth = g.MaxDepth
	}
	var params map[string]interface{}
	if g.Flavor == FlavorXGBoost {
		params = map[string]interface{}{
			"n_estimators":     g.NEstimators,
			"learning_rate":    g.LearningRate,
			"max_depth":        depth,
			"reg_lambda":       g.Lambda,
			"gamma":            g.Gamma,
			"min_child_weight": g.MinChildWeight,
			"subsample":        g.Subsample,
			"colsample_bytree": g.ColsampleByTree,
			"max_bin":          g.MaxBins,
			"random_state":     g.RandomState.Param(),
		}
	} else {
		var leaves interface{}
		if g.MaxLeafNodes > 0 {
			leaves = g.MaxLeafNodes
		}
		params = map[string]interface{}{
			"max_iter":          g.NEstimators,
			"learning_rate":     g.LearningRate,
			"max_depth":         depth,
			"max_leaf_nodes":    leaves,
			"min_samples_leaf":  g.MinSamplesLeaf,
			"l2_regularization": g.Lambda,
			"max_bins":          g.MaxBins,
			"class_weight":      g.ClassWeight.Param(),
			"random_state":      g.RandomState.Param(),
		}
	}
	for k, v := range g.Passthrough {
		params[k] = v
	}
	return params
}

// xgbTolerated are XGBClassifier parameters that only affect the native
// library's runtime behaviour.
var xgbTolerated = map[string]bool{
	"n_jobs": true, "tree_method": true, "eval_metric": true, "verbosity": true,
	"use_label_encoder": true, "nthread": true, "objective": true,
}

// SetParams updates hyperparameters by the flavour's names.
func (g *GradientBoostingClassifier) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch {
		case k == "learning_rate":
			g.LearningRate, err = model.ParamFloat(k, v)
		case k == "max_depth":
			g.MaxDepth, err = model.ParamOptionalInt(k, v)
		case k == "random_state" || (k == "seed" && g.Flavor == FlavorXGBoost):
			g.RandomState, err = model.ParseSeed(k, v)
		case g.Flavor == FlavorXGBoost:
			err = g.setXGB(k, v)
		default:
			err = g.setHist(k, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (g *GradientBoostingClassifier) setXGB(k string, v interface{}) error {
	var err error
	switch k {
	case "n_estimators":
		g.NEstimators, err = model.ParamInt(k, v)
	case "reg_lambda", "lambda":
		g.Lambda, err = model.ParamFloat(k, v)
	case "gamma", "min_split_loss":
		g.Gamma, err = model.ParamFloat(k, v)
	case "min_child_weight":
		g.MinChildWeight, err = model.ParamFloat(k, v)
	case "subsample":
		g.Subsample, err = model.ParamFloat(k, v)
	case "colsample_bytree":
		g.ColsampleByTree, err = model.ParamFloat(k, v)
	case "max_bin":
		g.MaxBins, err = model.ParamInt(k, v)
	default:
		if !xgbTolerated[k] {
			return model.UnknownParam(g.name(), k)
		}
		if g.Passthrough == nil {
			g.Passthrough = make(map[string]interface{})
		}
		g.Passthrough[k] = v
	}
	return err
}

func (g *GradientBoostingClassifier) setHist(k string, v interface{}) error {
	var err error
	switch k {
	case "max_iter":
		g.NEstimators, err = model.ParamInt(k, v)
	case "max_leaf_nodes":
		g.MaxLeafNodes, err = model.ParamOptionalInt(k, v)
	case "min_samples_leaf":
		g.MinSamplesLeaf, err = model.ParamInt(k, v)
	case "l2_regularization":
		g.Lambda, err = model.ParamFloat(k, v)
	case "max_bins":
		g.MaxBins, err = model.ParamInt(k, v)
	case "class_weight":
		g.ClassWeight, err = model.ParseClassWeight(k, v)
	default:
		return model.UnknownParam(g.name(), k)
	}
	return err
}

// Clone returns an unfitted copy.
func (g *GradientBoostingClassifier) Clone() model.Classifier {
	c := *g
	c.State = model.NewStateManager()
	c.ClassCodes, c.InitScore, c.Trees, c.NFeatures = nil, nil, nil, 0
	if g.Passthrough != nil {
		c.Passthrough = make(map[string]interface{}, len(g.Passthrough))
		for k, v := range g.Passthrough {
			c.Passthrough[k] = v
		}
	}
	return &c
}

func (g *GradientBoostingClassifier) String() string {
	return fmt.Sprintf("%s(rounds=%d, learning_rate=%g)", g.name(), g.NEstimators, g.LearningRate)
}
