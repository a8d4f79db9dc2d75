// Package neural_network provides a feed-forward classifier for tabular
// features: ReLU dense layers with optional batch normalisation and dropout,
// a softmax output, Adam and early stopping on a held-out validation tail.
package neural_network

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/exoml/core/model"
	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

func init() {
	model.RegisterGob(&MLPClassifier{})
}

// Architecture kinds.
const (
	KindMLP   = "mlp"
	KindMLPBN = "mlp_bn"
)

const (
	bnMomentum = 0.99
	bnEpsilon  = 1e-3
)

// Layer is one dense layer. Hidden layers use ReLU, the last layer is linear
// and feeds the softmax.
type Layer struct {
	In, Out int
	W       []float64 // In×Out, row-major
	B       []float64
	Dropout float64

	BatchNorm bool
	Gamma     []float64
	Beta      []float64
	RunMean   []float64
	RunVar    []float64
}

// History records per-epoch training curves.
type History struct {
	Loss        []float64
	Accuracy    []float64
	ValLoss     []float64
	ValAccuracy []float64
}

// MLPClassifier is a multi-layer perceptron classifier.
type MLPClassifier struct {
	State *model.StateManager

	Kind               string
	HiddenLayerSizes   []int
	Dropouts           []float64
	BatchNorm          bool
	LearningRate       float64
	Epochs             int
	BatchSize          int
	ValidationFraction float64
	Patience           int
	ClassWeight        model.ClassWeight
	RandomState        model.Seed

	Layers     []Layer
	ClassCodes []int
	NFeatures  int
	History    History
	BestEpoch  int
}

// MLPOption configures an MLPClassifier.
type MLPOption func(*MLPClassifier)

// WithEpochs sets the maximum number of epochs.
func WithEpochs(n int) MLPOption { return func(m *MLPClassifier) { m.Epochs = n } }

// WithBatchSize sets the mini-batch size.
func WithBatchSize(n int) MLPOption { return func(m *MLPClassifier) { m.BatchSize = n } }

// WithValidationFraction sets the share of trailing rows held out.
func WithValidationFraction(f float64) MLPOption {
	return func(m *MLPClassifier) { m.ValidationFraction = f }
}

// WithHiddenLayers overrides the layer widths and dropout rates.
func WithHiddenLayers(sizes []int, dropouts []float64) MLPOption {
	return func(m *MLPClassifier) {
		m.HiddenLayerSizes = append([]int(nil), sizes...)
		m.Dropouts = append([]float64(nil), dropouts...)
	}
}

// WithMLPRandomState fixes the seed.
func WithMLPRandomState(seed int64) MLPOption {
	return func(m *MLPClassifier) { m.RandomState = model.FixedSeed(seed) }
}

// WithLearningRate sets the Adam step size.
func WithLearningRate(lr float64) MLPOption {
	return func(m *MLPClassifier) { m.LearningRate = lr }
}

// NewMLPClassifier builds the "mlp" (256-0.3-128-0.2) or "mlp_bn"
// (512-BN-0.5-256-BN-0.3) architecture.
func NewMLPClassifier(kind string, opts ...MLPOption) (*MLPClassifier, error) {
	m := &MLPClassifier{
		State:              model.NewStateManager(),
		Kind:               kind,
		LearningRate:       1e-3,
		Epochs:             60,
		BatchSize:          128,
		ValidationFraction: 0.2,
		Patience:           8,
		ClassWeight:        model.ClassWeight{Mode: "balanced"},
	}
	switch kind {
	case KindMLP:
		m.HiddenLayerSizes = []int{256, 128}
		m.Dropouts = []float64{0.3, 0.2}
	case KindMLPBN:
		m.HiddenLayerSizes = []int{512, 256}
		m.Dropouts = []float64{0.5, 0.3}
		m.BatchNorm = true
	default:
		return nil, scierrors.NewValidationError("kind", "expected mlp or mlp_bn", kind)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *MLPClassifier) IsFitted() bool { return m.State.IsFitted() }

// Classes returns the class codes seen during fitting.
func (m *MLPClassifier) Classes() []int { return append([]int(nil), m.ClassCodes...) }

func (m *MLPClassifier) validate() error {
	switch {
	case len(m.HiddenLayerSizes) != len(m.Dropouts):
		return scierrors.NewValidationError("dropout", "need one rate per hidden layer", m.Dropouts)
	case m.Epochs < 1:
		return scierrors.NewValidationError("epochs", "must be at least 1", m.Epochs)
	case m.BatchSize < 1:
		return scierrors.NewValidationError("batch_size", "must be at least 1", m.BatchSize)
	case m.LearningRate <= 0:
		return scierrors.NewValidationError("learning_rate_init", "must be positive", m.LearningRate)
	case m.ValidationFraction < 0 || m.ValidationFraction >= 1:
		return scierrors.NewValidationError("validation_fraction", "must be in [0, 1)", m.ValidationFraction)
	case m.Patience < 1:
		return scierrors.NewValidationError("n_iter_no_change", "must be at least 1", m.Patience)
	}
	for i, h := range m.HiddenLayerSizes {
		if h < 1 {
			return scierrors.NewValidationError("hidden_layer_sizes", "widths must be positive", h)
		}
		if d := m.Dropouts[i]; d < 0 || d >= 1 {
			return scierrors.NewValidationError("dropout", "rates must be in [0, 1)", d)
		}
	}
	return nil
}

// Fit trains with Adam on the leading rows and monitors accuracy on the
// trailing ValidationFraction of rows. Training stops after Patience epochs
// without improvement and the best weights are restored.
func (m *MLPClassifier) Fit(X, y mat.Matrix) error {
	start := time.Now()
	if err := m.validate(); err != nil {
		return err
	}
	codes, err := model.CheckFitInput("MLPClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	n, p := X.Dims()
	classes, enc := model.EncodeClasses(codes)
	if len(classes) < 2 {
		return scierrors.NewValueError("MLPClassifier.Fit", "need samples of at least 2 classes")
	}
	weights := m.ClassWeight.SampleWeights(codes, classes[len(classes)-1]+1)
	data := mat.DenseCopyOf(X)

	nVal := int(math.Floor(float64(n) * m.ValidationFraction))
	nTrain := n - nVal
	if nTrain < 1 {
		return scierrors.NewValueError("MLPClassifier.Fit", "validation split leaves no training rows")
	}

	rng := m.RandomState.Rand(0)
	m.initLayers(p, len(classes), rng)
	m.ClassCodes = classes
	m.NFeatures = p
	m.History = History{}
	opt := newAdam(m.LearningRate, m.paramSlices())

	logger := log.GetLoggerWithName("neural_network")
	best := math.Inf(-1)
	var bestLayers []Layer
	wait := 0
	order := make([]int, nTrain)
	for i := range order {
		order[i] = i
	}
	for epoch := 0; epoch < m.Epochs; epoch++ {
		rng.Shuffle(nTrain, func(i, j int) { order[i], order[j] = order[j], order[i] })
		var lossSum, correct, seen float64
		for s := 0; s < nTrain; s += m.BatchSize {
			e := s + m.BatchSize
			if e > nTrain {
				e = nTrain
			}
			batch := order[s:e]
			loss, hits := m.step(data, enc, weights, batch, rng, opt)
			lossSum += loss * float64(len(batch))
			correct += hits
			seen += float64(len(batch))
		}
		m.History.Loss = append(m.History.Loss, lossSum/seen)
		m.History.Accuracy = append(m.History.Accuracy, correct/seen)

		monitor := correct / seen
		if nVal > 0 {
			vl, va := m.evaluate(data, enc, weights, nTrain, n)
			m.History.ValLoss = append(m.History.ValLoss, vl)
			m.History.ValAccuracy = append(m.History.ValAccuracy, va)
			monitor = va
		}
		logger.Debug("epoch finished",
			log.EpochKey, epoch+1,
			log.LossKey, m.History.Loss[epoch],
			log.AccuracyKey, monitor,
		)

		if monitor > best {
			best = monitor
			m.BestEpoch = epoch + 1
			bestLayers = cloneLayers(m.Layers)
			wait = 0
			continue
		}
		wait++
		if wait >= m.Patience {
			break
		}
	}
	if bestLayers != nil {
		m.Layers = bestLayers
	}

	if m.State == nil {
		m.State = model.NewStateManager()
	}
	m.State.MarkFitted(p, n, len(classes))
	logger.Info("mlp fitted",
		log.ModelKindKey, m.Kind,
		log.SamplesKey, n,
		log.FeaturesKey, p,
		"epochs_run", len(m.History.Loss),
		"best_epoch", m.BestEpoch,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// initLayers uses Glorot-uniform weights and zero biases.
func (m *MLPClassifier) initLayers(p, k int, rng *rand.Rand) {
	sizes := append(append([]int{p}, m.HiddenLayerSizes...), k)
	m.Layers = make([]Layer, len(sizes)-1)
	for l := range m.Layers {
		in, out := sizes[l], sizes[l+1]
		limit := math.Sqrt(6 / float64(in+out))
		layer := Layer{In: in, Out: out, W: make([]float64, in*out), B: make([]float64, out)}
		for i := range layer.W {
			layer.W[i] = (rng.Float64()*2 - 1) * limit
		}
		if l < len(m.HiddenLayerSizes) {
			layer.Dropout = m.Dropouts[l]
			if m.BatchNorm {
				layer.BatchNorm = true
				layer.Gamma = ones(out)
				layer.Beta = make([]float64, out)
				layer.RunMean = make([]float64, out)
				layer.RunVar = ones(out)
			}
		}
		m.Layers[l] = layer
	}
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func cloneLayers(src []Layer) []Layer {
	out := make([]Layer, len(src))
	for i, l := range src {
		c := l
		c.W = append([]float64(nil), l.W...)
		c.B = append([]float64(nil), l.B...)
		if l.BatchNorm {
			c.Gamma = append([]float64(nil), l.Gamma...)
			c.Beta = append([]float64(nil), l.Beta...)
			c.RunMean = append([]float64(nil), l.RunMean...)
			c.RunVar = append([]float64(nil), l.RunVar...)
		}
		out[i] = c
	}
	return out
}

// paramSlices lists trainable parameters in a fixed order shared with
// the gradients built in step.
func (m *MLPClassifier) paramSlices() [][]float64 {
	var ps [][]float64
	for i := range m.Layers {
		l := &m.Layers[i]
		ps = append(ps, l.W, l.B)
		if l.BatchNorm {
			ps = append(ps, l.Gamma, l.Beta)
		}
	}
	return ps
}

// layerCache keeps the forward intermediates needed by backprop.
type layerCache struct {
	input  *mat.Dense
	z      *mat.Dense
	xhat   *mat.Dense
	invStd []float64
	mask   *mat.Dense
}

func takeRows(X *mat.Dense, rows []int) *mat.Dense {
	_, p := X.Dims()
	out := mat.NewDense(len(rows), p, nil)
	for i, r := range rows {
		out.SetRow(i, X.RawRowView(r))
	}
	return out
}

// forward runs the network. In training mode batch statistics and dropout
// are used and caches are returned.
func (m *MLPClassifier) forward(X *mat.Dense, training bool, rng *rand.Rand) (*mat.Dense, []layerCache) {
	var caches []layerCache
	h := X
	last := len(m.Layers) - 1
	for li := range m.Layers {
		layer := &m.Layers[li]
		b, _ := h.Dims()
		W := mat.NewDense(layer.In, layer.Out, layer.W)
		z := mat.NewDense(b, layer.Out, nil)
		z.Mul(h, W)
		for i := 0; i < b; i++ {
			row := z.RawRowView(i)
			for j := range row {
				row[j] += layer.B[j]
			}
		}
		if li == last {
			if training {
				caches = append(caches, layerCache{input: h})
			}
			return z, caches
		}

		c := layerCache{input: h, z: z}
		a := mat.DenseCopyOf(z)
		a.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, a)
		if layer.BatchNorm {
			a, c.xhat, c.invStd = layer.batchNorm(a, training)
		}
		if training && layer.Dropout > 0 {
			keep := 1 - layer.Dropout
			c.mask = mat.NewDense(b, layer.Out, nil)
			c.mask.Apply(func(_, _ int, _ float64) float64 {
				if rng.Float64() < keep {
					return 1 / keep
				}
				return 0
			}, c.mask)
			a.MulElem(a, c.mask)
		}
		if training {
			caches = append(caches, c)
		}
		h = a
	}
	return h, caches
}

// batchNorm normalises a per column and returns (γ·x̂+β, x̂, 1/σ).
func (l *Layer) batchNorm(a *mat.Dense, training bool) (*mat.Dense, *mat.Dense, []float64) {
	b, out := a.Dims()
	mean := make([]float64, out)
	variance := make([]float64, out)
	if training {
		for i := 0; i < b; i++ {
			for j, v := range a.RawRowView(i) {
				mean[j] += v
			}
		}
		for j := range mean {
			mean[j] /= float64(b)
		}
		for i := 0; i < b; i++ {
			for j, v := range a.RawRowView(i) {
				d := v - mean[j]
				variance[j] += d * d
			}
		}
		for j := range variance {
			variance[j] /= float64(b)
			l.RunMean[j] = bnMomentum*l.RunMean[j] + (1-bnMomentum)*mean[j]
			l.RunVar[j] = bnMomentum*l.RunVar[j] + (1-bnMomentum)*variance[j]
		}
	} else {
		copy(mean, l.RunMean)
		copy(variance, l.RunVar)
	}
	invStd := make([]float64, out)
	for j := range invStd {
		invStd[j] = 1 / math.Sqrt(variance[j]+bnEpsilon)
	}
	xhat := mat.NewDense(b, out, nil)
	y := mat.NewDense(b, out, nil)
	for i := 0; i < b; i++ {
		src := a.RawRowView(i)
		xr := xhat.RawRowView(i)
		yr := y.RawRowView(i)
		for j := range src {
			xr[j] = (src[j] - mean[j]) * invStd[j]
			yr[j] = l.Gamma[j]*xr[j] + l.Beta[j]
		}
	}
	return y, xhat, invStd
}

// step runs one mini-batch update and returns the weighted mean loss and the
// number of correct predictions.
func (m *MLPClassifier) step(X *mat.Dense, enc []int, sw []float64, batch []int, rng *rand.Rand, opt *adam) (float64, float64) {
	xb := takeRows(X, batch)
	logits, caches := m.forward(xb, true, rng)
	b, k := logits.Dims()

	// dL/dlogits = w·(softmax − onehot)/b
	delta := mat.NewDense(b, k, nil)
	loss, hits := 0.0, 0.0
	for i, r := range batch {
		row := append([]float64(nil), logits.RawRowView(i)...)
		lse := scierrors.LogSumExp(row)
		loss += sw[r] * (lse - row[enc[r]])
		if argmax(row) == enc[r] {
			hits++
		}
		scierrors.SoftmaxInPlace(row)
		row[enc[r]]--
		dr := delta.RawRowView(i)
		for j := range row {
			dr[j] = sw[r] * row[j] / float64(b)
		}
	}

	// 勾配は paramSlices と同じ順序 (W, B, γ, β) で並べる
	perLayer := make([][][]float64, len(m.Layers))
	for li := len(m.Layers) - 1; li >= 0; li-- {
		layer := &m.Layers[li]
		c := caches[li]
		var dGamma, dBeta []float64
		if li < len(m.Layers)-1 {
			if c.mask != nil {
				delta.MulElem(delta, c.mask)
			}
			if layer.BatchNorm {
				delta, dGamma, dBeta = layer.batchNormBackward(delta, c.xhat, c.invStd)
			}
			delta.Apply(func(i, j int, v float64) float64 {
				if c.z.At(i, j) <= 0 {
					return 0
				}
				return v
			}, delta)
		}
		gW := mat.NewDense(layer.In, layer.Out, nil)
		gW.Mul(c.input.T(), delta)
		gB := make([]float64, layer.Out)
		for i := 0; i < b; i++ {
			for j, v := range delta.RawRowView(i) {
				gB[j] += v
			}
		}
		perLayer[li] = [][]float64{gW.RawMatrix().Data, gB}
		if dGamma != nil {
			perLayer[li] = append(perLayer[li], dGamma, dBeta)
		}
		if li > 0 {
			W := mat.NewDense(layer.In, layer.Out, layer.W)
			next := mat.NewDense(b, layer.In, nil)
			next.Mul(delta, W.T())
			delta = next
		}
	}
	grads := make([][]float64, 0, 4*len(m.Layers))
	for _, g := range perLayer {
		grads = append(grads, g...)
	}
	opt.update(grads)
	return loss / float64(b), hits
}

// batchNormBackward returns dL/da, dγ and dβ given dL/dy.
func (l *Layer) batchNormBackward(dy, xhat *mat.Dense, invStd []float64) (*mat.Dense, []float64, []float64) {
	b, out := dy.Dims()
	dGamma := make([]float64, out)
	dBeta := make([]float64, out)
	sumDx := make([]float64, out)
	sumDxX := make([]float64, out)
	for i := 0; i < b; i++ {
		dr := dy.RawRowView(i)
		xr := xhat.RawRowView(i)
		for j := range dr {
			dGamma[j] += dr[j] * xr[j]
			dBeta[j] += dr[j]
			dx := dr[j] * l.Gamma[j]
			sumDx[j] += dx
			sumDxX[j] += dx * xr[j]
		}
	}
	da := mat.NewDense(b, out, nil)
	fb := float64(b)
	for i := 0; i < b; i++ {
		dr := dy.RawRowView(i)
		xr := xhat.RawRowView(i)
		ar := da.RawRowView(i)
		for j := range dr {
			dx := dr[j] * l.Gamma[j]
			ar[j] = invStd[j] / fb * (fb*dx - sumDx[j] - xr[j]*sumDxX[j])
		}
	}
	return da, dGamma, dBeta
}

func argmax(v []float64) int {
	best := 0
	for j := 1; j < len(v); j++ {
		if v[j] > v[best] {
			best = j
		}
	}
	return best
}

// evaluate returns weighted loss and accuracy on rows [from, to) in
// inference mode.
func (m *MLPClassifier) evaluate(X *mat.Dense, enc []int, sw []float64, from, to int) (float64, float64) {
	rows := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		rows = append(rows, i)
	}
	logits, _ := m.forward(takeRows(X, rows), false, nil)
	loss, hits := 0.0, 0.0
	for i, r := range rows {
		row := logits.RawRowView(i)
		loss += sw[r] * (scierrors.LogSumExp(row) - row[enc[r]])
		if argmax(row) == enc[r] {
			hits++
		}
	}
	return loss / float64(len(rows)), hits / float64(len(rows))
}

// PredictProba returns softmax probabilities in Classes() order.
func (m *MLPClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := m.State.RequireFitted("MLPClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	_, p := X.Dims()
	if err := m.State.CheckFeatures("MLPClassifier.PredictProba", p); err != nil {
		return nil, err
	}
	logits, _ := m.forward(mat.DenseCopyOf(X), false, nil)
	n, _ := logits.Dims()
	for i := 0; i < n; i++ {
		scierrors.SoftmaxInPlace(logits.RawRowView(i))
	}
	return logits, nil
}

// Predict returns the most probable class code per row.
func (m *MLPClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return model.ArgmaxLabels(proba, m.ClassCodes), nil
}

// GetParams returns hyperparameters.
func (m *MLPClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"kind":                m.Kind,
		"hidden_layer_sizes":  append([]int(nil), m.HiddenLayerSizes...),
		"dropout":             append([]float64(nil), m.Dropouts...),
		"batch_norm":          m.BatchNorm,
		"learning_rate_init":  m.LearningRate,
		"epochs":              m.Epochs,
		"batch_size":          m.BatchSize,
		"validation_fraction": m.ValidationFraction,
		"n_iter_no_change":    m.Patience,
		"class_weight":        m.ClassWeight.Param(),
		"random_state":        m.RandomState.Param(),
	}
}

// SetParams updates hyperparameters. "max_iter" is an alias of "epochs".
func (m *MLPClassifier) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		var err error
		switch k {
		case "hidden_layer_sizes":
			m.HiddenLayerSizes, err = intList(k, v)
		case "dropout":
			m.Dropouts, err = floatList(k, v)
		case "batch_norm":
			m.BatchNorm, err = model.ParamBool(k, v)
		case "learning_rate_init", "learning_rate":
			m.LearningRate, err = model.ParamFloat(k, v)
		case "epochs", "max_iter":
			m.Epochs, err = model.ParamInt(k, v)
		case "batch_size":
			m.BatchSize, err = model.ParamInt(k, v)
		case "validation_fraction", "validation_split":
			m.ValidationFraction, err = model.ParamFloat(k, v)
		case "n_iter_no_change", "patience":
			m.Patience, err = model.ParamInt(k, v)
		case "class_weight":
			m.ClassWeight, err = model.ParseClassWeight(k, v)
		case "random_state":
			m.RandomState, err = model.ParseSeed(k, v)
		default:
			return model.UnknownParam("MLPClassifier", k)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func intList(name string, v interface{}) ([]int, error) {
	switch x := v.(type) {
	case []int:
		return append([]int(nil), x...), nil
	case []interface{}:
		out := make([]int, len(x))
		for i, e := range x {
			n, err := model.ParamInt(name, e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	return nil, scierrors.NewValidationError(name, "expected a list of integers", v)
}

func floatList(name string, v interface{}) ([]float64, error) {
	switch x := v.(type) {
	case []float64:
		return append([]float64(nil), x...), nil
	case []interface{}:
		out := make([]float64, len(x))
		for i, e := range x {
			f, err := model.ParamFloat(name, e)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, scierrors.NewValidationError(name, "expected a list of numbers", v)
}

// Clone returns an unfitted copy.
func (m *MLPClassifier) Clone() model.Classifier {
	return &MLPClassifier{
		State:              model.NewStateManager(),
		Kind:               m.Kind,
		HiddenLayerSizes:   append([]int(nil), m.HiddenLayerSizes...),
		Dropouts:           append([]float64(nil), m.Dropouts...),
		BatchNorm:          m.BatchNorm,
		LearningRate:       m.LearningRate,
		Epochs:             m.Epochs,
		BatchSize:          m.BatchSize,
		ValidationFraction: m.ValidationFraction,
		Patience:           m.Patience,
		ClassWeight:        m.ClassWeight,
		RandomState:        m.RandomState,
	}
}

func (m *MLPClassifier) String() string {
	return fmt.Sprintf("MLPClassifier(kind=%s, hidden=%v, epochs=%d)", m.Kind, m.HiddenLayerSizes, m.Epochs)
}
