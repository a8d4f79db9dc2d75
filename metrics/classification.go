package metrics

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/exoml/pkg/errors"
)

// Label はメトリクスが扱うクラスラベルの型制約
// エンコード済みのクラスコード(int)と元の文字列ラベルの両方を受け付ける
type Label interface {
	cmp.Ordered
}

func checkPair[T Label](op string, yTrue, yPred []T) error {
	if len(yTrue) == 0 {
		return errors.NewValueError(op, "empty input")
	}
	if len(yPred) != len(yTrue) {
		return errors.NewDimensionError(op, len(yTrue), len(yPred), 0)
	}
	return nil
}

// UniqueLabels は yTrue と yPred に現れるラベルの和集合をソートして返す
func UniqueLabels[T Label](yTrue, yPred []T) []T {
	seen := make(map[T]struct{})
	for _, v := range yTrue {
		seen[v] = struct{}{}
	}
	for _, v := range yPred {
		seen[v] = struct{}{}
	}
	out := make([]T, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Accuracy は正解率を計算する
func Accuracy[T Label](yTrue, yPred []T) (float64, error) {
	if err := checkPair("Accuracy", yTrue, yPred); err != nil {
		return 0, err
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue)), nil
}

// ConfusionMatrix は混同行列を計算する。行が真のラベル、列が予測ラベル。
// labels が nil の場合は両系列の和集合をソートして使う。labels に含まれない
// サンプルは無視される。
func ConfusionMatrix[T Label](yTrue, yPred, labels []T) ([][]int, []T, error) {
	if err := checkPair("ConfusionMatrix", yTrue, yPred); err != nil {
		return nil, nil, err
	}
	if labels == nil {
		labels = UniqueLabels(yTrue, yPred)
	}
	index := make(map[T]int, len(labels))
	for i, l := range labels {
		if _, dup := index[l]; dup {
			return nil, nil, errors.NewValueError("ConfusionMatrix", fmt.Sprintf("duplicate label %v", l))
		}
		index[l] = i
	}
	cm := make([][]int, len(labels))
	for i := range cm {
		cm[i] = make([]int, len(labels))
	}
	for i := range yTrue {
		t, okT := index[yTrue[i]]
		p, okP := index[yPred[i]]
		if okT && okP {
			cm[t][p]++
		}
	}
	return cm, labels, nil
}

// ClassScores holds per-class precision, recall, F1 and support.
type ClassScores struct {
	Precision []float64
	Recall    []float64
	F1        []float64
	Support   []int
}

// PrecisionRecallFScoreSupport computes per-class scores in labels order.
// An undefined precision or recall (zero denominator) is reported as 0 and
// emits an UndefinedMetricWarning.
func PrecisionRecallFScoreSupport[T Label](yTrue, yPred, labels []T) (*ClassScores, []T, error) {
	cm, labels, err := ConfusionMatrix(yTrue, yPred, labels)
	if err != nil {
		return nil, nil, err
	}
	k := len(labels)
	s := &ClassScores{
		Precision: make([]float64, k),
		Recall:    make([]float64, k),
		F1:        make([]float64, k),
		Support:   make([]int, k),
	}
	var noPred, noTrue []string
	for c := 0; c < k; c++ {
		tp := cm[c][c]
		predicted, actual := 0, 0
		for o := 0; o < k; o++ {
			predicted += cm[o][c]
			actual += cm[c][o]
		}
		s.Support[c] = actual
		if predicted > 0 {
			s.Precision[c] = float64(tp) / float64(predicted)
		} else {
			noPred = append(noPred, fmt.Sprint(labels[c]))
		}
		if actual > 0 {
			s.Recall[c] = float64(tp) / float64(actual)
		} else {
			noTrue = append(noTrue, fmt.Sprint(labels[c]))
		}
		if sum := s.Precision[c] + s.Recall[c]; sum > 0 {
			s.F1[c] = 2 * s.Precision[c] * s.Recall[c] / sum
		}
	}
	if len(noPred) > 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("precision",
			"no predicted samples for labels "+strings.Join(noPred, ","), 0))
	}
	if len(noTrue) > 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("recall",
			"no true samples for labels "+strings.Join(noTrue, ","), 0))
	}
	return s, labels, nil
}

// BalancedAccuracy は各クラスの再現率の平均。真のラベルに現れないクラスは
// 平均から除外する。
func BalancedAccuracy[T Label](yTrue, yPred []T) (float64, error) {
	cm, _, err := ConfusionMatrix(yTrue, yPred, nil)
	if err != nil {
		return 0, err
	}
	sum, n := 0.0, 0
	for c := range cm {
		actual := 0
		for _, v := range cm[c] {
			actual += v
		}
		if actual == 0 {
			continue
		}
		sum += float64(cm[c][c]) / float64(actual)
		n++
	}
	if n == 0 {
		return 0, errors.NewValueError("BalancedAccuracy", "no classes with support")
	}
	return sum / float64(n), nil
}

// F1Macro はラベル和集合上の F1 の単純平均
func F1Macro[T Label](yTrue, yPred []T) (float64, error) {
	s, _, err := PrecisionRecallFScoreSupport(yTrue, yPred, nil)
	if err != nil {
		return 0, err
	}
	return mean(s.F1), nil
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// ClassificationReport renders per-class precision, recall, F1 and support
// followed by accuracy, macro avg and weighted avg rows, in the same text
// layout as scikit-learn's classification_report.
func ClassificationReport[T Label](yTrue, yPred, labels []T, digits int) (string, error) {
	if digits <= 0 {
		digits = 2
	}
	s, labels, err := PrecisionRecallFScoreSupport(yTrue, yPred, labels)
	if err != nil {
		return "", err
	}
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return "", err
	}

	names := make([]string, len(labels))
	width := len("weighted avg")
	for i, l := range labels {
		names[i] = fmt.Sprint(l)
		if len(names[i]) > width {
			width = len(names[i])
		}
	}
	if digits > width {
		width = digits
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%*s ", width, "")
	for _, h := range []string{"precision", "recall", "f1-score", "support"} {
		fmt.Fprintf(&b, " %9s", h)
	}
	b.WriteString("\n\n")

	row := func(name string, p, r, f float64, support int) {
		fmt.Fprintf(&b, "%*s  %9.*f %9.*f %9.*f %9d\n", width, name, digits, p, digits, r, digits, f, support)
	}
	total := 0
	for i := range labels {
		row(names[i], s.Precision[i], s.Recall[i], s.F1[i], s.Support[i])
		total += s.Support[i]
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "%*s  %9s %9s %9.*f %9d\n", width, "accuracy", "", "", digits, acc, total)
	row("macro avg", mean(s.Precision), mean(s.Recall), mean(s.F1), total)

	var wp, wr, wf float64
	if total > 0 {
		for i, n := range s.Support {
			w := float64(n) / float64(total)
			wp += w * s.Precision[i]
			wr += w * s.Recall[i]
			wf += w * s.F1[i]
		}
	}
	row("weighted avg", wp, wr, wf, total)
	return b.String(), nil
}

// LogLoss は多クラスの交差エントロピー損失を計算する
// proba の列はクラスコード順、確率は eps で切り詰め行ごとに正規化される
func LogLoss(yTrue []int, proba mat.Matrix) (float64, error) {
	r, c := proba.Dims()
	if len(yTrue) == 0 {
		return 0, errors.NewValueError("LogLoss", "empty input")
	}
	if r != len(yTrue) {
		return 0, errors.NewDimensionError("LogLoss", len(yTrue), r, 0)
	}
	const eps = 1e-15
	loss := 0.0
	for i, y := range yTrue {
		if y < 0 || y >= c {
			return 0, errors.NewValueError("LogLoss", fmt.Sprintf("label %d outside [0,%d)", y, c))
		}
		rowSum := 0.0
		for j := 0; j < c; j++ {
			rowSum += errors.ClipValue(proba.At(i, j), eps, 1-eps)
		}
		p := errors.ClipValue(proba.At(i, y), eps, 1-eps) / rowSum
		loss -= math.Log(p)
	}
	return loss / float64(len(yTrue)), nil
}

// ScoreFunc scores encoded predictions; larger is better.
type ScoreFunc func(yTrue, yPred []int) (float64, error)

// ScorerNames lists the names Scorer accepts.
func ScorerNames() []string {
	return []string{"accuracy", "balanced_accuracy", "f1_macro"}
}

// Scorer resolves a scoring name as used in the run configuration.
func Scorer(name string) (ScoreFunc, error) {
	switch name {
	case "accuracy":
		return Accuracy[int], nil
	case "balanced_accuracy":
		return BalancedAccuracy[int], nil
	case "f1_macro":
		return F1Macro[int], nil
	}
	return nil, errors.NewValidationError("scoring",
		"expected one of "+strings.Join(ScorerNames(), ", "), name)
}
