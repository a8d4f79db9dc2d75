package model_selection

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/YuminosukeSato/exoml/core/parallel"
	"github.com/YuminosukeSato/exoml/dataset"
	"github.com/YuminosukeSato/exoml/metrics"
	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

// Estimator is what GridSearchCV tunes: a frame-level classifier whose
// Clone returns its own concrete type.
type Estimator[E any] interface {
	Fit(X *dataset.Frame, y []string) error
	Predict(X *dataset.Frame) ([]string, error)
	GetParams() map[string]interface{}
	SetParams(params map[string]interface{}) error
	Clone() E
}

// CVResults mirrors sklearn's cv_results_ for the fields we report.
type CVResults struct {
	Params        []map[string]interface{} `json:"params"`
	SplitScores   [][]float64              `json:"split_test_scores"`
	MeanTestScore []float64                `json:"mean_test_score"`
	StdTestScore  []float64                `json:"std_test_score"`
	RankTestScore []int                    `json:"rank_test_score"`
}

// GridSearchCV evaluates every candidate of Grid with stratified k-fold
// cross-validation and, when Refit is set, refits the best candidate on all
// data.
type GridSearchCV[E Estimator[E]] struct {
	Estimator E
	Grid      ParamGrid
	Scoring   string
	CV        int
	Refit     bool
	NJobs     int

	// 学習後に設定される
	BestParams    map[string]interface{}
	BestScore     float64
	BestIndex     int
	BestEstimator E
	CVResults     CVResults
	fitted        bool
}

// NewGridSearchCV creates a search with sklearn defaults (cv=5, refit).
func NewGridSearchCV[E Estimator[E]](est E, grid ParamGrid, scoring string) *GridSearchCV[E] {
	return &GridSearchCV[E]{
		Estimator: est,
		Grid:      grid,
		Scoring:   scoring,
		CV:        5,
		Refit:     true,
		NJobs:     1,
	}
}

// Validate checks the grid, the scorer and that every candidate is accepted
// by the estimator, without fitting anything.
func (gs *GridSearchCV[E]) Validate() error {
	if err := gs.Grid.Validate(); err != nil {
		return err
	}
	if _, err := metrics.Scorer(gs.Scoring); err != nil {
		return err
	}
	if gs.CV < 2 {
		return errors.NewValidationError("cv", "must be at least 2", gs.CV)
	}
	for _, cand := range gs.Grid.Expand() {
		if err := gs.Estimator.Clone().SetParams(cand); err != nil {
			return errors.Wrap(err, "invalid grid candidate")
		}
	}
	return nil
}

// Fit runs candidate × fold fits in parallel and records the results.
func (gs *GridSearchCV[E]) Fit(X *dataset.Frame, y []string) error {
	start := time.Now()
	if err := gs.Validate(); err != nil {
		return err
	}
	if X.NRows() != len(y) {
		return errors.NewDimensionError("GridSearchCV.Fit", X.NRows(), len(y), 0)
	}
	score, _ := metrics.Scorer(gs.Scoring)

	// スコアラーは整数コードで動くので文字列ラベルを符号化する
	labels := dataset.UniqueLabels(y)
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	codes := make([]int, len(y))
	for i, l := range y {
		codes[i] = index[l]
	}
	folds, err := NewStratifiedKFold(gs.CV, false, 0).Split(codes)
	if err != nil {
		return err
	}

	candidates := gs.Grid.Expand()
	nFolds := len(folds)
	split := make([][]float64, len(candidates))
	for c := range split {
		split[c] = make([]float64, nFolds)
	}
	logger := log.GetLoggerWithName("model_selection")
	logger.Info("grid search started",
		"candidates", len(candidates),
		"folds", nFolds,
		"fits", len(candidates)*nFolds,
		log.ScoreKey, gs.Scoring,
	)

	var mu sync.Mutex
	err = parallel.ForEach(len(candidates)*nFolds, parallel.Workers(gs.NJobs), func(job int) error {
		c, f := job/nFolds, job%nFolds
		est := gs.Estimator.Clone()
		if err := est.SetParams(candidates[c]); err != nil {
			return err
		}
		fold := folds[f]
		if err := est.Fit(X.Take(fold.TrainIndices), takeLabels(y, fold.TrainIndices)); err != nil {
			return errors.Wrapf(err, "candidate %d fold %d", c, f)
		}
		pred, err := est.Predict(X.Take(fold.TestIndices))
		if err != nil {
			return err
		}
		yTrue := make([]int, len(fold.TestIndices))
		yPred := make([]int, len(pred))
		for i, r := range fold.TestIndices {
			yTrue[i] = codes[r]
		}
		for i, l := range pred {
			code, ok := index[l]
			if !ok {
				code = -1
			}
			yPred[i] = code
		}
		s, err := score(yTrue, yPred)
		if err != nil {
			return err
		}
		mu.Lock()
		split[c][f] = s
		mu.Unlock()
		logger.Debug("fold scored", log.FoldKey, f, "candidate", c, log.ScoreKey, s)
		return nil
	})
	if err != nil {
		return err
	}

	gs.CVResults = summarize(candidates, split)
	gs.BestIndex = 0
	for c, m := range gs.CVResults.MeanTestScore {
		if m > gs.CVResults.MeanTestScore[gs.BestIndex] {
			gs.BestIndex = c
		}
	}
	gs.BestScore = gs.CVResults.MeanTestScore[gs.BestIndex]
	gs.BestParams = candidates[gs.BestIndex]

	if gs.Refit {
		best := gs.Estimator.Clone()
		if err := best.SetParams(gs.BestParams); err != nil {
			return err
		}
		if err := best.Fit(X, y); err != nil {
			return errors.Wrap(err, "refit of best candidate failed")
		}
		gs.BestEstimator = best
	}
	gs.fitted = true
	logger.Info("grid search finished",
		log.HyperParamsKey, gs.BestParams,
		log.ScoreKey, gs.BestScore,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// Predict delegates to the refitted best estimator.
func (gs *GridSearchCV[E]) Predict(X *dataset.Frame) ([]string, error) {
	if !gs.fitted || !gs.Refit {
		return nil, errors.NewNotFittedError("GridSearchCV", "Predict")
	}
	return gs.BestEstimator.Predict(X)
}

func takeLabels(y []string, rows []int) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = y[r]
	}
	return out
}

func summarize(candidates []map[string]interface{}, split [][]float64) CVResults {
	res := CVResults{
		Params:        candidates,
		SplitScores:   split,
		MeanTestScore: make([]float64, len(split)),
		StdTestScore:  make([]float64, len(split)),
		RankTestScore: make([]int, len(split)),
	}
	for c, scores := range split {
		mean := 0.0
		for _, s := range scores {
			mean += s
		}
		mean /= float64(len(scores))
		variance := 0.0
		for _, s := range scores {
			variance += (s - mean) * (s - mean)
		}
		res.MeanTestScore[c] = mean
		res.StdTestScore[c] = math.Sqrt(variance / float64(len(scores)))
	}
	order := make([]int, len(split))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return res.MeanTestScore[order[a]] > res.MeanTestScore[order[b]]
	})
	// 同点は同順位 (sklearn の rank method="min")
	for pos, c := range order {
		rank := pos + 1
		if pos > 0 && res.MeanTestScore[c] == res.MeanTestScore[order[pos-1]] {
			rank = res.RankTestScore[order[pos-1]]
		}
		res.RankTestScore[c] = rank
	}
	return res
}
