// Package model_selection provides cross-validation splitters, parameter
// grids and an exhaustive grid search over pipelines.
package model_selection

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

// Splitter produces train/test index folds for a target vector.
type Splitter interface {
	Split(y []int) ([]Fold, error)
	GetNSplits() int
}

// Fold represents a single fold in cross-validation
type Fold struct {
	TrainIndices []int
	TestIndices  []int
}

// KFold implements k-fold cross-validation splitter
type KFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int64
}

// NewKFold creates a new k-fold splitter
func NewKFold(nSplits int, shuffle bool, randomSeed int64) *KFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &KFold{NSplits: nSplits, Shuffle: shuffle, RandomSeed: randomSeed}
}

// GetNSplits returns the number of splits
func (kf *KFold) GetNSplits() int { return kf.NSplits }

// Split generates train/test indices for each fold. The first n%k folds get
// one extra test sample.
func (kf *KFold) Split(y []int) ([]Fold, error) {
	n := len(y)
	if kf.NSplits < 2 {
		return nil, errors.NewValidationError("n_splits", "must be at least 2", kf.NSplits)
	}
	if n < kf.NSplits {
		return nil, errors.NewValueError("KFold.Split",
			fmt.Sprintf("cannot have number of splits n_splits=%d greater than the number of samples: n_samples=%d", kf.NSplits, n))
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if kf.Shuffle {
		r := rand.New(rand.NewSource(kf.RandomSeed))
		r.Shuffle(n, func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
	}

	foldOf := make([]int, n)
	size, rem := n/kf.NSplits, n%kf.NSplits
	pos := 0
	for f := 0; f < kf.NSplits; f++ {
		testSize := size
		if f < rem {
			testSize++
		}
		for _, idx := range indices[pos : pos+testSize] {
			foldOf[idx] = f
		}
		pos += testSize
	}
	return buildFolds(foldOf, kf.NSplits), nil
}

// StratifiedKFold implements stratified k-fold cross-validation. Classes are
// processed in ascending order so fold assignment is deterministic for a
// given seed.
type StratifiedKFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int64
}

// NewStratifiedKFold creates a new stratified k-fold splitter
func NewStratifiedKFold(nSplits int, shuffle bool, randomSeed int64) *StratifiedKFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &StratifiedKFold{NSplits: nSplits, Shuffle: shuffle, RandomSeed: randomSeed}
}

// GetNSplits returns the number of splits
func (skf *StratifiedKFold) GetNSplits() int { return skf.NSplits }

// Split distributes the members of every class across folds. A remainder
// carried between classes keeps fold sizes within one sample of each other.
func (skf *StratifiedKFold) Split(y []int) ([]Fold, error) {
	if skf.NSplits < 2 {
		return nil, errors.NewValidationError("n_splits", "must be at least 2", skf.NSplits)
	}
	byClass := make(map[int][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	largest := 0
	for c, members := range byClass {
		classes = append(classes, c)
		if len(members) > largest {
			largest = len(members)
		}
	}
	sort.Ints(classes)

	if largest < skf.NSplits {
		return nil, errors.NewValueError("StratifiedKFold.Split",
			fmt.Sprintf("n_splits=%d cannot be greater than the number of members in each class", skf.NSplits))
	}
	for _, c := range classes {
		if len(byClass[c]) < skf.NSplits {
			log.GetLoggerWithName("model_selection").Warn("least populated class has fewer members than n_splits",
				"class", c, "members", len(byClass[c]), "n_splits", skf.NSplits)
			break
		}
	}

	var r *rand.Rand
	if skf.Shuffle {
		r = rand.New(rand.NewSource(skf.RandomSeed))
	}
	foldOf := make([]int, len(y))
	next := 0
	for _, c := range classes {
		members := byClass[c]
		if r != nil {
			r.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		}
		// contiguous chunks per class, the remainder continues where the
		// previous class stopped
		size, rem := len(members)/skf.NSplits, len(members)%skf.NSplits
		pos := 0
		for f := 0; f < skf.NSplits; f++ {
			testSize := size
			if (f-next+skf.NSplits)%skf.NSplits < rem {
				testSize++
			}
			for _, idx := range members[pos : pos+testSize] {
				foldOf[idx] = f
			}
			pos += testSize
		}
		next = (next + rem) % skf.NSplits
	}
	return buildFolds(foldOf, skf.NSplits), nil
}

func buildFolds(foldOf []int, k int) []Fold {
	folds := make([]Fold, k)
	for i, f := range foldOf {
		folds[f].TestIndices = append(folds[f].TestIndices, i)
		for o := 0; o < k; o++ {
			if o != f {
				folds[o].TrainIndices = append(folds[o].TrainIndices, i)
			}
		}
	}
	return folds
}
