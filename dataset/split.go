package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

// StratifiedSplit returns train and test row indices with class proportions
// preserved. Sizes follow scikit-learn: n_test = ceil(testSize*n) and
// n_train = n - n_test. Per-class counts are allocated by largest remainder,
// the train share first and the test share from what is left.
func StratifiedSplit(y []string, testSize float64, seed int64) (train, test []int, err error) {
	n := len(y)
	if n == 0 {
		return nil, nil, scierrors.Wrap(scierrors.ErrEmptyData, "StratifiedSplit")
	}
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, scierrors.NewValidationError("test_size", "must be within (0, 1)", testSize)
	}

	classes := UniqueLabels(y)
	byClass := make(map[string][]int, len(classes))
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	counts := make([]int, len(classes))
	minCount := n
	for k, c := range classes {
		counts[k] = len(byClass[c])
		if counts[k] < minCount {
			minCount = counts[k]
		}
	}
	if minCount < 2 {
		return nil, nil, scierrors.NewValueError("StratifiedSplit",
			"the least populated class in y has only 1 member, which is too few. "+
				"The minimum number of groups for any class cannot be less than 2")
	}

	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest
	if nTrain < len(classes) || nTest < len(classes) {
		return nil, nil, scierrors.NewValueError("StratifiedSplit",
			fmt.Sprintf("train size %d and test size %d should be greater or equal to the number of classes %d",
				nTrain, nTest, len(classes)))
	}

	rng := rand.New(rand.NewSource(seed))
	trainCounts := allocate(counts, nTrain)
	remaining := make([]int, len(counts))
	for k := range counts {
		remaining[k] = counts[k] - trainCounts[k]
	}
	testCounts := allocate(remaining, nTest)

	for k, c := range classes {
		idx := append([]int(nil), byClass[c]...)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		train = append(train, idx[:trainCounts[k]]...)
		test = append(test, idx[trainCounts[k]:trainCounts[k]+testCounts[k]]...)
	}
	rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })
	rng.Shuffle(len(test), func(i, j int) { test[i], test[j] = test[j], test[i] })
	return train, test, nil
}

// allocate distributes total draws over classes proportionally to counts,
// never exceeding a class count. Remainders go to the largest fractional
// parts, ties broken by class order.
func allocate(counts []int, total int) []int {
	sum := 0
	for _, c := range counts {
		sum += c
	}
	out := make([]int, len(counts))
	if sum == 0 {
		return out
	}
	type rem struct {
		k    int
		frac float64
	}
	rems := make([]rem, len(counts))
	assigned := 0
	for k, c := range counts {
		exact := float64(total) * float64(c) / float64(sum)
		out[k] = int(math.Floor(exact))
		assigned += out[k]
		rems[k] = rem{k: k, frac: exact - float64(out[k])}
	}
	sort.SliceStable(rems, func(a, b int) bool { return rems[a].frac > rems[b].frac })
	for left := total - assigned; left > 0; {
		progressed := false
		for _, r := range rems {
			if left == 0 {
				break
			}
			if out[r.k] < counts[r.k] {
				out[r.k]++
				left--
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return out
}
