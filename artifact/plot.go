package artifact

import (
	"fmt"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/exoml/pkg/errors"
)

// countGrid adapts a confusion matrix to plotter.GridXYZ.
// 行 0 (最初の true ラベル) が上に来るように y を反転する。
type countGrid struct {
	cm [][]int
}

func (g countGrid) Dims() (c, r int) { return len(g.cm), len(g.cm) }

func (g countGrid) Z(c, r int) float64 {
	n := len(g.cm)
	return float64(g.cm[n-1-r][c])
}

func (g countGrid) X(c int) float64 { return float64(c) }
func (g countGrid) Y(r int) float64 { return float64(r) }

// SaveConfusionMatrixPlot renders cm as a heat map with the count written
// in every cell. Columns are predicted labels, rows are true labels.
func SaveConfusionMatrixPlot(path string, cm [][]int, labels []string, title string) (err error) {
	defer errors.Recover(&err, "SaveConfusionMatrixPlot")

	n := len(labels)
	if n == 0 {
		return errors.NewValueError("SaveConfusionMatrixPlot", "no labels to plot")
	}
	if len(cm) != n {
		return errors.NewDimensionError("SaveConfusionMatrixPlot", n, len(cm), 0)
	}
	lo, hi := 0.0, 0.0
	for _, row := range cm {
		if len(row) != n {
			return errors.NewDimensionError("SaveConfusionMatrixPlot", n, len(row), 1)
		}
		for _, v := range row {
			hi = max(hi, float64(v))
		}
	}
	if hi == lo {
		hi = lo + 1
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "True"

	grid := countGrid{cm: cm}
	hm := plotter.NewHeatMap(grid, palette.Heat(16, 1))
	hm.Min, hm.Max = lo, hi
	p.Add(hm)

	xys := make(plotter.XYs, 0, n*n)
	texts := make([]string, 0, n*n)
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			xys = append(xys, plotter.XY{X: grid.X(c), Y: grid.Y(r)})
			texts = append(texts, fmt.Sprint(int(grid.Z(c, r))))
		}
	}
	counts, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: texts})
	if err != nil {
		return errors.Wrap(err, "build cell labels")
	}
	for i := range counts.TextStyle {
		counts.TextStyle[i].XAlign = draw.XCenter
		counts.TextStyle[i].YAlign = draw.YCenter
	}
	p.Add(counts)

	reversed := make([]string, n)
	for i, l := range labels {
		reversed[n-1-i] = l
	}
	p.NominalX(labels...)
	p.NominalY(reversed...)

	size := vg.Length(4+n) * vg.Inch / 2
	if err := p.Save(size+vg.Inch, size, path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}

// SaveCurvePlot draws one line per named series against the epoch index.
func SaveCurvePlot(path, title, yLabel string, series map[string][]float64, order ...string) (err error) {
	defer errors.Recover(&err, "SaveCurvePlot")

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = yLabel

	var args []interface{}
	for _, name := range order {
		values := series[name]
		if len(values) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(values))
		for i, v := range values {
			pts[i] = plotter.XY{X: float64(i + 1), Y: v}
		}
		args = append(args, name, pts)
	}
	if len(args) == 0 {
		return errors.NewValueError("SaveCurvePlot", "no series to plot")
	}
	if err := plotutil.AddLinePoints(p, args...); err != nil {
		return errors.Wrap(err, "add curves")
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}

// SaveTrainingCurves writes dl_loss.png and dl_accuracy.png. If either
// plot fails the cause goes to plot_warn.txt and training continues.
func SaveTrainingCurves(dir string, loss, valLoss, acc, valAcc []float64) {
	lossPath := filepath.Join(dir, "dl_loss.png")
	err := SaveCurvePlot(lossPath, "Loss", "loss",
		map[string][]float64{"train": loss, "val": valLoss}, "train", "val")
	if err != nil {
		writePlotWarning(filepath.Join(dir, "plot_warn.txt"), lossPath, err)
		return
	}
	accPath := filepath.Join(dir, "dl_accuracy.png")
	err = SaveCurvePlot(accPath, "Accuracy", "accuracy",
		map[string][]float64{"train": acc, "val": valAcc}, "train", "val")
	if err != nil {
		writePlotWarning(filepath.Join(dir, "plot_warn.txt"), accPath, err)
	}
}
