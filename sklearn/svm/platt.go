package svm

import "math"

// plattFit fits P(t=1|f) = 1/(1+exp(A·f+B)) on decision values f and ±1
// targets, using Newton's method with backtracking and Platt's smoothed
// targets.
func plattFit(f, t []float64) (float64, float64) {
	var prior1, prior0 float64
	for _, v := range t {
		if v > 0 {
			prior1++
		} else {
			prior0++
		}
	}
	const (
		maxIter = 100
		minStep = 1e-10
		sigma   = 1e-12
		eps     = 1e-5
	)
	hi := (prior1 + 1) / (prior1 + 2)
	lo := 1 / (prior0 + 2)
	target := make([]float64, len(t))
	for i, v := range t {
		if v > 0 {
			target[i] = hi
		} else {
			target[i] = lo
		}
	}

	objective := func(a, b float64) float64 {
		val := 0.0
		for i, fi := range f {
			z := fi*a + b
			if z >= 0 {
				val += target[i]*z + math.Log1p(math.Exp(-z))
			} else {
				val += (target[i]-1)*z + math.Log1p(math.Exp(z))
			}
		}
		return val
	}

	a, b := 0.0, math.Log((prior0+1)/(prior1+1))
	fval := objective(a, b)
	for it := 0; it < maxIter; it++ {
		h11, h22, h21, g1, g2 := sigma, sigma, 0.0, 0.0, 0.0
		for i, fi := range f {
			z := fi*a + b
			var p, q float64
			if z >= 0 {
				e := math.Exp(-z)
				p, q = e/(1+e), 1/(1+e)
			} else {
				e := math.Exp(z)
				p, q = 1/(1+e), e/(1+e)
			}
			d2 := p * q
			h11 += fi * fi * d2
			h22 += d2
			h21 += fi * d2
			d1 := target[i] - p
			g1 += fi * d1
			g2 += d1
		}
		if math.Abs(g1) < eps && math.Abs(g2) < eps {
			break
		}
		det := h11*h22 - h21*h21
		dA := -(h22*g1 - h21*g2) / det
		dB := -(-h21*g1 + h11*g2) / det
		gd := g1*dA + g2*dB

		step := 1.0
		for step >= minStep {
			na, nb := a+step*dA, b+step*dB
			nf := objective(na, nb)
			if nf < fval+1e-4*step*gd {
				a, b, fval = na, nb, nf
				break
			}
			step /= 2
		}
		if step < minStep {
			break
		}
	}
	return a, b
}

func plattProb(f, a, b float64) float64 {
	z := f*a + b
	if z >= 0 {
		e := math.Exp(-z)
		return e / (1 + e)
	}
	return 1 / (1 + math.Exp(z))
}
