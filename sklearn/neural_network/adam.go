package neural_network

import "math"

// adam は Kingma & Ba の Adam. 状態はパラメータスライスと同じ並び.
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	params                [][]float64
	m, v                  [][]float64
}

func newAdam(lr float64, params [][]float64) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7, params: params}
	a.m = make([][]float64, len(params))
	a.v = make([][]float64, len(params))
	for i, p := range params {
		a.m[i] = make([]float64, len(p))
		a.v[i] = make([]float64, len(p))
	}
	return a
}

// update applies one step in place. grads must align with params.
func (a *adam) update(grads [][]float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	step := a.lr * math.Sqrt(c2) / c1
	for i, g := range grads {
		p, m, v := a.params[i], a.m[i], a.v[i]
		for j, gj := range g {
			m[j] = a.beta1*m[j] + (1-a.beta1)*gj
			v[j] = a.beta2*v[j] + (1-a.beta2)*gj*gj
			p[j] -= step * m[j] / (math.Sqrt(v[j]) + a.eps)
		}
	}
}
