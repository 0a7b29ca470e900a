package nn

import "math"

// AdamState carries first and second moment estimates for one parameter set.
// M and V are laid out parallel to the parameter slice handed to Step.
type AdamState struct {
	M     [][]float64
	V     [][]float64
	T     int
	Beta1 float64
	Beta2 float64
	Eps   float64
}

func NewAdamState(params []*Vec, beta1, beta2, eps float64) *AdamState {
	m := make([][]float64, len(params))
	v := make([][]float64, len(params))
	for i, p := range params {
		m[i] = make([]float64, len(p.Data))
		v[i] = make([]float64, len(p.Data))
	}
	return &AdamState{M: m, V: v, Beta1: beta1, Beta2: beta2, Eps: eps}
}

// Step applies one bias-corrected Adam update and zeroes the gradients. The
// params slice must be the same set, in the same order, as at construction.
func (st *AdamState) Step(params []*Vec, lr, clip float64) {
	st.T++
	t := st.T
	b1, b2, eps := st.Beta1, st.Beta2, st.Eps
	b1Corr := 1.0 - math.Pow(b1, float64(t))
	b2Corr := 1.0 - math.Pow(b2, float64(t))

	ClipParams(params, clip)

	for i, p := range params {
		mi := st.M[i]
		vi := st.V[i]
		for j := 0; j < len(p.Data); j++ {
			g := p.Grad[j]
			mi[j] = b1*mi[j] + (1-b1)*g
			vi[j] = b2*vi[j] + (1-b2)*(g*g)
			mhat := mi[j] / b1Corr
			vhat := vi[j] / b2Corr
			p.Data[j] -= lr * mhat / (math.Sqrt(vhat) + eps)
			p.Grad[j] = 0.0
		}
	}
}
