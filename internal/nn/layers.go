package nn

import "math/rand"

// MatrixParam is a weight matrix stored as rows of Vecs, shape (nout, nin).
type MatrixParam struct {
	Rows []*Vec
	Nout int
	Nin  int
}

// NewMatrixParam draws entries from N(0, std^2) using the supplied source so
// the same seed always yields the same weights.
func NewMatrixParam(nout, nin int, std float64, rng *rand.Rand) *MatrixParam {
	rows := make([]*Vec, nout)
	for i := 0; i < nout; i++ {
		d := make([]float64, nin)
		for j := 0; j < nin; j++ {
			d[j] = rng.NormFloat64() * std
		}
		rows[i] = NewVec(d)
	}
	return &MatrixParam{Rows: rows, Nout: nout, Nin: nin}
}

// Matvec computes matrix @ x.
func (m *MatrixParam) Matvec(x *Vec) *Vec {
	nout := m.Nout
	nin := len(x.Data)
	outData := make([]float64, nout)
	for i := 0; i < nout; i++ {
		sum := 0.0
		for j := 0; j < nin; j++ {
			sum += m.Rows[i].Data[j] * x.Data[j]
		}
		outData[i] = sum
	}

	kids := make([]Node, nout+1)
	for i := 0; i < nout; i++ {
		kids[i] = m.Rows[i]
	}
	kids[nout] = x

	out := NewVec(outData)
	out.children = kids
	rows := m.Rows
	out.backFn = func() {
		for i := 0; i < nout; i++ {
			g := out.Grad[i]
			for j := 0; j < nin; j++ {
				rows[i].Grad[j] += g * x.Data[j]
				x.Grad[j] += g * rows[i].Data[j]
			}
		}
	}
	return out
}

// Params returns all row vectors for the optimizer.
func (m *MatrixParam) Params() []*Vec {
	return m.Rows
}

// Dense is a fully connected layer: W @ x + b.
type Dense struct {
	W *MatrixParam
	B *Vec
}

func NewDense(nout, nin int, std float64, rng *rand.Rand) *Dense {
	return &Dense{
		W: NewMatrixParam(nout, nin, std, rng),
		B: NewVecZero(nout),
	}
}

func (d *Dense) Apply(x *Vec) *Vec {
	return d.W.Matvec(x).Add(d.B)
}

func (d *Dense) Params() []*Vec {
	out := make([]*Vec, 0, d.W.Nout+1)
	out = append(out, d.W.Params()...)
	out = append(out, d.B)
	return out
}

// ClipParams clamps every gradient to [-clip, clip]. Non-positive clip is a
// no-op.
func ClipParams(params []*Vec, clip float64) {
	if clip <= 0 {
		return
	}
	for _, p := range params {
		for j := range p.Grad {
			if p.Grad[j] > clip {
				p.Grad[j] = clip
			} else if p.Grad[j] < -clip {
				p.Grad[j] = -clip
			}
		}
	}
}
