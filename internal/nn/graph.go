// Package nn is a small reverse-mode autodiff engine over float64 vectors.
// Forward ops record backward closures; Backward walks the recorded graph in
// reverse topological order and accumulates gradients.
package nn

import "math"

// Node is anything in the compute graph.
type Node interface {
	getChildren() []Node
	doBackward()
}

// Vec is a differentiable vector. One object is one layer activation, input
// row or parameter row.
type Vec struct {
	Data     []float64
	Grad     []float64
	children []Node
	backFn   func()
}

func NewVec(data []float64) *Vec {
	return &Vec{Data: data, Grad: make([]float64, len(data))}
}

func NewVecZero(n int) *Vec {
	return NewVec(make([]float64, n))
}

func (v *Vec) getChildren() []Node { return v.children }
func (v *Vec) doBackward() {
	if v.backFn != nil {
		v.backFn()
	}
}

// Add returns self + other element-wise.
func (v *Vec) Add(other *Vec) *Vec {
	n := len(v.Data)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = v.Data[i] + other.Data[i]
	}
	out := NewVec(d)
	out.children = []Node{v, other}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += out.Grad[i]
			other.Grad[i] += out.Grad[i]
		}
	}
	return out
}

// Sub returns self - other element-wise.
func (v *Vec) Sub(other *Vec) *Vec {
	n := len(v.Data)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = v.Data[i] - other.Data[i]
	}
	out := NewVec(d)
	out.children = []Node{v, other}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += out.Grad[i]
			other.Grad[i] -= out.Grad[i]
		}
	}
	return out
}

// MulVec returns the element-wise product self * other.
func (v *Vec) MulVec(other *Vec) *Vec {
	n := len(v.Data)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = v.Data[i] * other.Data[i]
	}
	out := NewVec(d)
	out.children = []Node{v, other}
	vData := v.Data
	oData := other.Data
	out.backFn = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += oData[i] * out.Grad[i]
			other.Grad[i] += vData[i] * out.Grad[i]
		}
	}
	return out
}

// Scale returns self * s.
func (v *Vec) Scale(s float64) *Vec {
	n := len(v.Data)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = v.Data[i] * s
	}
	out := NewVec(d)
	out.children = []Node{v}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += s * out.Grad[i]
		}
	}
	return out
}

// AddScalar returns self + s broadcast over every element.
func (v *Vec) AddScalar(s float64) *Vec {
	n := len(v.Data)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = v.Data[i] + s
	}
	out := NewVec(d)
	out.children = []Node{v}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += out.Grad[i]
		}
	}
	return out
}

// ReLU applies max(0, x) element-wise.
func (v *Vec) ReLU() *Vec {
	n := len(v.Data)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		if v.Data[i] > 0 {
			d[i] = v.Data[i]
		}
	}
	out := NewVec(d)
	out.children = []Node{v}
	vData := v.Data
	out.backFn = func() {
		for i := 0; i < n; i++ {
			if vData[i] > 0 {
				v.Grad[i] += out.Grad[i]
			}
		}
	}
	return out
}

// Exp applies e^x element-wise.
func (v *Vec) Exp() *Vec {
	n := len(v.Data)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = math.Exp(v.Data[i])
	}
	out := NewVec(d)
	out.children = []Node{v}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += d[i] * out.Grad[i]
		}
	}
	return out
}

// Sum returns the scalar sum of all elements.
func (v *Vec) Sum() *Scalar {
	n := len(v.Data)
	val := 0.0
	for i := 0; i < n; i++ {
		val += v.Data[i]
	}
	out := &Scalar{Data: val}
	out.children = []Node{v}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += out.Grad
		}
	}
	return out
}

// MeanSq returns the mean of squared elements.
func (v *Vec) MeanSq() *Scalar {
	n := len(v.Data)
	nf := float64(n)
	val := 0.0
	for i := 0; i < n; i++ {
		val += v.Data[i] * v.Data[i]
	}
	val /= nf
	out := &Scalar{Data: val}
	out.children = []Node{v}
	vData := v.Data
	out.backFn = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += (2.0 * vData[i] / nf) * out.Grad
		}
	}
	return out
}

// Concat joins multiple vectors into one.
func Concat(vecs []*Vec) *Vec {
	total := 0
	for _, v := range vecs {
		total += len(v.Data)
	}
	d := make([]float64, 0, total)
	kids := make([]Node, len(vecs))
	for i, v := range vecs {
		d = append(d, v.Data...)
		kids[i] = v
	}
	out := NewVec(d)
	out.children = kids
	out.backFn = func() {
		offset := 0
		for _, v := range vecs {
			n := len(v.Data)
			for i := 0; i < n; i++ {
				v.Grad[i] += out.Grad[offset+i]
			}
			offset += n
		}
	}
	return out
}

// Scalar is a differentiable scalar, used for losses.
type Scalar struct {
	Data     float64
	Grad     float64
	children []Node
	backFn   func()
}

func NewScalar(data float64) *Scalar {
	return &Scalar{Data: data}
}

func (s *Scalar) getChildren() []Node { return s.children }
func (s *Scalar) doBackward() {
	if s.backFn != nil {
		s.backFn()
	}
}

// AddS returns self + other.
func (s *Scalar) AddS(other *Scalar) *Scalar {
	out := &Scalar{Data: s.Data + other.Data}
	out.children = []Node{s, other}
	out.backFn = func() {
		s.Grad += out.Grad
		other.Grad += out.Grad
	}
	return out
}

// MulF returns self * f.
func (s *Scalar) MulF(f float64) *Scalar {
	out := &Scalar{Data: s.Data * f}
	out.children = []Node{s}
	out.backFn = func() {
		s.Grad += f * out.Grad
	}
	return out
}

// Backward runs reverse-mode differentiation from root, seeding its gradient
// with one. Gradients accumulate, so fresh graphs expect zeroed grads.
func Backward(root Node) {
	topo := make([]Node, 0)
	visited := make(map[Node]bool)

	var build func(n Node)
	build = func(n Node) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, c := range n.getChildren() {
			build(c)
		}
		topo = append(topo, n)
	}
	build(root)

	switch r := root.(type) {
	case *Scalar:
		r.Grad = 1.0
	case *Vec:
		for i := range r.Grad {
			r.Grad[i] = 1.0
		}
	}

	for i := len(topo) - 1; i >= 0; i-- {
		topo[i].doBackward()
	}
}
