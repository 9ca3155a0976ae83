package oc

import "gonum.org/v1/gonum/mat"

// Controller computes a control input from the current time and state.
type Controller interface {
	Compute(t float64, x State) Input
	Empty() bool
}

// LinearController is a time-indexed affine feedback law
//
//	u(t, x) = bias(t) + K(t)·x
//
// with a separate feedforward increment DeltaBias scaled into the bias by
// the line search. An empty controller signals "use the operating
// trajectory instead".
type LinearController struct {
	TimeStamp []float64
	Gain      []*mat.Dense // m×n
	Bias      []Input
	DeltaBias []Input
}

func (c *LinearController) Empty() bool { return c == nil || len(c.TimeStamp) == 0 }

func (c *LinearController) Clear() {
	c.TimeStamp = c.TimeStamp[:0]
	c.Gain = c.Gain[:0]
	c.Bias = c.Bias[:0]
	c.DeltaBias = c.DeltaBias[:0]
}

func (c *LinearController) Clone() *LinearController {
	out := &LinearController{
		TimeStamp: append([]float64(nil), c.TimeStamp...),
		Gain:      make([]*mat.Dense, len(c.Gain)),
		Bias:      make([]Input, len(c.Bias)),
		DeltaBias: make([]Input, len(c.DeltaBias)),
	}
	for i, k := range c.Gain {
		out.Gain[i] = mat.DenseCopyOf(k)
	}
	for i, b := range c.Bias {
		out.Bias[i] = b.Clone()
	}
	for i, d := range c.DeltaBias {
		out.DeltaBias[i] = d.Clone()
	}
	return out
}

// Compute interpolates the gain and bias at t and evaluates the law.
func (c *LinearController) Compute(t float64, x State) Input {
	ia := TimeSegment(t, c.TimeStamp)
	k := InterpMat(ia, c.Gain)
	u := Interp(ia, c.Bias)
	if k == nil {
		return u
	}
	m, n := k.Dims()
	out := make(Input, m)
	for i := 0; i < m; i++ {
		v := u[i]
		for j := 0; j < n && j < len(x); j++ {
			v += k.At(i, j) * x[j]
		}
		out[i] = v
	}
	return out
}

// Concatenate appends entries [from, to) of other onto c.
func (c *LinearController) Concatenate(other *LinearController, from, to int) {
	if other.Empty() {
		return
	}
	if to > len(other.TimeStamp) {
		to = len(other.TimeStamp)
	}
	for k := from; k < to; k++ {
		c.TimeStamp = append(c.TimeStamp, other.TimeStamp[k])
		c.Gain = append(c.Gain, mat.DenseCopyOf(other.Gain[k]))
		c.Bias = append(c.Bias, other.Bias[k].Clone())
		if k < len(other.DeltaBias) {
			c.DeltaBias = append(c.DeltaBias, other.DeltaBias[k].Clone())
		}
	}
}

// FeedforwardController replays a stored input trajectory, ignoring state.
type FeedforwardController struct {
	Times  []float64
	Inputs []Input
}

func (c *FeedforwardController) Empty() bool { return c == nil || len(c.Times) == 0 }

func (c *FeedforwardController) Compute(t float64, _ State) Input {
	return Interp(TimeSegment(t, c.Times), c.Inputs)
}
