package oc

// Trajectory is an ordered sequence of (time, state, input) samples. Times
// are strictly increasing except at a post-event index, where a repeated
// timestamp marks the pre/post-jump state pair.
type Trajectory struct {
	Times            []float64
	States           []State
	Inputs           []Input
	PostEventIndices []int
}

func (tr *Trajectory) Len() int { return len(tr.Times) }

func (tr *Trajectory) Empty() bool { return len(tr.Times) == 0 }

func (tr *Trajectory) Clear() {
	tr.Times = tr.Times[:0]
	tr.States = tr.States[:0]
	tr.Inputs = tr.Inputs[:0]
	tr.PostEventIndices = tr.PostEventIndices[:0]
}

func (tr *Trajectory) Clone() Trajectory {
	out := Trajectory{
		Times:            append([]float64(nil), tr.Times...),
		States:           make([]State, len(tr.States)),
		Inputs:           make([]Input, len(tr.Inputs)),
		PostEventIndices: append([]int(nil), tr.PostEventIndices...),
	}
	for i, x := range tr.States {
		out.States[i] = x.Clone()
	}
	for i, u := range tr.Inputs {
		out.Inputs[i] = u.Clone()
	}
	return out
}

// Append concatenates other onto tr, shifting other's post-event indices
// by the current length.
func (tr *Trajectory) Append(other Trajectory) {
	offset := len(tr.Times)
	tr.Times = append(tr.Times, other.Times...)
	tr.States = append(tr.States, other.States...)
	tr.Inputs = append(tr.Inputs, other.Inputs...)
	for _, idx := range other.PostEventIndices {
		tr.PostEventIndices = append(tr.PostEventIndices, idx+offset)
	}
}

// TrimLast drops the final sample. Post-event indices referring to the
// dropped sample are kept: the next appended sample takes its place, which
// preserves the marker when an operating-point tail resumes after an event.
func (tr *Trajectory) TrimLast() {
	if n := len(tr.Times); n > 0 {
		tr.Times = tr.Times[:n-1]
		tr.States = tr.States[:n-1]
		tr.Inputs = tr.Inputs[:n-1]
	}
}

// StateAt linearly interpolates the state at time t.
func (tr *Trajectory) StateAt(t float64) State {
	return Interp(TimeSegment(t, tr.Times), tr.States)
}

// InputAt linearly interpolates the input at time t.
func (tr *Trajectory) InputAt(t float64) Input {
	return Interp(TimeSegment(t, tr.Times), tr.Inputs)
}
