package lq

import "gonum.org/v1/gonum/mat"

// MakePSD projects a symmetric-intent matrix onto the positive
// semi-definite cone by symmetrizing and clipping negative eigenvalues at
// zero. Reports whether the matrix was modified.
func MakePSD(m *mat.Dense) bool {
	n, _ := m.Dims()

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		// factorization failure: fall back to the symmetrized matrix
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				m.Set(i, j, sym.At(i, j))
			}
		}
		return true
	}

	vals := eig.Values(nil)
	clipped := false
	for i, v := range vals {
		if v < 0 {
			vals[i] = 0
			clipped = true
		}
	}
	if !clipped {
		// still write back the symmetrized version
		modified := false
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if m.At(i, j) != sym.At(i, j) {
					modified = true
				}
				m.Set(i, j, sym.At(i, j))
			}
		}
		return modified
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// m = V diag(vals) V'
	scaled := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			scaled.Set(i, j, vecs.At(i, j)*vals[j])
		}
	}
	m.Mul(scaled, vecs.T())
	return true
}

// AddDiagonal adds eps to every diagonal entry, the fixed-offset
// alternative to eigenvalue clipping.
func AddDiagonal(m *mat.Dense, eps float64) {
	n, _ := m.Dims()
	for i := 0; i < n; i++ {
		m.Set(i, i, m.At(i, i)+eps)
	}
}
