package riccati

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/trajopt/internal/lq"
	"github.com/san-kum/trajopt/internal/oc"
)

// Gains computes the affine control-law coefficients at one nominal
// sample from the penalized LQ model and the value function there:
//
//	u(t, x) = bias + K·x            after a step is accepted,
//	u(t, x) = bias + α·deltaBias + K·x   during line search.
func Gains(md *lq.ModelData, b Boundary, xNom oc.State, uNom oc.Input) (k *mat.Dense, bias, deltaBias oc.Input, err error) {
	n := len(xNom)
	m := len(uNom)

	chol, err := factorize(md.Cost.Rm)
	if err != nil {
		return nil, nil, nil, err
	}

	// K = -Rm^{-1}(Pm + Bm'Sm)
	var btS mat.Dense
	btS.Mul(md.Bm.T(), b.Sm)
	var pPlus mat.Dense
	pPlus.Add(md.Cost.Pm, &btS)
	var lm mat.Dense
	if err := chol.SolveTo(&lm, &pPlus); err != nil {
		return nil, nil, nil, err
	}
	k = mat.NewDense(m, n, nil)
	k.Scale(-1, &lm)

	// deltaBias = -Rm^{-1}(Rv + Bm'(Sv + Sve))
	sTotal := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		sTotal.SetVec(i, b.Sv[i]+b.Sve[i])
	}
	var btSv mat.VecDense
	btSv.MulVec(md.Bm.T(), sTotal)
	rhs := mat.NewVecDense(m, nil)
	for i := 0; i < m; i++ {
		rhs.SetVec(i, md.Cost.Rv[i]+btSv.AtVec(i))
	}
	var lv mat.VecDense
	if err := chol.SolveVecTo(&lv, rhs); err != nil {
		return nil, nil, nil, err
	}

	deltaBias = make(oc.Input, m)
	for i := 0; i < m; i++ {
		deltaBias[i] = -lv.AtVec(i)
	}

	// bias = uNom - K·xNom, so that u(xNom) = uNom at α = 0
	xVec := mat.NewVecDense(n, xNom)
	var kx mat.VecDense
	kx.MulVec(k, xVec)
	bias = make(oc.Input, m)
	for i := 0; i < m; i++ {
		bias[i] = uNom[i] - kx.AtVec(i)
	}

	return k, bias, deltaBias, nil
}
