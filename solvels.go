// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

package radioloc

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Solve the linearized observation equations by weighted least squares
// - dx = (G^t W G)^-1 G^t W dr
// - Return the error covariance matrix (G^t W G)^-1 as cov
// G holds one row per reading, W is the diagonal weight matrix.
func SolveLS(G mat.Matrix, dr mat.Vector, W mat.Matrix) (dx mat.Vector, cov mat.Matrix, err error) {

	gr, gc := G.Dims()
	wr, wc := W.Dims()
	if gr != wr || wr != wc {
		return nil, nil, fmt.Errorf("invalid matrix size. G(%d x %d), W(%d x %d)", gr, gc, wr, wc)
	}
	if dr.Len() != gr {
		return nil, nil, fmt.Errorf("invalid matrix size. G(%d x %d), dr(%d x 1)", gr, gc, dr.Len())
	}

	// A = G^t W G
	var WG mat.Dense
	WG.Mul(W, G)
	var A mat.Dense
	A.Mul(G.T(), &WG)

	// b = G^t W dr
	var b mat.VecDense
	b.MulVec(WG.T(), dr)

	// x = A^-1 b
	var x mat.VecDense
	if err = x.SolveVec(&A, &b); err != nil {
		return nil, nil, err
	}

	// Covariance of the solved increment
	var c mat.Dense
	if err = c.Inverse(&A); err != nil {
		return nil, nil, err
	}

	return &x, &c, nil
}
