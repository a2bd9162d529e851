package problem

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// oscillate applies the T_osz transformation coordinate-wise in place.
func oscillate(x []float64) {
	for i, v := range x {
		if v == 0 {
			continue
		}
		xhat := math.Log(math.Abs(v))
		c1, c2 := 5.5, 3.1
		if v > 0 {
			c1, c2 = 10, 7.9
		}
		x[i] = math.Copysign(math.Exp(xhat+0.049*(math.Sin(c1*xhat)+math.Sin(c2*xhat))), v)
	}
}

// asymmetric applies T_asy^beta in place.
func asymmetric(x []float64, beta float64) {
	d := len(x)
	for i, v := range x {
		if v > 0 {
			x[i] = math.Pow(v, 1+beta*ratio(i, d)*math.Sqrt(v))
		}
	}
}

// conditioning returns the diagonal of the Lambda^alpha matrix.
func conditioning(alpha float64, d int) []float64 {
	diag := make([]float64, d)
	for i := range diag {
		diag[i] = math.Pow(alpha, 0.5*ratio(i, d))
	}
	return diag
}

// penalty is the boundary penalty f_pen for the [-5, 5] domain.
func penalty(x []float64) float64 {
	var sum float64
	for _, v := range x {
		if excess := math.Abs(v) - 5; excess > 0 {
			sum += excess * excess
		}
	}
	return sum
}

func ratio(i, d int) float64 {
	if d <= 1 {
		return 0
	}
	return float64(i) / float64(d-1)
}

// randomRotation returns a d x d orthogonal matrix from the QR factorization
// of a Gaussian matrix drawn from rng.
func randomRotation(rng *rand.Rand, d int) *mat.Dense {
	data := make([]float64, d*d)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	var qr mat.QR
	qr.Factorize(mat.NewDense(d, d, data))
	q := mat.NewDense(d, d, nil)
	qr.QTo(q)
	return q
}

// chain returns the product a * diag(lambda) * b.
func chain(a *mat.Dense, lambda []float64, b *mat.Dense) *mat.Dense {
	var scaled mat.Dense
	scaled.Mul(a, mat.NewDiagDense(len(lambda), lambda))
	out := mat.NewDense(len(lambda), len(lambda), nil)
	out.Mul(&scaled, b)
	return out
}

// apply returns m * x as a new slice.
func apply(m *mat.Dense, x []float64) []float64 {
	out := make([]float64, len(x))
	mat.NewVecDense(len(out), out).MulVec(m, mat.NewVecDense(len(x), x))
	return out
}

func shift(x, xopt []float64) []float64 {
	z := make([]float64, len(x))
	for i := range x {
		z[i] = x[i] - xopt[i]
	}
	return z
}
