package problem

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// function holds the instance data of one benchmark function and evaluates
// its raw value without the fopt offset.
type function interface {
	eval(x []float64) float64
	optimum() []float64
}

type definition struct {
	id    int
	name  string
	build func(rng *rand.Rand, d int) function
}

var definitions = []definition{
	{1, "sphere", newSphere},
	{2, "ellipsoid", newEllipsoid},
	{3, "rastrigin", newRastrigin},
	{8, "rosenbrock", newRosenbrock},
	{10, "ellipsoid_rotated", newRotatedEllipsoid},
	{15, "rastrigin_rotated", newRotatedRastrigin},
	{23, "katsuura", newKatsuura},
}

// randomOptimum draws an optimum location in [-radius, radius]^d on a 1e-4 grid,
// never exactly at zero.
func randomOptimum(rng *rand.Rand, d int, radius float64) []float64 {
	xopt := make([]float64, d)
	for i := range xopt {
		xopt[i] = 2*radius*math.Floor(1e4*rng.Float64())/1e4 - radius
		if xopt[i] == 0 {
			xopt[i] = -1e-5
		}
	}
	return xopt
}

type sphere struct{ xopt []float64 }

func newSphere(rng *rand.Rand, d int) function {
	return &sphere{xopt: randomOptimum(rng, d, 4)}
}

func (f *sphere) optimum() []float64 { return f.xopt }

func (f *sphere) eval(x []float64) float64 {
	var sum float64
	for i, v := range x {
		z := v - f.xopt[i]
		sum += z * z
	}
	return sum
}

type ellipsoid struct {
	xopt   []float64
	rotate *mat.Dense
}

func newEllipsoid(rng *rand.Rand, d int) function {
	return &ellipsoid{xopt: randomOptimum(rng, d, 4)}
}

func newRotatedEllipsoid(rng *rand.Rand, d int) function {
	xopt := randomOptimum(rng, d, 4)
	return &ellipsoid{xopt: xopt, rotate: randomRotation(rng, d)}
}

func (f *ellipsoid) optimum() []float64 { return f.xopt }

func (f *ellipsoid) eval(x []float64) float64 {
	z := shift(x, f.xopt)
	if f.rotate != nil {
		z = apply(f.rotate, z)
	}
	oscillate(z)
	var sum float64
	for i, v := range z {
		sum += math.Pow(10, 6*ratio(i, len(z))) * v * v
	}
	return sum
}

type rastrigin struct {
	xopt   []float64
	lambda []float64
	rotate *mat.Dense // R
	mix    *mat.Dense // R * Lambda * Q
}

func newRastrigin(rng *rand.Rand, d int) function {
	return &rastrigin{xopt: randomOptimum(rng, d, 4), lambda: conditioning(10, d)}
}

func newRotatedRastrigin(rng *rand.Rand, d int) function {
	xopt := randomOptimum(rng, d, 4)
	r := randomRotation(rng, d)
	q := randomRotation(rng, d)
	return &rastrigin{xopt: xopt, rotate: r, mix: chain(r, conditioning(10, d), q)}
}

func (f *rastrigin) optimum() []float64 { return f.xopt }

func (f *rastrigin) eval(x []float64) float64 {
	z := shift(x, f.xopt)
	if f.rotate != nil {
		z = apply(f.rotate, z)
	}
	oscillate(z)
	asymmetric(z, 0.2)
	if f.mix != nil {
		z = apply(f.mix, z)
	} else {
		for i := range z {
			z[i] *= f.lambda[i]
		}
	}
	d := float64(len(z))
	var cosSum, sq float64
	for _, v := range z {
		cosSum += math.Cos(2 * math.Pi * v)
		sq += v * v
	}
	return 10*(d-cosSum) + sq
}

type rosenbrock struct {
	xopt  []float64
	scale float64
}

func newRosenbrock(rng *rand.Rand, d int) function {
	return &rosenbrock{
		xopt:  randomOptimum(rng, d, 3),
		scale: math.Max(1, math.Sqrt(float64(d))/8),
	}
}

func (f *rosenbrock) optimum() []float64 { return f.xopt }

func (f *rosenbrock) eval(x []float64) float64 {
	z := shift(x, f.xopt)
	for i := range z {
		z[i] = f.scale*z[i] + 1
	}
	var sum float64
	for i := 0; i < len(z)-1; i++ {
		a := z[i]*z[i] - z[i+1]
		b := z[i] - 1
		sum += 100*a*a + b*b
	}
	return sum
}

type katsuura struct {
	xopt []float64
	mix  *mat.Dense // Q * Lambda^100 * R
}

func newKatsuura(rng *rand.Rand, d int) function {
	xopt := randomOptimum(rng, d, 4)
	r := randomRotation(rng, d)
	q := randomRotation(rng, d)
	return &katsuura{xopt: xopt, mix: chain(q, conditioning(100, d), r)}
}

func (f *katsuura) optimum() []float64 { return f.xopt }

func (f *katsuura) eval(x []float64) float64 {
	z := apply(f.mix, shift(x, f.xopt))
	d := float64(len(z))
	exponent := 10 / math.Pow(d, 1.2)
	prod := 1.0
	for i, v := range z {
		var sum float64
		for j := 1; j <= 32; j++ {
			p := math.Ldexp(1, j)
			sum += math.Abs(p*v-math.Round(p*v)) / p
		}
		prod *= math.Pow(1+float64(i+1)*sum, exponent)
	}
	scale := 10 / (d * d)
	return scale*prod - scale + penalty(x)
}
