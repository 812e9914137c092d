package ensemble

import (
	"hash/fnv"
	"math/rand"

	"github.com/habsim/core/flight"
)

// Perturbation holds one member's delta applied to the control launch
// parameters, with exact ranges taken from app.py's spaceshot handler.
type Perturbation struct {
	DLatDeg, DLonDeg float64
	DAltM            float64
	EquilAltM        float64
	EquilTimeH       float64
	AscentRateMS     float64
	DescentRateMS    float64
	FloatCoeff       float64
}

// seedFromKey derives a deterministic 32-bit seed from requestKey the same
// way app.py does: random.seed(hash(key) & 0xFFFFFFFF). Go's hash(str) is
// not the same function as Python's, so fnv-1a is substituted as a stable
// stand-in hash with the same masking behavior.
func seedFromKey(requestKey string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(requestKey))
	return int64(h.Sum32() & 0xFFFFFFFF)
}

// GeneratePerturbations returns n deterministic perturbations for
// requestKey, reproducible across processes given the same key.
func GeneratePerturbations(requestKey string, n int, base flight.Params) []Perturbation {
	rng := rand.New(rand.NewSource(seedFromKey(requestKey)))
	out := make([]Perturbation, n)
	for i := range out {
		out[i] = Perturbation{
			DLatDeg:       uniform(rng, -0.001, 0.001),
			DLonDeg:       uniform(rng, -0.001, 0.001),
			DAltM:         uniform(rng, -50, 50),
			EquilAltM:     maxOf(base.EquilAltM+uniform(rng, -200, 200), base.Launch.AltM),
			EquilTimeH:    nonNegative(base.EquilTimeH + uniform(rng, -0.5, 0.5)),
			AscentRateMS:  atLeast(base.AscentRateMS+uniform(rng, -0.5, 0.5), 0.1),
			DescentRateMS: atLeast(base.DescentRateMS+uniform(rng, -0.5, 0.5), 0.1),
			FloatCoeff:    floatCoeff(rng),
		}
	}
	return out
}

func uniform(rng *rand.Rand, lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }
func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
func maxOf(v, floor float64) float64 {
	if v < floor {
		return floor
	}
	return v
}
func atLeast(v, floor float64) float64 {
	if v < floor {
		return floor
	}
	return v
}

// floatCoeff is the piecewise coefficient perturbation: 90% of draws land
// in [0.95, 1.0], the remaining 10% in [0.90, 0.95).
func floatCoeff(rng *rand.Rand) float64 {
	if rng.Float64() < 0.9 {
		return uniform(rng, 0.95, 1.0)
	}
	return uniform(rng, 0.90, 0.95)
}

// Apply returns launch params with this perturbation folded in.
func (p Perturbation) Apply(base flight.Params) flight.Params {
	out := base
	out.Launch.Lat += p.DLatDeg
	out.Launch.Lon += p.DLonDeg
	out.Launch.AltM = nonNegative(base.Launch.AltM + p.DAltM)
	out.EquilAltM = p.EquilAltM
	out.EquilTimeH = p.EquilTimeH
	out.AscentRateMS = p.AscentRateMS
	out.DescentRateMS = p.DescentRateMS
	out.FloatCoeff = p.FloatCoeff
	return out
}
