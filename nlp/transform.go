package nlp

import (
	"math"

	"go.viam.com/mpc/referenceframe"
)

// interiorMargin keeps reparameterized seeds off the bounds, where the sine and square maps
// have zero slope and the inner solver could not move them.
const interiorMargin = 1e-3

type boundKind int

const (
	unbounded boundKind = iota
	twoSided
	lowerOnly
	upperOnly
)

// boundMap turns a box-constrained problem into an unconstrained one. Fixed variables are
// removed, two-sided bounds use x = c + r*sin(z), one-sided bounds use x = lo + z^2 or
// x = hi - z^2, and unbounded variables pass through. Excluded variables are neither free nor
// written; the caller fills them in.
type boundMap struct {
	limits []referenceframe.Limit
	fixed  []int
	free   []int
	kinds  []boundKind
}

func newBoundMap(limits []referenceframe.Limit, excluded []int) *boundMap {
	m := &boundMap{limits: limits}
	skip := make(map[int]bool, len(excluded))
	for _, i := range excluded {
		skip[i] = true
	}
	for i, limit := range limits {
		if skip[i] {
			continue
		}
		if limit.IsFixed() {
			m.fixed = append(m.fixed, i)
			continue
		}
		lo, hi := !math.IsInf(limit.Min, -1), !math.IsInf(limit.Max, 1)
		kind := unbounded
		switch {
		case lo && hi:
			kind = twoSided
		case lo:
			kind = lowerOnly
		case hi:
			kind = upperOnly
		}
		m.free = append(m.free, i)
		m.kinds = append(m.kinds, kind)
	}
	return m
}

// dim is the number of free (unconstrained) coordinates.
func (m *boundMap) dim() int {
	return len(m.free)
}

// toX writes the problem-space point for z into x.
func (m *boundMap) toX(x, z []float64) {
	for _, i := range m.fixed {
		x[i] = m.limits[i].Min
	}
	for k, i := range m.free {
		limit := m.limits[i]
		switch m.kinds[k] {
		case twoSided:
			c, r := (limit.Min+limit.Max)/2, (limit.Max-limit.Min)/2
			// Rounding in c+r can land one ulp outside the interval.
			x[i] = math.Min(math.Max(c+r*math.Sin(z[k]), limit.Min), limit.Max)
		case lowerOnly:
			x[i] = limit.Min + z[k]*z[k]
		case upperOnly:
			x[i] = limit.Max - z[k]*z[k]
		default:
			x[i] = z[k]
		}
	}
}

// toZ returns free coordinates for a point x that already lies within the limits.
func (m *boundMap) toZ(x []float64) []float64 {
	z := make([]float64, len(m.free))
	for k, i := range m.free {
		limit := m.limits[i]
		switch m.kinds[k] {
		case twoSided:
			c, r := (limit.Min+limit.Max)/2, (limit.Max-limit.Min)/2
			s := (x[i] - c) / r
			z[k] = math.Asin(math.Min(math.Max(s, -1+interiorMargin), 1-interiorMargin))
		case lowerOnly:
			z[k] = math.Sqrt(math.Max(x[i]-limit.Min, interiorMargin*interiorMargin))
		case upperOnly:
			z[k] = math.Sqrt(math.Max(limit.Max-x[i], interiorMargin*interiorMargin))
		default:
			z[k] = x[i]
		}
	}
	return z
}

// chain turns a gradient with respect to x into one with respect to the free coordinates z.
func (m *boundMap) chain(gradZ, gradX, z []float64) {
	for k, i := range m.free {
		limit := m.limits[i]
		switch m.kinds[k] {
		case twoSided:
			gradZ[k] = gradX[i] * (limit.Max - limit.Min) / 2 * math.Cos(z[k])
		case lowerOnly:
			gradZ[k] = gradX[i] * 2 * z[k]
		case upperOnly:
			gradZ[k] = -gradX[i] * 2 * z[k]
		default:
			gradZ[k] = gradX[i]
		}
	}
}
