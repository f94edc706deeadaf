package analysis

import (
	"math"
	"sort"

	"github.com/rewired-gh/callseason/internal/models"
)

// levelEpsilon is the relative tolerance under which two curve values are
// treated as the same level. It only absorbs floating-point noise.
const levelEpsilon = 1e-12

// plateau is a maximal run of same-level values on the ring of non-gap periods.
type plateau struct {
	start  int // ring position of the first value
	length int
	value  float64
}

// extremum is a candidate inflection point on the ring of non-gap periods.
type extremum struct {
	pos        int
	kind       models.Kind
	value      float64
	prominence float64
}

// DetectInflections finds the significant peaks and valleys of a seasonal curve.
//
// The curve is read as a ring: period P-1 neighbours period 0, and gap periods
// are skipped when locating neighbours. Runs of equal values are merged into a
// single plateau; a plateau higher than both neighbouring plateaus is a peak
// candidate and one lower than both is a valley candidate, positioned at the
// plateau midpoint (the earlier of the two middle periods for even lengths).
//
// Candidates alternate peak/valley around the ring. The prominence of a
// candidate is the smaller of its vertical distances to the two adjacent
// opposite-kind candidates. While the weakest adjacent pair is closer than
// minProminence, both members are discarded: the flanking extrema are always at
// least as extreme, so the merge keeps them and alternation is preserved. This
// repeats until every surviving candidate clears the threshold.
//
// The result is ordered by period index and is empty (never nil) for a flat curve.
func DetectInflections(curve models.SeasonalCurve, minProminence float64) []models.InflectionPoint {
	var periods []int
	var values []float64
	for _, p := range curve.Points {
		if p.Gap {
			continue
		}
		periods = append(periods, p.PeriodIndex)
		values = append(values, p.Value)
	}

	plateaus := findPlateaus(values)
	if len(plateaus) < 2 {
		return []models.InflectionPoint{}
	}

	candidates := suppressShallow(findExtrema(plateaus, len(values)), minProminence)

	points := make([]models.InflectionPoint, 0, len(candidates))
	for _, c := range candidates {
		points = append(points, models.InflectionPoint{
			PeriodIndex: periods[c.pos],
			Kind:        c.kind,
			Value:       c.value,
			Prominence:  c.prominence,
		})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].PeriodIndex < points[j].PeriodIndex
	})
	return points
}

func sameLevel(a, b float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= levelEpsilon*scale
}

// findPlateaus splits the ring into runs of same-level values, starting at the
// first level change so that a run wrapping past the end stays whole.
// It returns nil when every value is at the same level.
func findPlateaus(values []float64) []plateau {
	n := len(values)
	start := -1
	for i := 0; i < n; i++ {
		if !sameLevel(values[i], values[(i-1+n)%n]) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	var runs []plateau
	cur := plateau{start: start, length: 1, value: values[start]}
	for k := 1; k < n; k++ {
		i := (start + k) % n
		if sameLevel(values[i], cur.value) {
			cur.length++
			continue
		}
		runs = append(runs, cur)
		cur = plateau{start: i, length: 1, value: values[i]}
	}
	return append(runs, cur)
}

// findExtrema keeps the plateaus that are strictly above or below both of their
// ring neighbours. Monotone steps are not candidates.
func findExtrema(runs []plateau, n int) []extremum {
	m := len(runs)
	var out []extremum
	for r, run := range runs {
		prev := runs[(r-1+m)%m].value
		next := runs[(r+1)%m].value

		var kind models.Kind
		switch {
		case run.value > prev && run.value > next:
			kind = models.Peak
		case run.value < prev && run.value < next:
			kind = models.Valley
		default:
			continue
		}
		out = append(out, extremum{
			pos:   (run.start + (run.length-1)/2) % n,
			kind:  kind,
			value: run.value,
		})
	}
	return out
}

// suppressShallow removes the weakest adjacent peak/valley pair until every edge
// of the ring is at least minProminence tall, then assigns final prominences.
func suppressShallow(c []extremum, minProminence float64) []extremum {
	for len(c) >= 2 {
		k := len(c)
		edges := k
		if k == 2 {
			// Both ring edges join the same two candidates.
			edges = 1
		}

		// On equal drops the later edge is taken, so of two equally extreme
		// candidates the earlier one survives.
		weakest := 0
		weakestDrop := math.Inf(1)
		for j := 0; j < edges; j++ {
			drop := math.Abs(c[j].value - c[(j+1)%k].value)
			if drop <= weakestDrop {
				weakest, weakestDrop = j, drop
			}
		}
		if weakestDrop >= minProminence {
			break
		}
		if k == 2 {
			return nil
		}
		c = removePair(c, weakest)
	}
	if len(c) < 2 {
		return nil
	}

	k := len(c)
	for i := range c {
		prev := math.Abs(c[i].value - c[(i-1+k)%k].value)
		next := math.Abs(c[i].value - c[(i+1)%k].value)
		c[i].prominence = math.Min(prev, next)
	}
	return c
}

// removePair drops c[j] and its ring successor.
func removePair(c []extremum, j int) []extremum {
	k := len(c)
	next := (j + 1) % k
	out := make([]extremum, 0, k-2)
	for i := range c {
		if i == j || i == next {
			continue
		}
		out = append(out, c[i])
	}
	return out
}
