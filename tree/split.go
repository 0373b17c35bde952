package tree

import (
	"math"

	"github.com/wkalt/spatialcache/region"
)

// quadraticSplit divides boxes into two groups using Guttman's quadratic
// split. Each group receives at least minFill boxes.
func quadraticSplit(boxes []region.Region, minFill int) (left, right []int) {
	s1, s2 := pickSeeds(boxes)
	left, right = []int{s1}, []int{s2}
	lb, rb := boxes[s1], boxes[s2]
	assigned := make([]bool, len(boxes))
	assigned[s1], assigned[s2] = true, true
	remaining := len(boxes) - 2
	for remaining > 0 {
		if len(left)+remaining <= minFill {
			left = appendUnassigned(left, assigned)
			break
		}
		if len(right)+remaining <= minFill {
			right = appendUnassigned(right, assigned)
			break
		}
		next, bestDiff := -1, math.Inf(-1)
		for i, box := range boxes {
			if assigned[i] {
				continue
			}
			diff := saturate(math.Abs(lb.Enlargement(box) - rb.Enlargement(box)))
			if next < 0 || diff > bestDiff {
				next, bestDiff = i, diff
			}
		}
		box := boxes[next]
		if preferLeft(lb, rb, box, len(left), len(right)) {
			left = append(left, next)
			lb = lb.Combine(box)
		} else {
			right = append(right, next)
			rb = rb.Combine(box)
		}
		assigned[next] = true
		remaining--
	}
	return left, right
}

// pickSeeds returns the pair of boxes that would waste the most area if
// grouped together.
func pickSeeds(boxes []region.Region) (int, int) {
	s1, s2 := 0, 1
	worst := math.Inf(-1)
	for i := range boxes {
		for j := i + 1; j < len(boxes); j++ {
			waste := saturate(boxes[i].Combine(boxes[j]).Area() - boxes[i].Area() - boxes[j].Area())
			if waste > worst {
				s1, s2, worst = i, j, waste
			}
		}
	}
	return s1, s2
}

// saturate maps NaN to +Inf. Areas of very large boxes overflow, and the
// difference of two infinite areas is NaN.
func saturate(x float64) float64 {
	if math.IsNaN(x) {
		return math.Inf(1)
	}
	return x
}

func preferLeft(lb, rb, box region.Region, nleft, nright int) bool {
	d1, d2 := saturate(lb.Enlargement(box)), saturate(rb.Enlargement(box))
	a1, a2 := lb.Area(), rb.Area()
	switch {
	case d1 != d2:
		return d1 < d2
	case a1 != a2:
		return a1 < a2
	default:
		return nleft <= nright
	}
}

func appendUnassigned(group []int, assigned []bool) []int {
	for i, done := range assigned {
		if !done {
			group = append(group, i)
			assigned[i] = true
		}
	}
	return group
}
