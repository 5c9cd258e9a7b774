package detect

import (
	"image"
	"math"
	"sort"
)

// candidate is one raw square hit from the cascade scan, centered on (Row, Col).
type candidate struct {
	Row   int
	Col   int
	Scale int
	Q     float32
}

func (c candidate) rect() image.Rectangle {
	half := c.Scale / 2
	return image.Rect(c.Col-half, c.Row-half, c.Col-half+c.Scale, c.Row-half+c.Scale)
}

// iouThreshold is the overlap above which two raw hits count as neighbors.
const iouThreshold = 0.2

func iou(a, b candidate) float64 {
	r1, c1, s1 := float64(a.Row), float64(a.Col), float64(a.Scale)
	r2, c2, s2 := float64(b.Row), float64(b.Col), float64(b.Scale)

	overRow := math.Max(0, math.Min(r1+s1/2, r2+s2/2)-math.Max(r1-s1/2, r2-s2/2))
	overCol := math.Max(0, math.Min(c1+s1/2, c2+s2/2)-math.Max(c1-s1/2, c2-s2/2))
	inter := overRow * overCol
	union := s1*s1 + s2*s2 - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// groupCandidates merges overlapping raw hits, strongest first, and keeps
// only groups with at least minNeighbors members. Each surviving group is
// reported as the average of its members.
func groupCandidates(cands []candidate, minNeighbors int) []image.Rectangle {
	sorted := append([]candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Q > sorted[j].Q })

	assigned := make([]bool, len(sorted))
	var groups []image.Rectangle

	for i := range sorted {
		if assigned[i] {
			continue
		}
		var r, c, s, n int
		for j := range sorted {
			if assigned[j] || iou(sorted[i], sorted[j]) <= iouThreshold {
				continue
			}
			assigned[j] = true
			r += sorted[j].Row
			c += sorted[j].Col
			s += sorted[j].Scale
			n++
		}
		if n == 0 || n < minNeighbors {
			continue
		}
		avg := candidate{Row: r / n, Col: c / n, Scale: s / n}
		groups = append(groups, avg.rect())
	}
	return groups
}
