package application

import "math"

const (
	levelScale = 20000
	levelMax   = 100
)

// Level maps the mean absolute amplitude of a block to a 0-100 loudness
// scale. Speech sits far below full scale, hence the large factor.
func Level(block []float32) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, x := range block {
		sum += math.Abs(float64(x))
	}
	level := sum / float64(len(block)) * levelScale
	if math.IsNaN(level) {
		return 0
	}
	return math.Min(levelMax, level)
}
