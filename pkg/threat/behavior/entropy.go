package behavior

import "math"

// shannonEntropy computes the base-2 entropy of a discrete distribution
// given as counts. A distribution concentrated in a single bucket has
// entropy 0; a uniform distribution over n buckets has entropy log2(n).
func shannonEntropy(counts map[string]uint64) float64 {
	var total uint64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}

	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// histogramEntropy is shannonEntropy over a fixed-slot histogram.
func histogramEntropy(counts []uint64) float64 {
	var total uint64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}

	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}
