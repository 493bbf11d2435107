package consolidation

import "math"

// shannonEntropy computes Shannon entropy in bits over the character
// distribution of text: a cheap, dependency-free way to score
// low-information text before it reaches the summarizer.
func shannonEntropy(text string) float64 {
	if len(text) == 0 {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range text {
		counts[r]++
		total++
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// passesEntropyFilter rejects near-constant or degenerate text: "ok",
// "k", whitespace runs, repeated characters.
func passesEntropyFilter(text string, threshold float64) bool {
	return shannonEntropy(text) >= threshold
}
