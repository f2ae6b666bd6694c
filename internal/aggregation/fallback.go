package aggregation

import "math"

const (
	ngramSize  = 3
	vocabSize  = 1000
	maxTextLen = 1000
)

// FallbackEmbedding is the local bag-of-trigrams vector used when no provider
// is configured or the provider fails. Text is lowercased and reduced to
// [a-z0-9 ]; each trigram increments bucket |hash| mod 1000; the result is
// unit-normalized (all zeros when the text has no trigram).
func FallbackEmbedding(text string) []float64 {
	normalized := normalize(text)
	vec := make([]float64, vocabSize)
	for i := 0; i+ngramSize <= len(normalized); i++ {
		vec[stringHash(normalized[i:i+ngramSize])%vocabSize]++
	}

	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return vec
	}
	mag := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= mag
	}
	return vec
}

// FallbackEmbeddings embeds each text with FallbackEmbedding.
func FallbackEmbeddings(texts []string) [][]float64 {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = FallbackEmbedding(t)
	}
	return out
}

func normalize(s string) string {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			b = append(b, byte(r-'A'+'a'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b = append(b, byte(r))
		}
	}
	return string(b)
}

// stringHash is the 31-multiplier 32-bit string hash, returned as its absolute value.
func stringHash(s string) int {
	var h int32
	for i := 0; i < len(s); i++ {
		h = h*31 + int32(s[i])
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v)
}

// CosineSimilarity returns 0 for mismatched lengths or zero-magnitude vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	mag := math.Sqrt(na) * math.Sqrt(nb)
	if mag == 0 {
		return 0
	}
	return dot / mag
}
