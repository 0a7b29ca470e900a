// Package seqenc derives fixed-length numeric features from nucleotide
// sequences.
package seqenc

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// Method selects a sequence encoding.
type Method string

const (
	MethodStats Method = "stats"
	MethodKmer4 Method = "kmer4"
	MethodKmer7 Method = "kmer7"
	MethodKmer8 Method = "kmer8"
)

// Methods lists the supported encodings in presentation order.
var Methods = []Method{MethodStats, MethodKmer4, MethodKmer7, MethodKmer8}

var ErrUnknownMethod = errors.New("unknown encoding method")

func ParseMethod(s string) (Method, error) {
	method := Method(strings.ToLower(strings.TrimSpace(s)))
	switch method {
	case MethodStats, MethodKmer4, MethodKmer7, MethodKmer8:
		return method, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

const statsDim = 4

// Dim reports the vector length produced by a method.
func Dim(method Method) (int, error) {
	switch method {
	case MethodStats:
		return statsDim, nil
	case MethodKmer4:
		return 256, nil
	case MethodKmer7:
		return 128, nil
	case MethodKmer8:
		return 256, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
}

// Encode converts a nucleotide sequence into a fixed-length feature vector.
// Input is case-insensitive. valid reports whether the sequence carried any
// usable signal; when it is false the returned vector is all zeros. That
// covers empty input and, for the k-mer methods, sequences shorter than k or
// with no window made purely of A, C, G and T.
func Encode(seq string, method Method) ([]float64, bool, error) {
	dim, err := Dim(method)
	if err != nil {
		return nil, false, err
	}
	upper := strings.ToUpper(seq)
	switch method {
	case MethodStats:
		vec, valid := encodeStats(upper, dim)
		return vec, valid, nil
	case MethodKmer4:
		vec, valid := encodeKmerExact(upper, 4, dim)
		return vec, valid, nil
	case MethodKmer7:
		vec, valid := encodeKmerHashed(upper, 7, dim)
		return vec, valid, nil
	case MethodKmer8:
		vec, valid := encodeKmerHashed(upper, 8, dim)
		return vec, valid, nil
	}
	return nil, false, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
}

func encodeStats(seq string, dim int) ([]float64, bool) {
	vec := make([]float64, dim)
	if len(seq) == 0 {
		return vec, false
	}
	var gc, at, ambiguous int
	for i := 0; i < len(seq); i++ {
		switch seq[i] {
		case 'G', 'C':
			gc++
		case 'A', 'T':
			at++
		case 'N':
			ambiguous++
		}
	}
	total := float64(len(seq))
	vec[0] = float64(gc) / total
	vec[1] = float64(at) / total
	vec[2] = math.Log10(total)
	vec[3] = float64(ambiguous) / total
	return vec, true
}

func encodeKmerExact(seq string, k, dim int) ([]float64, bool) {
	vec := make([]float64, dim)
	if len(seq) < k {
		return vec, false
	}
	valid := 0
	for i := 0; i+k <= len(seq); i++ {
		idx := 0
		ok := true
		for j := 0; j < k; j++ {
			base := baseIndex(seq[i+j])
			if base < 0 {
				ok = false
				break
			}
			idx = idx*4 + base
		}
		if !ok {
			continue
		}
		vec[idx]++
		valid++
	}
	return normalizeCounts(vec, valid)
}

func encodeKmerHashed(seq string, k, dim int) ([]float64, bool) {
	vec := make([]float64, dim)
	if len(seq) < k {
		return vec, false
	}
	hasher := fnv.New64a()
	valid := 0
	for i := 0; i+k <= len(seq); i++ {
		window := seq[i : i+k]
		if !pureBases(window) {
			continue
		}
		hasher.Reset()
		_, _ = hasher.Write([]byte(window))
		vec[int(hasher.Sum64()%uint64(dim))]++
		valid++
	}
	return normalizeCounts(vec, valid)
}

// normalizeCounts turns window counts into a profile that sums to one. Zero
// valid windows leaves the zero vector and marks the encoding invalid.
func normalizeCounts(vec []float64, valid int) ([]float64, bool) {
	if valid == 0 {
		return vec, false
	}
	for i := range vec {
		vec[i] /= float64(valid)
	}
	return vec, true
}

func baseIndex(b byte) int {
	switch b {
	case 'A':
		return 0
	case 'C':
		return 1
	case 'G':
		return 2
	case 'T':
		return 3
	}
	return -1
}

func pureBases(window string) bool {
	for i := 0; i < len(window); i++ {
		if baseIndex(window[i]) < 0 {
			return false
		}
	}
	return true
}
