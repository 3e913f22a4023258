// Package histogram turns playtest difficulty votes into the 16-bucket
// summary shown on a playtest thread, and renders it as a PNG.
package histogram

import (
	"errors"
	"fmt"
	"math"

	"github.com/tbourn/genji-bot/internal/domain"
)

// NumBuckets is the size of the difficulty scale.
const NumBuckets = len(domain.DifficultyScale)

// ErrOutOfRange is returned for a vote outside [0, 10].
var ErrOutOfRange = errors.New("histogram: vote outside [0, 10]")

// Buckets is the fixed bucket table, lowest first.
var Buckets = domain.DifficultyScale

// Assign returns the zero-based bucket holding v. Each bucket includes its
// lower bound; the last bucket also includes 10.0.
func Assign(v float64) (int, error) {
	if v < 0 || v > 10 || math.IsNaN(v) {
		return -1, fmt.Errorf("%w: %v", ErrOutOfRange, v)
	}
	for i, b := range Buckets {
		if v >= b.Low && v < b.High {
			return i, nil
		}
	}
	return NumBuckets - 1, nil
}

// Mean is the arithmetic mean of votes, or 0 for none.
func Mean(votes []float64) float64 {
	if len(votes) == 0 {
		return 0
	}
	var sum float64
	for _, v := range votes {
		sum += v
	}
	return sum / float64(len(votes))
}

// Summary is the derived state of a vote set.
type Summary struct {
	Counts     [NumBuckets]int `json:"counts"`
	Total      int             `json:"total"`
	Mean       float64         `json:"mean"`
	MeanBucket int             `json:"mean_bucket"` // -1 when there are no votes
}

// MeanName is the bucket name of the mean, or "" with no votes.
func (s Summary) MeanName() string {
	if s.MeanBucket < 0 {
		return ""
	}
	return Buckets[s.MeanBucket].Name
}

// Summarize buckets every vote and locates the mean.
func Summarize(votes []float64) (Summary, error) {
	s := Summary{Total: len(votes), MeanBucket: -1}
	for _, v := range votes {
		i, err := Assign(v)
		if err != nil {
			return Summary{}, err
		}
		s.Counts[i]++
	}
	if len(votes) > 0 {
		s.Mean = Mean(votes)
		i, err := Assign(s.Mean)
		if err != nil {
			return Summary{}, err
		}
		s.MeanBucket = i
	}
	return s, nil
}
