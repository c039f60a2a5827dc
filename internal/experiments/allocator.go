// Package experiments implements deterministic A/B allocation for pairing
// behavior changes: assignment is a pure function of (experiment, subject),
// so restarts and replicas agree without coordination.
package experiments

import (
	"hash/fnv"

	"github.com/sommos/sommos/internal/domain"
)

// buckets is the allocation resolution: hashes map onto [0, buckets)
const buckets = 10000

// Variant is one arm of an experiment
type Variant struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Experiment is a named split with a traffic gate
type Experiment struct {
	Name     string    `json:"name"`
	Variants []Variant `json:"variants"`
	Traffic  float64   `json:"traffic"` // [0,1] fraction enrolled
	Active   bool      `json:"active"`
}

// Assignment is the allocation outcome for one subject
type Assignment struct {
	Experiment string `json:"experiment"`
	Subject    string `json:"subject"`
	Variant    string `json:"variant,omitempty"`
	Enrolled   bool   `json:"enrolled"`
}

// bucketFor hashes subject and experiment onto the allocation space
func bucketFor(experiment, subject string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(subject))
	_, _ = h.Write([]byte{0}) // separator so ("ab","c") != ("a","bc")
	_, _ = h.Write([]byte(experiment))
	return int(h.Sum64() % buckets)
}

// allocate assigns a subject to a variant, or to no variant when the
// traffic gate excludes it or the experiment is inactive.
func allocate(exp Experiment, subject string) (Assignment, error) {
	if exp.Name == "" {
		return Assignment{}, domain.InvalidArgument("experiment name is empty")
	}
	if subject == "" {
		return Assignment{}, domain.InvalidArgument("subject is empty")
	}
	if len(exp.Variants) == 0 {
		return Assignment{}, domain.InvalidArgument("experiment %q has no variants", exp.Name)
	}

	out := Assignment{Experiment: exp.Name, Subject: subject}
	if !exp.Active {
		return out, nil
	}

	bucket := bucketFor(exp.Name, subject)
	if float64(bucket) >= exp.Traffic*buckets {
		return out, nil
	}

	total := 0.0
	for _, v := range exp.Variants {
		total += v.Weight
	}
	if total <= 0 {
		return Assignment{}, domain.InvalidArgument("experiment %q has zero total weight", exp.Name)
	}

	// The same bucket, rescaled onto the cumulative weight line.
	position := float64(bucket) / buckets * total
	cumulative := 0.0
	for _, v := range exp.Variants {
		cumulative += v.Weight
		if position < cumulative {
			out.Variant = v.Name
			out.Enrolled = true
			return out, nil
		}
	}

	// Floating point edge at the top of the line: last variant wins.
	out.Variant = exp.Variants[len(exp.Variants)-1].Name
	out.Enrolled = true
	return out, nil
}
