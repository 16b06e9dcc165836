package alert

import (
	"fmt"
	"strings"
)

// Bucket is the discrete priority class derived from the priority score.
type Bucket string

const (
	BucketLow      Bucket = "LOW"
	BucketMedium   Bucket = "MEDIUM"
	BucketHigh     Bucket = "HIGH"
	BucketCritical Bucket = "CRITICAL"
)

// Rank orders buckets LOW < MEDIUM < HIGH < CRITICAL. Unrecognised buckets rank 0.
func (b Bucket) Rank() int {
	switch b {
	case BucketLow:
		return 1
	case BucketMedium:
		return 2
	case BucketHigh:
		return 3
	case BucketCritical:
		return 4
	}
	return 0
}

// MaxBucket returns the higher of two buckets.
func MaxBucket(a, b Bucket) Bucket {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseBucket accepts a bucket name in any case.
func ParseBucket(s string) (Bucket, error) {
	b := Bucket(strings.ToUpper(strings.TrimSpace(s)))
	if b.Rank() == 0 {
		return "", fmt.Errorf("unknown priority bucket %q", s)
	}
	return b, nil
}
