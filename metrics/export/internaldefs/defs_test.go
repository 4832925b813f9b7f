package internaldefs

import (
	"testing"

	"github.com/coursemart/authcore"
)

func TestCounterDefsCoverEveryCounter(t *testing.T) {
	seen := make(map[authcore.MetricID]bool)
	names := make(map[string]bool)
	for _, def := range CounterDefs {
		if seen[def.ID] {
			t.Fatalf("duplicate id %d", def.ID)
		}
		if names[def.Name] {
			t.Fatalf("duplicate name %s", def.Name)
		}
		seen[def.ID] = true
		names[def.Name] = true
	}
	for _, def := range HistogramDefs {
		seen[def.ID] = true
	}
	if len(seen) != authcore.MetricIDCount {
		t.Fatalf("expected %d defined metrics, got %d", authcore.MetricIDCount, len(seen))
	}
}

func TestBucketHelpers(t *testing.T) {
	if len(HistogramBoundSuffix) != BucketCount {
		t.Fatalf("expected %d suffixes, got %d", BucketCount, len(HistogramBoundSuffix))
	}
	if HistogramBoundSuffix[0] != "0_0001" || HistogramBoundSuffix[BucketCount-1] != "inf" {
		t.Fatalf("unexpected suffixes %v", HistogramBoundSuffix)
	}

	cum := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	if cum[2] != 6 || cum[BucketCount-1] != 6 {
		t.Fatalf("unexpected cumulative buckets %v", cum)
	}
}
