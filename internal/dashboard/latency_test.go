package dashboard

import (
	"math"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func ptrString(v string) *string    { return &v }
func ptrUint64(v uint64) *uint64    { return &v }
func ptrFloat64(v float64) *float64 { return &v }

func TestSnapshotFlowLatencyEmptyRegistry(t *testing.T) {
	snap := snapshotFlowLatency(stubGatherer{})
	if snap.Total != 0 || len(snap.Buckets) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestSnapshotFlowLatencyAggregatesHistogram(t *testing.T) {
	family := &dto.MetricFamily{
		Name: ptrString(flowLatencyMetric),
		Metric: []*dto.Metric{
			{
				Histogram: &dto.Histogram{
					SampleCount: ptrUint64(10),
					Bucket: []*dto.Bucket{
						{UpperBound: ptrFloat64(0.5), CumulativeCount: ptrUint64(4)},
						{UpperBound: ptrFloat64(2.0), CumulativeCount: ptrUint64(9)},
						{UpperBound: ptrFloat64(math.Inf(1)), CumulativeCount: ptrUint64(10)},
					},
				},
			},
		},
	}

	snap := snapshotFlowLatency(stubGatherer{families: []*dto.MetricFamily{family}})
	if snap.Total != 10 {
		t.Fatalf("expected 10 samples, got %d", snap.Total)
	}
	if snap.P90Ms <= 0 || snap.P95Ms < snap.P90Ms {
		t.Errorf("expected increasing quantiles, got p90=%f p95=%f", snap.P90Ms, snap.P95Ms)
	}
	if len(snap.Buckets) != 3 {
		t.Fatalf("expected 3 buckets (incl overflow), got %d", len(snap.Buckets))
	}
	if snap.Buckets[0].Count != 4 || snap.Buckets[1].Count != 5 || snap.Buckets[2].Count != 1 {
		t.Errorf("unexpected bucket counts %+v", snap.Buckets)
	}
}
