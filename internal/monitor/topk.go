package monitor

import "sort"

// Metric selects the ranking column for TopBy.
type Metric string

const (
	MetricElapsed      Metric = "elapsed"
	MetricBytesScanned Metric = "bytes_scanned"
	MetricCloudCredits Metric = "cloud_credits"
)

// ParseMetric accepts the metric names used by the API.
func ParseMetric(v string) (Metric, bool) {
	switch Metric(v) {
	case MetricElapsed, MetricBytesScanned, MetricCloudCredits:
		return Metric(v), true
	}
	return "", false
}

func (m Metric) value(r QueryRecord) float64 {
	switch m {
	case MetricBytesScanned:
		return float64(r.BytesScanned)
	case MetricCloudCredits:
		return r.CloudServicesCredits
	default:
		return float64(r.TotalElapsedMs)
	}
}

// TopBy returns at most n records ordered by metric, descending. Ties keep
// their input order. The input slice is not modified.
func TopBy(records []QueryRecord, metric Metric, n int) []QueryRecord {
	sorted := make([]QueryRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return metric.value(sorted[i]) > metric.value(sorted[j])
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
