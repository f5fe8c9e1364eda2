package cost

import (
	"sort"
	"time"
)

// CreditSeries is a bucket-by-warehouse matrix for line charts. Values[i][j]
// holds the credits of Warehouses[j] in Buckets[i], or nil when absent.
type CreditSeries struct {
	Buckets    []time.Time  `json:"buckets"`
	Warehouses []string     `json:"warehouses"`
	Values     [][]*float64 `json:"values"`
}

// Pivot arranges buckets oldest first with warehouses in name order.
func Pivot(buckets []CreditBucket) CreditSeries {
	series := CreditSeries{Buckets: []time.Time{}, Warehouses: []string{}, Values: [][]*float64{}}
	bucketIdx := map[int64]int{}
	whIdx := map[string]int{}
	for _, b := range buckets {
		if _, ok := bucketIdx[b.Bucket.UnixNano()]; !ok {
			bucketIdx[b.Bucket.UnixNano()] = 0
			series.Buckets = append(series.Buckets, b.Bucket)
		}
		if _, ok := whIdx[b.Warehouse]; !ok {
			whIdx[b.Warehouse] = 0
			series.Warehouses = append(series.Warehouses, b.Warehouse)
		}
	}
	sort.Slice(series.Buckets, func(i, j int) bool { return series.Buckets[i].Before(series.Buckets[j]) })
	sort.Strings(series.Warehouses)
	for i, t := range series.Buckets {
		bucketIdx[t.UnixNano()] = i
	}
	for j, w := range series.Warehouses {
		whIdx[w] = j
	}

	series.Values = make([][]*float64, len(series.Buckets))
	for i := range series.Values {
		series.Values[i] = make([]*float64, len(series.Warehouses))
	}
	for _, b := range buckets {
		cell := &series.Values[bucketIdx[b.Bucket.UnixNano()]][whIdx[b.Warehouse]]
		sum := b.CreditsUsed
		if *cell != nil {
			sum += **cell
		}
		*cell = &sum
	}
	return series
}
