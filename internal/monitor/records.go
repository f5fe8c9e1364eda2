package monitor

import (
	"time"

	"github.com/ncecere/snowflake_query_monitor/internal/warehouse"
)

// QueryRecord is one row of query history or live query listing.
type QueryRecord struct {
	QueryID              string     `json:"query_id"`
	UserName             string     `json:"user_name"`
	WarehouseName        string     `json:"warehouse_name"`
	DatabaseName         string     `json:"database_name,omitempty"`
	SchemaName           string     `json:"schema_name,omitempty"`
	StartTime            time.Time  `json:"start_time"`
	EndTime              *time.Time `json:"end_time,omitempty"`
	TotalElapsedMs       int64      `json:"total_elapsed_time_ms"`
	BytesScanned         int64      `json:"bytes_scanned"`
	RowsProduced         int64      `json:"rows_produced"`
	CloudServicesCredits float64    `json:"credits_used_cloud_services"`
	ExecutionStatus      string     `json:"execution_status,omitempty"`
	QueryTag             string     `json:"query_tag,omitempty"`
	QueryText            string     `json:"query_text"`
}

// StatusCount is the number of queries in one execution status.
type StatusCount struct {
	Status string `json:"execution_status"`
	Count  int64  `json:"query_count"`
}

// RecordsFromResult decodes query rows. Columns the statement did not select
// are left at their zero values.
func RecordsFromResult(res *warehouse.Result) []QueryRecord {
	out := make([]QueryRecord, 0, res.Len())
	for i := 0; i < res.Len(); i++ {
		row := res.Row(i)
		start, _ := row.Time("START_TIME")
		out = append(out, QueryRecord{
			QueryID:              row.String("QUERY_ID"),
			UserName:             row.String("USER_NAME"),
			WarehouseName:        row.String("WAREHOUSE_NAME"),
			DatabaseName:         row.String("DATABASE_NAME"),
			SchemaName:           row.String("SCHEMA_NAME"),
			StartTime:            start,
			EndTime:              row.TimePtr("END_TIME"),
			TotalElapsedMs:       row.Int64("TOTAL_ELAPSED_TIME"),
			BytesScanned:         row.Int64("BYTES_SCANNED"),
			RowsProduced:         row.Int64("ROWS_PRODUCED"),
			CloudServicesCredits: row.Float64("CREDITS_USED_CLOUD_SERVICES"),
			ExecutionStatus:      row.String("EXECUTION_STATUS"),
			QueryTag:             row.String("QUERY_TAG"),
			QueryText:            row.String("QUERY_TEXT"),
		})
	}
	return out
}

func statusCountsFromResult(res *warehouse.Result) []StatusCount {
	out := make([]StatusCount, 0, res.Len())
	for i := 0; i < res.Len(); i++ {
		row := res.Row(i)
		out = append(out, StatusCount{
			Status: row.String("EXECUTION_STATUS"),
			Count:  row.Int64("QUERY_COUNT"),
		})
	}
	return out
}
