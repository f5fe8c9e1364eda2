package cost

const (
	meteringTable = "SNOWFLAKE.ACCOUNT_USAGE.WAREHOUSE_METERING_HISTORY"
	historyTable  = "SNOWFLAKE.ACCOUNT_USAGE.QUERY_HISTORY"
)

const (
	// creditRollupSQL takes the truncation unit and the metering predicate.
	creditRollupSQL = `SELECT
  DATE_TRUNC('%s', START_TIME) AS BUCKET,
  WAREHOUSE_NAME,
  SUM(CREDITS_USED) AS CREDITS_USED
FROM ` + meteringTable + `
WHERE %s
GROUP BY 1, 2
ORDER BY 1 DESC`

	// allocationQueriesSQL leaves QUERY_TEXT out; the window total is the
	// elapsed time of every filtered query in the same warehouse-hour.
	allocationQueriesSQL = `SELECT
  QUERY_ID,
  USER_NAME,
  WAREHOUSE_NAME,
  START_TIME,
  TOTAL_ELAPSED_TIME,
  SUM(TOTAL_ELAPSED_TIME) OVER (
    PARTITION BY DATE_TRUNC('hour', START_TIME), WAREHOUSE_NAME
  ) AS BUCKET_ELAPSED_MS
FROM ` + historyTable + `
WHERE %s`

	queryTextSQL = `SELECT
  QUERY_ID,
  QUERY_TEXT
FROM ` + historyTable + `
WHERE %s`
)
