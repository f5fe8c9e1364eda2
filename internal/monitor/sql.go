package monitor

const queryHistoryTable = "SNOWFLAKE.ACCOUNT_USAGE.QUERY_HISTORY"

// Each template takes the rendered predicate as its only verb.
const (
	statusOverviewSQL = `SELECT
  EXECUTION_STATUS,
  COUNT(*) AS QUERY_COUNT
FROM ` + queryHistoryTable + `
WHERE %s
GROUP BY EXECUTION_STATUS
ORDER BY QUERY_COUNT DESC`

	metricSQL = `SELECT
  QUERY_ID,
  USER_NAME,
  WAREHOUSE_NAME,
  START_TIME,
  TOTAL_ELAPSED_TIME,
  BYTES_SCANNED,
  CREDITS_USED_CLOUD_SERVICES,
  QUERY_TEXT
FROM ` + queryHistoryTable + `
WHERE %s`

	longRunningSQL = `SELECT
  QUERY_ID,
  USER_NAME,
  WAREHOUSE_NAME,
  START_TIME,
  TOTAL_ELAPSED_TIME,
  EXECUTION_STATUS,
  QUERY_TEXT
FROM ` + queryHistoryTable + `
WHERE %s
ORDER BY TOTAL_ELAPSED_TIME DESC`

	rawHistorySQL = `SELECT
  QUERY_ID,
  USER_NAME,
  WAREHOUSE_NAME,
  DATABASE_NAME,
  SCHEMA_NAME,
  START_TIME,
  END_TIME,
  TOTAL_ELAPSED_TIME,
  BYTES_SCANNED,
  ROWS_PRODUCED,
  EXECUTION_STATUS,
  QUERY_TAG,
  QUERY_TEXT
FROM ` + queryHistoryTable + `
WHERE %s
ORDER BY START_TIME DESC
LIMIT %d`

	runningFallbackSQL = `SELECT
  QUERY_ID,
  USER_NAME,
  WAREHOUSE_NAME,
  START_TIME,
  TOTAL_ELAPSED_TIME,
  EXECUTION_STATUS,
  QUERY_TEXT
FROM TABLE(
  INFORMATION_SCHEMA.QUERY_HISTORY(
    END_TIME_RANGE_START => DATEADD('minute', -:minutes, CURRENT_TIMESTAMP())
  )
)
WHERE WAREHOUSE_NAME = :warehouse
  AND END_TIME IS NULL
ORDER BY START_TIME DESC`
)
