package warehouse

import "context"

type queryNameKey struct{}

// WithQueryName labels the queries issued with ctx for metrics and logs.
func WithQueryName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, queryNameKey{}, name)
}

// QueryName returns the label set by WithQueryName, or "adhoc".
func QueryName(ctx context.Context) string {
	if name, ok := ctx.Value(queryNameKey{}).(string); ok && name != "" {
		return name
	}
	return "adhoc"
}
