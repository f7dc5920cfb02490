package core

import "context"

type contextKey string

const ctxKeyOrigin contextKey = "load_origin"

// Origin describes who asked for a load. It is only used for logging.
type Origin struct {
	IP        string
	UserAgent string
}

// WithOrigin attaches o to ctx.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, ctxKeyOrigin, o)
}

// OriginFrom returns the Origin attached to ctx, or the zero value.
func OriginFrom(ctx context.Context) Origin {
	if o, ok := ctx.Value(ctxKeyOrigin).(Origin); ok {
		return o
	}
	return Origin{}
}
