package service

import (
	"context"

	"github.com/ezpay/wallet-auth/pkg/slogx"
)

// WithRequestID stamps the request id onto the context so deep call sites
// (anomaly events, audit records) can correlate without threading it
// through every signature. It shares slogx's id so log lines carry the
// same value.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	return slogx.WithRequestID(ctx, reqID)
}

func requestIDFromContext(ctx context.Context) string {
	return slogx.RequestID(ctx)
}
