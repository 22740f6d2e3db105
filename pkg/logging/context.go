package logging

import (
	"context"

	"github.com/sirupsen/logrus"
)

const ScridField = "scrid"

type entryKey struct{}

// WithScrid returns a context holding entry tagged with scrid. Everything that
// logs while handling that request should obtain its entry via FromContext.
func WithScrid(ctx context.Context, entry *logrus.Entry, scrid string) context.Context {
	return context.WithValue(ctx, entryKey{}, entry.WithField(ScridField, scrid))
}

// FromContext returns the request entry stored in ctx, or fallback.
func FromContext(ctx context.Context, fallback *logrus.Entry) *logrus.Entry {
	if ctx != nil {
		if e, ok := ctx.Value(entryKey{}).(*logrus.Entry); ok {
			return e
		}
	}
	return fallback
}
