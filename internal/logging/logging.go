// Package logging builds the service logger: JSON to stdout by default,
// pushed to Grafana Loki when a URL is configured. Request-scoped attributes
// (payment reference, provider) travel on the context and are attached to
// every record emitted under it.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/grafana/loki-client-go/loki"
	slogloki "github.com/samber/slog-loki/v3"
)

type contextKey struct{}

var fieldsKey contextKey

// WithAttrs returns a context carrying extra log attributes.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if existing, ok := ctx.Value(fieldsKey).([]slog.Attr); ok {
		attrs = append(existing[:len(existing):len(existing)], attrs...)
	}
	return context.WithValue(ctx, fieldsKey, attrs)
}

func contextAttrs(ctx context.Context) []slog.Attr {
	attrs, _ := ctx.Value(fieldsKey).([]slog.Attr)
	return attrs
}

// ContextHandler decorates records with the attributes stored on the
// context by WithAttrs.
type ContextHandler struct {
	slog.Handler
}

func (h ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(contextAttrs(ctx)...)
	return h.Handler.Handle(ctx, record)
}

// New returns the service logger. An empty lokiURL logs JSON to stdout.
func New(lokiURL string) *slog.Logger {
	if lokiURL == "" {
		return local()
	}
	return remote(lokiURL)
}

func local() *slog.Logger {
	return slog.New(ContextHandler{Handler: slog.NewJSONHandler(os.Stdout, nil)})
}

func remote(url string) *slog.Logger {
	lokiConfig, _ := loki.NewDefaultConfig(url)
	client, _ := loki.New(lokiConfig)

	return slog.New(slogloki.Option{
		Level:  slog.LevelInfo,
		Client: client,
		AttrFromContext: []func(ctx context.Context) []slog.Attr{
			contextAttrs,
		},
	}.NewLokiHandler()).With("service", "payments-core")
}
