package observability

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/message-dispatch/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type runIDKey struct{}

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

// WithRunID tags ctx with the id of the current dispatch run.
func WithRunID(ctx context.Context, runID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, runIDKey{}, runID)
}

func RunIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	runID, ok := ctx.Value(runIDKey{}).(string)
	if !ok || runID == "" {
		return "", false
	}

	return runID, true
}

// WithContextLogger returns logger annotated with the run id carried by ctx.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	runID, ok := RunIDFromContext(ctx)
	if !ok {
		return logger
	}

	return logger.With(zap.String("runId", runID))
}

// OutcomeFields describes a settled send: its kind, result and duration, plus
// the gateway status and send error when present.
func OutcomeFields(kind domain.AttemptKind, outcome domain.Outcome) []zap.Field {
	fields := []zap.Field{
		zap.String("kind", kind.String()),
		zap.Bool("succeeded", outcome.Succeeded),
		zap.Int64("durationMs", outcome.DurationMs()),
	}
	if outcome.StatusCode > 0 {
		fields = append(fields, zap.Int("statusCode", outcome.StatusCode))
	}
	if outcome.Err != nil {
		fields = append(fields, zap.NamedError("sendError", outcome.Err))
	}
	return fields
}

// AttemptFields identifies a persisted attempt in log lines.
func AttemptFields(a domain.Attempt) []zap.Field {
	return []zap.Field{
		zap.Uint("attemptId", a.ID),
		zap.String("kind", a.Kind.String()),
	}
}
