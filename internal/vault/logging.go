package vault

import (
	"context"
	"log/slog"

	"varsys/internal/infrastructure"
)

// logAction emits a structured vault log entry with the standard fields.
func (v *Vault) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	logger := infrastructure.LoggerWithContext(ctx)

	allAttrs := []slog.Attr{
		slog.String("component", "secret_vault"),
		slog.String("action", action),
		slog.String("result", result),
	}
	allAttrs = append(allAttrs, attrs...)

	logger.LogAttrs(ctx, level, result, allAttrs...)
}

func (v *Vault) logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	v.logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

func (v *Vault) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	v.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (v *Vault) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	v.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (v *Vault) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	v.logAction(ctx, slog.LevelError, action, result, attrs...)
}
