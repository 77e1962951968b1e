package flow

import (
	"context"
	"log/slog"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Notification is a toast shown to the shopper.
type Notification struct {
	Kind    Kind   `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, note Notification) {
	level := slog.LevelInfo
	if note.Kind == KindError {
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, note.Title, "kind", note.Kind, "message", note.Message)
}
