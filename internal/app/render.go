package service

import (
	"context"

	"github.com/okian/staffrate/pkg/logger"
)

// Renderer draws a board. It is called after every snapshot and on sync-state
// changes, always from the listener goroutine, and must not modify the board.
type Renderer interface {
	Render(ctx context.Context, board Board)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, board Board)

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, board Board) { f(ctx, board) }

// LogRenderer writes a one-line summary of every frame.
type LogRenderer struct {
	logger logger.Logger
}

// NewLogRenderer returns a renderer that logs through log, or the "board"
// logger when log is nil.
func NewLogRenderer(log logger.Logger) *LogRenderer {
	if log == nil {
		log = logger.Get().Named("board")
	}
	return &LogRenderer{logger: log}
}

// Render logs status, version and leader.
func (r *LogRenderer) Render(ctx context.Context, board Board) {
	fields := []logger.Field{
		logger.String("status", string(board.Status)),
		logger.Uint64("version", board.Version),
		logger.Int("staff", len(board.Entities)),
	}
	if board.Leader.Determined {
		fields = append(fields,
			logger.String("leader", board.Leader.ID),
			logger.Float64("leader_average", board.Leader.Average),
		)
	}
	r.logger.Info(ctx, "board updated", fields...)
}
