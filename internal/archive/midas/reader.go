package midas

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opencdms/opencdms-process/internal/archive"
	"github.com/opencdms/opencdms-process/internal/core/model"
)

type Reader struct {
	log *slog.Logger
}

func NewReader(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reader{log: logger.With("archive", Family)}
}

func (r *Reader) Open(ctx context.Context, loc archive.Location, plan model.QueryPlan) (*archive.Cursor, error) {
	if plan.Family != "" && plan.Family != Family {
		return nil, fmt.Errorf("midas reader cannot serve %s plans", plan.Family)
	}
	if err := loc.Check(); err != nil {
		return nil, err
	}
	segs, err := walk(ctx, loc, plan, r.log)
	if err != nil {
		return nil, err
	}
	r.log.Debug("archive read planned", "root", loc.Root(), "segments", len(segs))
	return archive.NewCursor(ctx, r.log, segs), nil
}
