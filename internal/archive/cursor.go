package archive

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"

	"github.com/opencdms/opencdms-process/internal/core/model"
)

// Cursor walks the segments of one read lazily. At most one segment is open
// at a time; it is released when exhausted, on Close, or once ctx is done.
type Cursor struct {
	ctx      context.Context
	log      *slog.Logger
	segments []Segment
	next     int
	cur      Source
	rec      model.Record
	err      error
	skipped  int
	opened   int
	closed   bool
}

func NewCursor(ctx context.Context, logger *slog.Logger, segments []Segment) *Cursor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cursor{ctx: ctx, log: logger, segments: segments}
}

// Next advances to the next record. It returns false at the end of the
// archive subset or on a fatal error; check Err afterwards.
func (c *Cursor) Next() bool {
	for {
		if c.closed || c.err != nil {
			return false
		}
		if err := c.ctx.Err(); err != nil {
			c.fail(err)
			return false
		}
		if c.cur == nil {
			if c.next >= len(c.segments) {
				return false
			}
			seg := c.segments[c.next]
			c.next++
			src, err := seg.Open()
			if err != nil {
				if c.skip(err) {
					continue
				}
				c.fail(openErr(seg, err))
				return false
			}
			c.cur = src
			c.opened++
		}

		rec, err := c.cur.Next()
		if err == nil {
			c.rec = rec
			return true
		}
		if errors.Is(err, io.EOF) {
			c.release()
			continue
		}
		if c.skip(err) {
			continue
		}
		c.fail(err)
		return false
	}
}

// skip counts err if it is a malformed record and reports whether reading
// may go on.
func (c *Cursor) skip(err error) bool {
	var mre *model.MalformedRecordError
	if !errors.As(err, &mre) {
		return false
	}
	c.skipped += mre.Lost()
	c.log.Debug("skipping malformed record", "path", mre.Path, "line", mre.Line, "reason", mre.Reason)
	return true
}

func (c *Cursor) Record() model.Record { return c.rec }

// Err returns the first fatal error. Skipped records are not errors.
func (c *Cursor) Err() error { return c.err }

// Skipped returns how many malformed records were dropped so far.
func (c *Cursor) Skipped() int { return c.skipped }

// Opened returns how many segments were opened so far.
func (c *Cursor) Opened() int { return c.opened }

// Segments returns how many segments the read covers.
func (c *Cursor) Segments() int { return len(c.segments) }

func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.release()
}

// All ranges over the remaining records and closes the cursor when the loop
// ends, including on break.
func (c *Cursor) All() iter.Seq[model.Record] {
	return func(yield func(model.Record) bool) {
		defer func() { _ = c.Close() }()
		for c.Next() {
			if !yield(c.rec) {
				return
			}
		}
	}
}

func (c *Cursor) fail(err error) {
	c.err = err
	_ = c.release()
}

func (c *Cursor) release() error {
	if c.cur == nil {
		return nil
	}
	err := c.cur.Close()
	c.cur = nil
	return err
}
