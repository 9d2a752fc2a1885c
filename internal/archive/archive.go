// Package archive defines how file-based observation archives are located and read.
package archive

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/opencdms/opencdms-process/internal/core/model"
)

// Location identifies the root of one archive. It is immutable once built.
type Location struct {
	fs   afero.Fs
	root string
}

func NewLocation(fs afero.Fs, root string) Location {
	return Location{fs: fs, root: root}
}

// OS binds root on the local filesystem.
func OS(root string) Location {
	return NewLocation(afero.NewOsFs(), root)
}

func (l Location) FS() afero.Fs   { return l.fs }
func (l Location) Root() string   { return l.root }
func (l Location) String() string { return l.root }

// Check reports an ArchiveNotFoundError unless root is a readable directory.
func (l Location) Check() error {
	if l.fs == nil || l.root == "" {
		return &model.ArchiveNotFoundError{Location: l.root, Reason: "no archive location configured"}
	}
	ok, err := afero.DirExists(l.fs, l.root)
	if err != nil {
		return &model.ArchiveNotFoundError{Location: l.root, Reason: err.Error()}
	}
	if !ok {
		return &model.ArchiveNotFoundError{Location: l.root, Reason: "not a directory"}
	}
	return nil
}

// Reader streams the records of one archive family that match a plan.
// Every Open starts from scratch; cursors share no state.
type Reader interface {
	Open(ctx context.Context, loc Location, plan model.QueryPlan) (*Cursor, error)
}

// Segment is one independently openable unit of an archive, typically a file.
// Open may return a *model.MalformedRecordError for a segment that cannot be
// decoded at all; the cursor skips it.
type Segment interface {
	Path() string
	Open() (Source, error)
}

// Source yields records of one open segment. Next returns io.EOF when the
// segment is exhausted and a *model.MalformedRecordError for input it skipped.
type Source interface {
	Next() (model.Record, error)
	Close() error
}

func openErr(seg Segment, err error) error {
	return fmt.Errorf("open segment %s: %w", seg.Path(), err)
}
