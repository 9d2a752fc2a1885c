// Package process defines the units a process host can list and execute.
// Every failure leaves a processor as a Result carrying an *Error; nothing
// is raised past Invoke.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opencdms/opencdms-process/internal/core/model"
	"github.com/opencdms/opencdms-process/internal/provider"
	"github.com/opencdms/opencdms-process/internal/runtime/rscript"
)

type Kind string

const (
	KindInvalidInput          Kind = "invalid-input"
	KindDependencyUnavailable Kind = "dependency-unavailable"
	KindArchiveNotFound       Kind = "archive-not-found"
	KindInternal              Kind = "internal"
)

type Error struct {
	Kind    Kind     `json:"type"`
	Message string   `json:"detail"`
	Missing []string `json:"missing,omitempty"`
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// ErrorFrom classifies err. Anything unknown is internal.
func ErrorFrom(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	var due *model.DependencyUnavailableError
	switch {
	case errors.As(err, &due):
		return &Error{Kind: KindDependencyUnavailable, Message: err.Error(), Missing: due.Missing}
	case errors.Is(err, model.ErrInvalidFilter):
		return &Error{Kind: KindInvalidInput, Message: err.Error()}
	case errors.Is(err, model.ErrArchiveNotFound):
		return &Error{Kind: KindArchiveNotFound, Message: err.Error()}
	default:
		return &Error{Kind: KindInternal, Message: err.Error()}
	}
}

func InvalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

type Request struct {
	Inputs map[string]any `json:"inputs"`
}

type Result struct {
	MediaType string         `json:"-"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Err       *Error         `json:"error,omitempty"`
}

func (r Result) OK() bool { return r.Err == nil }

func Failed(err error) Result {
	return Result{MediaType: "application/json", Err: ErrorFrom(err)}
}

type Input struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema"`
	MinOccurs   int            `json:"minOccurs"`
	MaxOccurs   int            `json:"maxOccurs,omitempty"`
	Keywords    []string       `json:"keywords,omitempty"`
}

type Output struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema"`
}

type Metadata struct {
	ID          string            `json:"id"`
	Version     string            `json:"version"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Keywords    []string          `json:"keywords,omitempty"`
	Inputs      map[string]Input  `json:"inputs"`
	Outputs     map[string]Output `json:"outputs"`
	Example     map[string]any    `json:"example,omitempty"`
	// Packages lists the R packages the process needs; empty for pure Go.
	Packages []string `json:"requirements,omitempty"`
}

type Processor interface {
	Metadata() Metadata
	Execute(ctx context.Context, req Request) Result
}

// Runtime is the slice of the R runtime processors use.
type Runtime interface {
	Require(ctx context.Context, pkgs ...string) error
	Run(ctx context.Context, c rscript.Call) ([]byte, error)
}

// Stations looks up archive stations by id.
type Stations interface {
	Get(id int) (model.Station, bool)
}

type Deps struct {
	Logger   *slog.Logger
	Provider *provider.Provider
	Runtime  Runtime
	// Stations is optional.
	Stations Stations
}

type Factory func(Deps) (Processor, error)
