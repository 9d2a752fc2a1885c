// Command obs-export writes the observations matching a filter to a
// delimited file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/afero"

	"github.com/opencdms/opencdms-process/internal/archive"
	_ "github.com/opencdms/opencdms-process/internal/archive/midas"
	"github.com/opencdms/opencdms-process/internal/core/model"
	"github.com/opencdms/opencdms-process/internal/filter"
	"github.com/opencdms/opencdms-process/internal/logger"
	"github.com/opencdms/opencdms-process/internal/provider"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("obs-export", flag.ContinueOnError)
	root := fs.String("archive", os.Getenv("ARCHIVE_ROOT"), "archive root directory")
	family := fs.String("family", "midas-open", "archive family")
	stations := fs.String("src_id", "", "comma separated station ids (default all)")
	period := fs.String("period", "", "hourly, daily or monthly (default all)")
	years := fs.String("year", "", "year or range such as 1990-1992 (default all)")
	elements := fs.String("elements", "", "comma separated element names (default all)")
	out := fs.String("out", "obs.csv", "output file")
	tab := fs.Bool("tab", false, "tab separated output")
	level := fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	zl := logger.Build(logger.Config{Level: *level, Console: true, Component: "obs-export"}, os.Stderr)
	log := logger.NewSlog(&zl)

	spec := model.FilterSpec{}
	if s := list(*stations); s != nil {
		spec[filter.KeySrcID] = s
	}
	if *period != "" {
		spec[filter.KeyPeriod] = *period
	}
	if *years != "" {
		spec[filter.KeyYear] = *years
	}
	if e := list(*elements); e != nil {
		spec[filter.KeyElements] = e
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prov, err := provider.New(*family, archive.OS(*root), provider.WithLogger(log))
	if err != nil {
		log.Error("open archive", "err", err)
		return 1
	}
	tb, err := prov.Obs(ctx, spec)
	if err != nil {
		log.Error("read observations", "err", err)
		return 1
	}

	sep := ','
	if *tab {
		sep = '\t'
	}
	if err := tb.ToDelimitedSep(afero.NewOsFs(), *out, sep); err != nil {
		log.Error("write export", "path", *out, "err", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "wrote %d rows to %s (%d malformed records skipped)\n", tb.Len(), *out, tb.Skipped())
	return 0
}

func list(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
