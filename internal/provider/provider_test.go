package provider_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/opencdms/opencdms-process/internal/archive"
	"github.com/opencdms/opencdms-process/internal/archive/midas"
	"github.com/opencdms/opencdms-process/internal/archive/midas/midastest"
	"github.com/opencdms/opencdms-process/internal/core/model"
	"github.com/opencdms/opencdms-process/internal/provider"
)

const root = "/archive"

func newProvider(t *testing.T) (*provider.Provider, *midastest.CountingFs) {
	t.Helper()
	mem := afero.NewMemMapFs()
	if err := midastest.Sample(mem, root, midastest.Exeter, midastest.Dyce); err != nil {
		t.Fatalf("sample: %v", err)
	}
	fs := midastest.NewCountingFs(mem)
	p, err := provider.New(midas.Family, archive.NewLocation(fs, root))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, fs
}

func windFilters() model.FilterSpec {
	return model.FilterSpec{
		"station_id": 838,
		"period":     "hourly",
		"year":       1991,
		"elements":   []any{"wind_speed", "wind_direction"},
	}
}

func exportCSV(p *provider.Provider, f model.FilterSpec) (string, error) {
	tb, err := p.Obs(context.Background(), f)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tb.WriteDelimited(&buf, ','); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func export(t *testing.T, p *provider.Provider, f model.FilterSpec) string {
	t.Helper()
	s, err := exportCSV(p, f)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	return s
}

func TestObs_Station838HourlyWind(t *testing.T) {
	p, _ := newProvider(t)
	tb, err := p.Obs(context.Background(), windFilters())
	if err != nil {
		t.Fatalf("Obs: %v", err)
	}
	if got := tb.Elements(); len(got) != 2 || got[0] != "wind_direction" || got[1] != "wind_speed" {
		t.Fatalf("elements=%v", got)
	}
	if tb.Len() != 24 {
		t.Fatalf("rows=%d want 24", tb.Len())
	}
	for _, r := range tb.Rows() {
		if r.Station != 838 || r.Time.Year() != 1991 {
			t.Fatalf("row outside filter: %+v", r)
		}
	}
	if v := tb.Column("wind_speed")[5]; v.Valid {
		t.Fatalf("hour 5 must be no-data, got %+v", v)
	}
	if tb.Skipped() != 0 {
		t.Fatalf("skipped=%d", tb.Skipped())
	}
}

func TestObs_RepeatedExportsAreIdentical(t *testing.T) {
	p, _ := newProvider(t)
	a := export(t, p, windFilters())
	b := export(t, p, windFilters())
	if a != b {
		t.Fatalf("exports differ")
	}
	if !strings.Contains(a, "1991-01-01 05:00:00,838,75,NA\n") {
		t.Fatalf("expected explicit no-data marker in export:\n%s", a)
	}
}

func TestObs_UnknownKeyFailsWithoutArchiveAccess(t *testing.T) {
	p, fs := newProvider(t)
	fs.Reset()
	_, err := p.Obs(context.Background(), model.FilterSpec{"station_id": 838, "colour": "red"})
	if !errors.Is(err, model.ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
	if n := fs.Touched(); n != 0 {
		t.Fatalf("archive touched %d times for an invalid filter", n)
	}
}

func TestObs_ConcurrentCallsAreIndependent(t *testing.T) {
	p, _ := newProvider(t)
	wantWind := export(t, p, windFilters())
	daily := model.FilterSpec{"station_id": 161, "period": "daily"}
	wantDaily := export(t, p, daily)

	var wg sync.WaitGroup
	errs := make(chan string, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if got, err := exportCSV(p, windFilters()); err != nil || got != wantWind {
				errs <- "wind export changed under concurrency"
			}
		}()
		go func() {
			defer wg.Done()
			if got, err := exportCSV(p, daily); err != nil || got != wantDaily {
				errs <- "daily export changed under concurrency"
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatal(e)
	}
}

func TestObs_CorruptRecordIsSkipped(t *testing.T) {
	mem := afero.NewMemMapFs()
	f := midastest.HourlyWind(midastest.Exeter, 1991)
	f.Rows[3][7] = "12..5"
	if _, err := midastest.Write(mem, root, f); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := provider.New(midas.Family, archive.NewLocation(mem, root))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tb, err := p.Obs(context.Background(), model.FilterSpec{"station_id": 838, "year": 1991, "elements": "wind_speed"})
	if err != nil {
		t.Fatalf("Obs: %v", err)
	}
	if tb.Skipped() != 1 {
		t.Fatalf("skipped=%d want 1", tb.Skipped())
	}
	// the corrupt row leaves no row behind; the blank hour-5 value stays as no-data
	if tb.Len() != 23 {
		t.Fatalf("rows=%d want 23", tb.Len())
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := provider.New("no-such-family", archive.NewLocation(afero.NewMemMapFs(), "/")); err == nil {
		t.Fatalf("expected error for unknown family")
	}
	_, err := provider.New(midas.Family, archive.NewLocation(afero.NewMemMapFs(), "/missing"))
	if !errors.Is(err, model.ErrArchiveNotFound) {
		t.Fatalf("expected ErrArchiveNotFound, got %v", err)
	}
}

func TestFamilies_IncludesMidas(t *testing.T) {
	found := false
	for _, f := range provider.Families() {
		if f == midas.Family {
			found = true
		}
	}
	if !found {
		t.Fatalf("midas-open not registered: %v", provider.Families())
	}
}
