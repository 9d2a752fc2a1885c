package midas

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/opencdms/opencdms-process/internal/archive"
	"github.com/opencdms/opencdms-process/internal/core/model"
)

const (
	dataMarker = "data"
	endMarker  = "end data"
	noData     = "NA"
)

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range timeLayouts {
		if t, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable time %q", s)
}

// header holds the global BADC-CSV metadata of one file, keyed by name.
type header map[string][]string

func (h header) first(name string) string {
	if v := h[name]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func newCSV(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	return cr
}

// readHeader consumes metadata rows up to and including the data marker.
func readHeader(cr *csv.Reader) (header, error) {
	h := header{}
	for {
		row, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("no data section")
			}
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				continue
			}
			return nil, err
		}
		name := strings.TrimSpace(row[0])
		if name == dataMarker {
			return h, nil
		}
		if len(row) >= 3 && strings.TrimSpace(row[1]) == "G" {
			h[name] = row[2:]
		}
	}
}

type segment struct {
	fs      afero.Fs
	path    string
	station int
	ds      dataset
	plan    model.QueryPlan
}

func (s *segment) Path() string { return s.path }

func (s *segment) Open() (archive.Source, error) {
	f, err := s.fs.Open(s.path)
	if err != nil {
		return nil, err
	}
	src := &source{seg: s, f: f, cr: newCSV(f)}
	if err := src.init(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return src, nil
}

type column struct {
	code    model.ElementCode
	idx     int
	quality int
}

type result struct {
	rec model.Record
	err error
}

// source decodes one BADC-CSV file into one record per requested element
// and data row.
type source struct {
	seg   *segment
	f     afero.File
	cr    *csv.Reader
	cols  []column
	tIdx  int
	sIdx  int
	vIdx  int
	width int
	queue []result
	done  bool
}

func (s *source) malformed(line int, reason string, records int) *model.MalformedRecordError {
	return &model.MalformedRecordError{Path: s.seg.path, Line: line, Reason: reason, Records: records}
}

func (s *source) init() error {
	if _, err := readHeader(s.cr); err != nil {
		return s.malformed(0, err.Error(), 0)
	}
	names, err := s.cr.Read()
	if err != nil {
		return s.malformed(0, "missing column header", 0)
	}
	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[strings.TrimSpace(n)] = i
	}
	lookup := func(name string) int {
		if i, ok := idx[name]; ok {
			return i
		}
		return -1
	}

	timeCol := timeColumns[s.seg.ds.table]
	if s.tIdx = lookup(timeCol); s.tIdx < 0 {
		return s.malformed(0, "missing time column "+timeCol, 0)
	}
	s.sIdx = lookup("src_id")
	s.vIdx = lookup("version_num")
	s.width = max(s.tIdx, s.sIdx, s.vIdx) + 1
	for _, c := range s.seg.ds.codes {
		i := lookup(c.Column)
		if i < 0 {
			continue
		}
		s.cols = append(s.cols, column{code: c, idx: i, quality: lookup(c.Column + "_q")})
		s.width = max(s.width, i+1)
	}
	return nil
}

func (s *source) Next() (model.Record, error) {
	for len(s.queue) == 0 {
		if s.done {
			return model.Record{}, io.EOF
		}
		row, err := s.cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				continue
			}
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return model.Record{}, s.malformed(pe.Line, pe.Err.Error(), len(s.cols))
			}
			return model.Record{}, fmt.Errorf("read %s: %w", s.seg.path, err)
		}
		if strings.TrimSpace(row[0]) == endMarker {
			s.done = true
			continue
		}
		line, _ := s.cr.FieldPos(0)
		s.decode(row, line)
	}
	r := s.queue[0]
	s.queue = s.queue[1:]
	return r.rec, r.err
}

func (s *source) decode(row []string, line int) {
	if len(s.cols) == 0 {
		return
	}
	if len(row) < s.width {
		s.queue = append(s.queue, result{err: s.malformed(line, "short row", len(s.cols))})
		return
	}
	t, err := parseTime(row[s.tIdx])
	if err != nil {
		s.queue = append(s.queue, result{err: s.malformed(line, err.Error(), len(s.cols))})
		return
	}
	station := s.seg.station
	if s.sIdx >= 0 {
		if v := strings.TrimSpace(row[s.sIdx]); v != "" {
			if station, err = strconv.Atoi(v); err != nil {
				s.queue = append(s.queue, result{err: s.malformed(line, "bad src_id "+strconv.Quote(v), len(s.cols))})
				return
			}
		}
	}
	if !s.seg.plan.HasStation(station) || !s.seg.plan.Years.Contains(t.Year()) {
		return
	}
	version := 0
	if s.vIdx >= 0 {
		if v := strings.TrimSpace(row[s.vIdx]); v != "" {
			if version, err = strconv.Atoi(v); err != nil {
				s.queue = append(s.queue, result{err: s.malformed(line, "bad version_num "+strconv.Quote(v), len(s.cols))})
				return
			}
		}
	}

	for _, c := range s.cols {
		rec := model.Record{Station: station, Time: t, Element: c.code.Name, Version: version}
		if c.quality >= 0 && c.quality < len(row) {
			rec.Quality = strings.TrimSpace(row[c.quality])
		}
		raw := strings.TrimSpace(row[c.idx])
		if raw != "" && !strings.EqualFold(raw, noData) {
			v, err := parseValue(raw)
			if err != nil {
				s.queue = append(s.queue, result{err: s.malformed(line, fmt.Sprintf("bad %s value %q", c.code.Column, raw), 1)})
				continue
			}
			rec.Value, rec.Valid = v, true
		}
		s.queue = append(s.queue, result{rec: rec})
	}
}

func (s *source) Close() error {
	return s.f.Close()
}

// parseValue reads a decimal measurement. NaN, infinities and hex floats
// are not measurements.
func parseValue(raw string) (float64, error) {
	digits := strings.TrimLeft(raw, "+-")
	if len(digits) > 1 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		return 0, strconv.ErrSyntax
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
