// Package table assembles observation records into a column-oriented table
// keyed by station and time.
package table

import (
	"iter"
	"sort"
	"time"

	"github.com/opencdms/opencdms-process/internal/core/model"
)

// Value is one cell. Valid is false for the explicit no-data marker.
type Value struct {
	V     float64
	Valid bool
}

var NoData = Value{}

type rowKey struct {
	station int
	time    int64
}

type cell struct {
	v       Value
	version int
	set     bool
}

// Builder collects records in any order. It is not safe for concurrent use.
type Builder struct {
	elements []string
	col      map[string]int
	rows     map[rowKey][]cell
	skipped  int
}

func NewBuilder(elements []string) *Builder {
	col := make(map[string]int, len(elements))
	for i, e := range elements {
		col[e] = i
	}
	return &Builder{
		elements: append([]string(nil), elements...),
		col:      col,
		rows:     make(map[rowKey][]cell),
	}
}

// Add places r in its row. Records for elements outside the table are
// ignored. When two records land in the same cell the higher version wins;
// on a tie a value beats no-data and then the smaller value wins, so the
// result never depends on read order.
func (b *Builder) Add(r model.Record) {
	i, ok := b.col[r.Element]
	if !ok {
		return
	}
	k := rowKey{station: r.Station, time: r.Time.UTC().UnixNano()}
	cells := b.rows[k]
	if cells == nil {
		cells = make([]cell, len(b.elements))
		b.rows[k] = cells
	}
	next := cell{v: Value{V: r.Value, Valid: r.Valid}, version: r.Version, set: true}
	if !cells[i].set || wins(next, cells[i]) {
		cells[i] = next
	}
}

func wins(a, b cell) bool {
	if a.version != b.version {
		return a.version > b.version
	}
	if a.v.Valid != b.v.Valid {
		return a.v.Valid
	}
	return a.v.Valid && a.v.V < b.v.V
}

// Skip adds n to the table's skipped-record count.
func (b *Builder) Skip(n int) { b.skipped += n }

// Build sorts rows by station then time.
func (b *Builder) Build() *Table {
	t := &Table{
		elements: b.elements,
		stations: make([]int, 0, len(b.rows)),
		times:    make([]time.Time, 0, len(b.rows)),
		skipped:  b.skipped,
	}
	keys := make([]rowKey, 0, len(b.rows))
	for k := range b.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].station != keys[j].station {
			return keys[i].station < keys[j].station
		}
		return keys[i].time < keys[j].time
	})
	t.cols = make([][]Value, len(b.elements))
	for c := range t.cols {
		t.cols[c] = make([]Value, len(keys))
	}
	for r, k := range keys {
		t.stations = append(t.stations, k.station)
		t.times = append(t.times, time.Unix(0, k.time).UTC())
		for c, cl := range b.rows[k] {
			t.cols[c][r] = cl.v
		}
	}
	return t
}

// Table is immutable once built and safe for concurrent readers.
type Table struct {
	elements []string
	stations []int
	times    []time.Time
	cols     [][]Value
	skipped  int
}

func (t *Table) Elements() []string { return append([]string(nil), t.elements...) }

func (t *Table) Len() int { return len(t.times) }

// Skipped reports how many malformed records were dropped while reading.
func (t *Table) Skipped() int { return t.skipped }

// Row is one (station, time) entry; Values follow Elements order.
type Row struct {
	Station int
	Time    time.Time
	Values  []Value
}

func (t *Table) Row(i int) Row {
	vals := make([]Value, len(t.cols))
	for c := range t.cols {
		vals[c] = t.cols[c][i]
	}
	return Row{Station: t.stations[i], Time: t.times[i], Values: vals}
}

// Rows ranges over the table in order.
func (t *Table) Rows() iter.Seq2[int, Row] {
	return func(yield func(int, Row) bool) {
		for i := range t.times {
			if !yield(i, t.Row(i)) {
				return
			}
		}
	}
}

// Column returns a copy of the named column, or nil when the table has no
// such element.
func (t *Table) Column(element string) []Value {
	for i, e := range t.elements {
		if e == element {
			return append([]Value(nil), t.cols[i]...)
		}
	}
	return nil
}

// Stations returns the distinct stations of the table in ascending order.
func (t *Table) Stations() []int {
	var out []int
	for i, s := range t.stations {
		if i == 0 || s != t.stations[i-1] {
			out = append(out, s)
		}
	}
	return out
}
