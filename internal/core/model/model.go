// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"strings"
	"time"
)

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching wfs/wms bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

func (b BBox) Contains(lat, lon float64) bool {
	return lon >= b.X1 && lon <= b.X2 && lat >= b.Y1 && lat <= b.Y2
}

// Period is the time granularity of an archive dataset.
type Period string

const (
	PeriodHourly  Period = "hourly"
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

var periods = []Period{PeriodHourly, PeriodDaily, PeriodMonthly}

func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range periods {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown period %q (must be one of hourly, daily, monthly)", s)
}

// FilterSpec is the caller-supplied, pre-validation query restriction.
// Values are whatever the caller decoded (JSON numbers, strings, lists).
type FilterSpec map[string]any

// YearRange is inclusive on both ends. The zero value is unrestricted.
type YearRange struct {
	From    int
	To      int
	Bounded bool
}

func (r YearRange) Contains(year int) bool {
	if !r.Bounded {
		return true
	}
	return year >= r.From && year <= r.To
}

func (r YearRange) String() string {
	if !r.Bounded {
		return "*"
	}
	if r.From == r.To {
		return fmt.Sprintf("%d", r.From)
	}
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// ElementCode resolves a public element name to where it lives in one archive family.
type ElementCode struct {
	Name   string
	Period Period
	Table  string
	Column string
}

// QueryPlan is the canonical form of a FilterSpec. Nil Stations means all stations.
// Elements holds the normalized element names in column order; Codes holds
// every archive-internal location those names resolve to.
type QueryPlan struct {
	Family   string
	Stations []int
	Periods  []Period
	Years    YearRange
	Elements []string
	Codes    []ElementCode
}

func (p QueryPlan) HasStation(id int) bool {
	if p.Stations == nil {
		return true
	}
	for _, s := range p.Stations {
		if s == id {
			return true
		}
		if s > id {
			return false
		}
	}
	return false
}

// CodesFor returns the codes of the plan that live in table for period.
func (p QueryPlan) CodesFor(period Period, table string) []ElementCode {
	var out []ElementCode
	for _, c := range p.Codes {
		if c.Period == period && c.Table == table {
			out = append(out, c)
		}
	}
	return out
}

// Record is one observation as read from an archive. Valid is false when the
// archive holds the row but no value for the element.
type Record struct {
	Station int
	Time    time.Time
	Element string
	Value   float64
	Valid   bool
	Quality string
	Version int
}

// Station describes one observing station of an archive.
type Station struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	County string  `json:"county,omitempty"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Height float64 `json:"height,omitempty"`
	Cell   string  `json:"h3_cell,omitempty"`
}

type Cells []string
