package filter

import (
	"sort"

	"github.com/opencdms/opencdms-process/internal/core/model"
)

// Vocabulary lists the element names an archive family knows, per period.
type Vocabulary struct {
	family  string
	entries map[model.Period]map[string]model.ElementCode
}

func NewVocabulary(family string, codes ...model.ElementCode) *Vocabulary {
	v := &Vocabulary{
		family:  family,
		entries: make(map[model.Period]map[string]model.ElementCode),
	}
	for _, c := range codes {
		m := v.entries[c.Period]
		if m == nil {
			m = make(map[string]model.ElementCode)
			v.entries[c.Period] = m
		}
		m[c.Name] = c
	}
	return v
}

func (v *Vocabulary) Family() string { return v.family }

// Periods returns the periods with at least one element, in canonical order.
func (v *Vocabulary) Periods() []model.Period {
	out := make([]model.Period, 0, len(v.entries))
	for p := range v.entries {
		out = append(out, p)
	}
	sortPeriods(out)
	return out
}

func (v *Vocabulary) Supports(p model.Period) bool {
	_, ok := v.entries[p]
	return ok
}

func (v *Vocabulary) Lookup(p model.Period, element string) (model.ElementCode, bool) {
	c, ok := v.entries[p][element]
	return c, ok
}

// Elements returns the sorted element names known for p.
func (v *Vocabulary) Elements(p model.Period) []string {
	m := v.entries[p]
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var periodRank = map[model.Period]int{
	model.PeriodHourly:  0,
	model.PeriodDaily:   1,
	model.PeriodMonthly: 2,
}

func sortPeriods(ps []model.Period) {
	sort.Slice(ps, func(i, j int) bool { return periodRank[ps[i]] < periodRank[ps[j]] })
}
