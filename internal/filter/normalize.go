// Package filter validates caller filters and turns them into canonical query plans.
package filter

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/opencdms/opencdms-process/internal/core/model"
)

const (
	KeyStationID = "station_id"
	KeyPeriod    = "period"
	KeyYear      = "year"
	KeyElements  = "elements"

	// KeySrcID is the MIDAS name for station_id, accepted as an alias.
	KeySrcID = "src_id"
)

const (
	minYear = 1800
	maxYear = 2100
)

var recognized = map[string]struct{}{
	KeyStationID: {},
	KeyPeriod:    {},
	KeyYear:      {},
	KeyElements:  {},
	KeySrcID:     {},
}

// Normalize validates raw against vocab and returns the canonical plan.
// Absent keys leave the dimension unrestricted.
func Normalize(raw model.FilterSpec, vocab *Vocabulary) (model.QueryPlan, error) {
	if vocab == nil {
		return model.QueryPlan{}, &model.InvalidFilterError{Reason: "no vocabulary for archive family"}
	}
	if err := checkKeys(raw); err != nil {
		return model.QueryPlan{}, err
	}

	plan := model.QueryPlan{Family: vocab.Family()}

	stationKey := KeyStationID
	sv, hasStation := raw[KeyStationID]
	if alias, ok := raw[KeySrcID]; ok {
		if hasStation {
			return model.QueryPlan{}, &model.InvalidFilterError{Key: KeySrcID, Reason: "cannot be combined with station_id"}
		}
		stationKey, sv, hasStation = KeySrcID, alias, true
	}
	if hasStation {
		ids, err := parseStations(sv)
		if err != nil {
			return model.QueryPlan{}, &model.InvalidFilterError{Key: stationKey, Reason: err.Error()}
		}
		plan.Stations = ids
	}

	if pv, ok := raw[KeyPeriod]; ok {
		s, ok := pv.(string)
		if !ok {
			return model.QueryPlan{}, &model.InvalidFilterError{Key: KeyPeriod, Reason: fmt.Sprintf("must be a string, got %T", pv)}
		}
		p, err := model.ParsePeriod(s)
		if err != nil {
			return model.QueryPlan{}, &model.InvalidFilterError{Key: KeyPeriod, Reason: err.Error()}
		}
		if !vocab.Supports(p) {
			return model.QueryPlan{}, &model.InvalidFilterError{
				Key:    KeyPeriod,
				Reason: fmt.Sprintf("period %q is not available for %s", p, vocab.Family()),
			}
		}
		plan.Periods = []model.Period{p}
	} else {
		plan.Periods = vocab.Periods()
	}

	if yv, ok := raw[KeyYear]; ok {
		yr, err := parseYears(yv)
		if err != nil {
			return model.QueryPlan{}, &model.InvalidFilterError{Key: KeyYear, Reason: err.Error()}
		}
		plan.Years = yr
	}

	var names []string
	if ev, ok := raw[KeyElements]; ok {
		n, err := parseElements(ev)
		if err != nil {
			return model.QueryPlan{}, &model.InvalidFilterError{Key: KeyElements, Reason: err.Error()}
		}
		names = n
	} else {
		names = allElements(vocab, plan.Periods)
	}

	codes, err := resolve(vocab, plan.Periods, names)
	if err != nil {
		return model.QueryPlan{}, err
	}
	plan.Elements = names
	plan.Codes = codes
	return plan, nil
}

func checkKeys(raw model.FilterSpec) error {
	var unknown []string
	for k := range raw {
		if _, ok := recognized[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return &model.InvalidFilterError{
		Key:    strings.Join(unknown, ","),
		Reason: "unrecognized filter key (allowed: station_id, period, year, elements)",
	}
}

func parseStations(v any) ([]int, error) {
	items := toList(v)
	if len(items) == 0 {
		return nil, fmt.Errorf("must not be empty")
	}
	seen := make(map[int]struct{}, len(items))
	out := make([]int, 0, len(items))
	for _, it := range items {
		id, err := toInt(it)
		if err != nil {
			return nil, err
		}
		if id <= 0 {
			return nil, fmt.Errorf("station id must be positive, got %d", id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Ints(out)
	return out, nil
}

func parseYears(v any) (model.YearRange, error) {
	var from, to int
	var err error

	switch t := v.(type) {
	case model.YearRange:
		if !t.Bounded {
			return model.YearRange{}, nil
		}
		from, to = t.From, t.To
	case string:
		from, to, err = parseYearString(t)
	case map[string]any:
		fv, fok := t["from"]
		tv, tok := t["to"]
		if !fok || !tok || len(t) != 2 {
			return model.YearRange{}, fmt.Errorf(`range object must have exactly "from" and "to"`)
		}
		if from, err = toInt(fv); err != nil {
			return model.YearRange{}, err
		}
		to, err = toInt(tv)
	default:
		items := toList(v)
		switch len(items) {
		case 1:
			from, err = toInt(items[0])
			to = from
		case 2:
			if from, err = toInt(items[0]); err != nil {
				return model.YearRange{}, err
			}
			to, err = toInt(items[1])
		default:
			return model.YearRange{}, fmt.Errorf("must be a year or a [from, to] pair")
		}
	}
	if err != nil {
		return model.YearRange{}, err
	}
	if from < minYear || to > maxYear {
		return model.YearRange{}, fmt.Errorf("years must be within %d..%d", minYear, maxYear)
	}
	if from > to {
		return model.YearRange{}, fmt.Errorf("range start %d is after end %d", from, to)
	}
	return model.YearRange{From: from, To: to, Bounded: true}, nil
}

func parseYearString(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	sep := ""
	switch {
	case strings.Contains(s, ".."):
		sep = ".."
	case strings.Contains(s, "-"):
		sep = "-"
	}
	if sep == "" {
		y, err := toInt(s)
		return y, y, err
	}
	parts := strings.SplitN(s, sep, 2)
	from, err := toInt(parts[0])
	if err != nil {
		return 0, 0, err
	}
	to, err := toInt(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

func parseElements(v any) ([]string, error) {
	items := toList(v)
	if len(items) == 0 {
		return nil, fmt.Errorf("must not be empty")
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, fmt.Errorf("element names must be strings, got %T", it)
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return nil, fmt.Errorf("element name must not be blank")
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func allElements(vocab *Vocabulary, periods []model.Period) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range periods {
		for _, name := range vocab.Elements(p) {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// resolve maps every name to its code in each period that knows it. A name
// unknown to all requested periods is rejected.
func resolve(vocab *Vocabulary, periods []model.Period, names []string) ([]model.ElementCode, error) {
	var codes []model.ElementCode
	for _, name := range names {
		found := false
		for _, p := range periods {
			if c, ok := vocab.Lookup(p, name); ok {
				codes = append(codes, c)
				found = true
			}
		}
		if !found {
			return nil, &model.InvalidFilterError{
				Key:    KeyElements,
				Reason: fmt.Sprintf("unknown element %q for %s %s", name, vocab.Family(), periodList(periods)),
			}
		}
	}
	sort.Slice(codes, func(i, j int) bool {
		a, b := codes[i], codes[j]
		if a.Period != b.Period {
			return periodRank[a.Period] < periodRank[b.Period]
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.Name < b.Name
	})
	return codes, nil
}

func periodList(ps []model.Period) string {
	s := make([]string, len(ps))
	for i, p := range ps {
		s[i] = string(p)
	}
	return strings.Join(s, "/")
}

func toList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []int:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = x
		}
		return out
	case []int64:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = x
		}
		return out
	case []float64:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = x
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = x
		}
		return out
	default:
		return []any{v}
	}
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, fmt.Errorf("expected an integer, got %v", t)
		}
		return int(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", t.String())
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}
