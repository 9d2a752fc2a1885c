package filter

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/opencdms/opencdms-process/internal/core/model"
)

func testVocab() *Vocabulary {
	return NewVocabulary("test-family",
		model.ElementCode{Name: "wind_speed", Period: model.PeriodHourly, Table: "weather", Column: "wind_speed"},
		model.ElementCode{Name: "wind_direction", Period: model.PeriodHourly, Table: "weather", Column: "wind_direction"},
		model.ElementCode{Name: "prcp_amt", Period: model.PeriodHourly, Table: "rain", Column: "prcp_amt"},
		model.ElementCode{Name: "prcp_amt", Period: model.PeriodDaily, Table: "daily-rain", Column: "prcp_amt"},
		model.ElementCode{Name: "max_air_temp", Period: model.PeriodDaily, Table: "temperature", Column: "max_air_temp"},
	)
}

func TestNormalize_OrderIndependent(t *testing.T) {
	v := testVocab()
	a, err := Normalize(model.FilterSpec{
		"station_id": []any{float64(838), float64(12), float64(838)},
		"period":     "hourly",
		"year":       float64(1991),
		"elements":   []any{"wind_speed", "wind_direction"},
	}, v)
	if err != nil {
		t.Fatalf("normalize a: %v", err)
	}
	b, err := Normalize(model.FilterSpec{
		"elements":   []string{"wind_direction", "WIND_SPEED ", "wind_direction"},
		"year":       "1991",
		"period":     "Hourly",
		"station_id": []int{12, 838},
	}, v)
	if err != nil {
		t.Fatalf("normalize b: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("plans differ:\n a=%+v\n b=%+v", a, b)
	}
	if Key(a) != Key(b) {
		t.Fatalf("keys differ: %s vs %s", Key(a), Key(b))
	}
	if want := []int{12, 838}; !reflect.DeepEqual(a.Stations, want) {
		t.Fatalf("stations=%v want %v", a.Stations, want)
	}
	if want := []string{"wind_direction", "wind_speed"}; !reflect.DeepEqual(a.Elements, want) {
		t.Fatalf("elements=%v want %v", a.Elements, want)
	}
}

func TestNormalize_UnknownKeyRejected(t *testing.T) {
	_, err := Normalize(model.FilterSpec{"station_id": 838, "colour": "red", "bogus": 1}, testVocab())
	if !errors.Is(err, model.ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
	var ife *model.InvalidFilterError
	if !errors.As(err, &ife) {
		t.Fatalf("expected *InvalidFilterError, got %T", err)
	}
	if ife.Key != "bogus,colour" {
		t.Fatalf("key=%q want bogus,colour", ife.Key)
	}
}

func TestNormalize_AbsentKeysAreUnrestricted(t *testing.T) {
	p, err := Normalize(model.FilterSpec{}, testVocab())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if p.Stations != nil {
		t.Fatalf("stations=%v want nil (all)", p.Stations)
	}
	if p.Years.Bounded {
		t.Fatalf("years should be unbounded, got %+v", p.Years)
	}
	if !p.HasStation(1) || !p.Years.Contains(1850) {
		t.Fatalf("unrestricted plan must accept any station/year")
	}
	if want := []model.Period{model.PeriodHourly, model.PeriodDaily}; !reflect.DeepEqual(p.Periods, want) {
		t.Fatalf("periods=%v want %v", p.Periods, want)
	}
	if want := []string{"max_air_temp", "prcp_amt", "wind_direction", "wind_speed"}; !reflect.DeepEqual(p.Elements, want) {
		t.Fatalf("elements=%v want %v", p.Elements, want)
	}
	// prcp_amt resolves in both periods
	if len(p.Codes) != 5 {
		t.Fatalf("codes=%d want 5: %+v", len(p.Codes), p.Codes)
	}
}

func TestNormalize_YearForms(t *testing.T) {
	want := model.YearRange{From: 1990, To: 1995, Bounded: true}
	cases := []any{
		"1990-1995",
		"1990..1995",
		[]any{float64(1990), float64(1995)},
		[]int{1990, 1995},
		map[string]any{"from": float64(1990), "to": "1995"},
		model.YearRange{From: 1990, To: 1995, Bounded: true},
	}
	for _, c := range cases {
		p, err := Normalize(model.FilterSpec{"year": c}, testVocab())
		if err != nil {
			t.Fatalf("year %v: %v", c, err)
		}
		if p.Years != want {
			t.Fatalf("year %v: got %+v want %+v", c, p.Years, want)
		}
	}
	p, err := Normalize(model.FilterSpec{"year": 1991}, testVocab())
	if err != nil {
		t.Fatalf("single year: %v", err)
	}
	if !p.Years.Contains(1991) || p.Years.Contains(1990) || p.Years.Contains(1992) {
		t.Fatalf("single year range wrong: %+v", p.Years)
	}
}

func TestNormalize_InvalidValues(t *testing.T) {
	cases := map[string]model.FilterSpec{
		"reversed years":   {"year": "1995-1990"},
		"fractional year":  {"year": 1990.5},
		"year too early":   {"year": 1066},
		"bad year object":  {"year": map[string]any{"from": 1990}},
		"period type":      {"period": 3},
		"unknown period":   {"period": "fortnightly"},
		"unsupported":      {"period": "monthly"},
		"negative station": {"station_id": -4},
		"station string":   {"station_id": "abc"},
		"empty stations":   {"station_id": []any{}},
		"unknown element":  {"elements": []any{"sunshine"}},
		"element type":     {"elements": []any{42}},
		"blank element":    {"elements": " "},
		"wrong period":     {"period": "daily", "elements": "wind_speed"},
		"alias and key":    {"station_id": 1, "src_id": 2},
	}
	for name, spec := range cases {
		_, err := Normalize(spec, testVocab())
		if !errors.Is(err, model.ErrInvalidFilter) {
			t.Fatalf("%s: expected ErrInvalidFilter, got %v", name, err)
		}
	}
}

func TestNormalize_SrcIDAlias(t *testing.T) {
	p, err := Normalize(model.FilterSpec{"src_id": float64(838)}, testVocab())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !reflect.DeepEqual(p.Stations, []int{838}) {
		t.Fatalf("stations=%v", p.Stations)
	}
}

func TestNormalize_ElementResolvesPerPeriod(t *testing.T) {
	p, err := Normalize(model.FilterSpec{"period": "daily", "elements": "prcp_amt"}, testVocab())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(p.Codes) != 1 || p.Codes[0].Table != "daily-rain" {
		t.Fatalf("codes=%+v want daily-rain only", p.Codes)
	}
	if got := p.CodesFor(model.PeriodDaily, "daily-rain"); len(got) != 1 {
		t.Fatalf("CodesFor=%+v", got)
	}
}

func TestKey_DiffersAcrossPlans(t *testing.T) {
	v := testVocab()
	a, _ := Normalize(model.FilterSpec{"year": 1991}, v)
	b, _ := Normalize(model.FilterSpec{"year": 1992}, v)
	if Key(a) == Key(b) {
		t.Fatalf("different plans must not share a key")
	}
	if !strings.HasPrefix(Key(a), "test-family:") {
		t.Fatalf("key must start with family: %s", Key(a))
	}
}
