// Package midastest builds small MIDAS Open archives for tests.
package midastest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
)

type Station struct {
	ID     int
	Name   string
	County string
	Lat    float64
	Lon    float64
	Height float64
}

var (
	Exeter   = Station{ID: 838, Name: "exeter-airport", County: "devon", Lat: 50.737, Lon: -3.405, Height: 27}
	Dyce     = Station{ID: 161, Name: "dyce", County: "aberdeenshire", Lat: 57.206, Lon: -2.202, Height: 65}
	Heathrow = Station{ID: 708, Name: "heathrow", County: "greater-london", Lat: 51.479, Lon: -0.449, Height: 25}
)

// File is one yearly BADC-CSV file of a dataset.
type File struct {
	Dataset        string
	DatasetVersion string
	QCVersion      int
	Station        Station
	Year           int
	Columns        []string
	Rows           [][]string
	// Raw replaces the rendered rows verbatim when set.
	Raw string
}

func (f File) version() string {
	if f.DatasetVersion == "" {
		return "202107"
	}
	return f.DatasetVersion
}

func (f File) qc() int {
	if f.QCVersion == 0 {
		return 1
	}
	return f.QCVersion
}

// Path returns where f lives below root.
func Path(root string, f File) string {
	st := fmt.Sprintf("%05d_%s", f.Station.ID, f.Station.Name)
	name := fmt.Sprintf("midas-open_%s_dv-%s_%s_%s_qcv-%d_%d.csv",
		f.Dataset, f.version(), f.Station.County, st, f.qc(), f.Year)
	return filepath.Join(root, f.Dataset, "dataset-version-"+f.version(),
		f.Station.County, st, fmt.Sprintf("qc-version-%d", f.qc()), name)
}

// Render returns the BADC-CSV text of f.
func Render(f File) string {
	var b strings.Builder
	st := f.Station
	fmt.Fprintf(&b, "Conventions,G,BADC-CSV,1\n")
	fmt.Fprintf(&b, "title,G,%s\n", f.Dataset)
	fmt.Fprintf(&b, "source,G,Met Office MIDAS Open: UK Land Surface Stations Data\n")
	fmt.Fprintf(&b, "observation_station,G,%s\n", st.Name)
	fmt.Fprintf(&b, "historic_county_name,G,%s\n", st.County)
	fmt.Fprintf(&b, "midas_station_id,G,%05d\n", st.ID)
	fmt.Fprintf(&b, "location,G,%.3f,%.3f\n", st.Lat, st.Lon)
	fmt.Fprintf(&b, "height,G,%g,m\n", st.Height)
	fmt.Fprintf(&b, "date_valid,G,%d-01-01 00:00:00,%d-12-31 23:59:59\n", f.Year, f.Year)
	b.WriteString("data\n")
	if f.Raw != "" {
		b.WriteString(f.Raw)
	} else {
		b.WriteString(strings.Join(f.Columns, ","))
		b.WriteByte('\n')
		for _, r := range f.Rows {
			b.WriteString(strings.Join(r, ","))
			b.WriteByte('\n')
		}
	}
	b.WriteString("end data\n")
	return b.String()
}

func Write(fs afero.Fs, root string, f File) (string, error) {
	p := Path(root, f)
	if err := fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	if err := afero.WriteFile(fs, p, []byte(Render(f)), 0o644); err != nil {
		return "", err
	}
	return p, nil
}

var WindColumns = []string{
	"ob_time", "id", "id_type", "version_num", "src_id",
	"wind_direction", "wind_direction_q", "wind_speed", "wind_speed_q", "air_temperature",
}

// WindRow renders one hourly weather row in WindColumns order. Empty strings
// stand for missing values.
func WindRow(t time.Time, station, version int, dir, speed, temp string) []string {
	return []string{
		t.UTC().Format("2006-01-02 15:04:05"), "3808", "DCNN",
		fmt.Sprint(version), fmt.Sprint(station),
		dir, "0", speed, "0", temp,
	}
}

// HourlyWind returns 24 rows for 1 January of year. Hour 5 has no
// wind_speed value.
func HourlyWind(st Station, year int) File {
	f := File{Dataset: "uk-hourly-weather-obs", Station: st, Year: year, Columns: WindColumns}
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	for h := 0; h < 24; h++ {
		speed := fmt.Sprint(h%12 + 1)
		if h == 5 {
			speed = ""
		}
		dir := fmt.Sprint((h * 15) % 360)
		temp := fmt.Sprintf("%.1f", 4.5+float64(h)/10)
		f.Rows = append(f.Rows, WindRow(start.Add(time.Duration(h)*time.Hour), st.ID, 1, dir, speed, temp))
	}
	return f
}

// DailyTemp returns one week of daily temperatures from 1 January of year.
func DailyTemp(st Station, year int) File {
	f := File{
		Dataset: "uk-daily-temperature-obs",
		Station: st,
		Year:    year,
		Columns: []string{"ob_end_time", "id_type", "id", "ob_hour_count", "version_num", "src_id", "max_air_temp", "max_air_temp_q", "min_air_temp", "min_air_temp_q"},
	}
	for d := 0; d < 7; d++ {
		t := time.Date(year, 1, 1+d, 9, 0, 0, 0, time.UTC)
		f.Rows = append(f.Rows, []string{
			t.Format("2006-01-02 15:04:05"), "DCNN", "3808", "24", "1", fmt.Sprint(st.ID),
			fmt.Sprintf("%.1f", 8+float64(d)), "0", fmt.Sprintf("%.1f", 1+float64(d)/2), "0",
		})
	}
	return f
}

// Sample writes hourly wind for 1990 to 1992 and daily temperatures for
// 1991 for each station.
func Sample(fs afero.Fs, root string, stations ...Station) error {
	for _, st := range stations {
		for _, y := range []int{1990, 1991, 1992} {
			if _, err := Write(fs, root, HourlyWind(st, y)); err != nil {
				return err
			}
		}
		if _, err := Write(fs, root, DailyTemp(st, 1991)); err != nil {
			return err
		}
	}
	return nil
}

// CountingFs records every path opened or stat'ed through it and how many
// opened files are still open.
type CountingFs struct {
	afero.Fs

	mu     sync.Mutex
	opened []string
	stats  int
	live   atomic.Int64
}

func NewCountingFs(fs afero.Fs) *CountingFs {
	return &CountingFs{Fs: fs}
}

func (c *CountingFs) Open(name string) (afero.File, error) {
	return c.track(name)(c.Fs.Open(name))
}

func (c *CountingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	return c.track(name)(c.Fs.OpenFile(name, flag, perm))
}

func (c *CountingFs) Stat(name string) (os.FileInfo, error) {
	c.mu.Lock()
	c.stats++
	c.mu.Unlock()
	return c.Fs.Stat(name)
}

func (c *CountingFs) track(name string) func(afero.File, error) (afero.File, error) {
	return func(f afero.File, err error) (afero.File, error) {
		c.mu.Lock()
		c.opened = append(c.opened, name)
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
		c.live.Add(1)
		return &trackedFile{File: f, fs: c}, nil
	}
}

// Opened returns the paths opened so far, in order.
func (c *CountingFs) Opened() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.opened...)
}

// OpenedFiles returns the opened paths that end in suffix.
func (c *CountingFs) OpenedFiles(suffix string) []string {
	var out []string
	for _, p := range c.Opened() {
		if strings.HasSuffix(p, suffix) {
			out = append(out, p)
		}
	}
	return out
}

// Touched reports the number of Open, OpenFile and Stat calls.
func (c *CountingFs) Touched() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.opened) + c.stats
}

// Live returns how many opened files have not been closed.
func (c *CountingFs) Live() int64 { return c.live.Load() }

func (c *CountingFs) Reset() {
	c.mu.Lock()
	c.opened, c.stats = nil, 0
	c.mu.Unlock()
}

type trackedFile struct {
	afero.File
	fs   *CountingFs
	once sync.Once
}

func (f *trackedFile) Close() error {
	f.once.Do(func() { f.fs.live.Add(-1) })
	return f.File.Close()
}
