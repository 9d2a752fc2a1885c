package midas

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/opencdms/opencdms-process/internal/archive"
	"github.com/opencdms/opencdms-process/internal/core/model"
)

// Catalogue lists every station found in the archive, sorted by id. Names and
// coordinates come from the header of the station's first data file; the
// directory name is used when no header can be read.
func Catalogue(ctx context.Context, loc archive.Location) ([]model.Station, error) {
	if err := loc.Check(); err != nil {
		return nil, err
	}
	fs := loc.FS()
	seen := map[int]model.Station{}
	found := 0

	for _, table := range Datasets() {
		base, ok, err := latestDatasetDir(fs, filepath.Join(loc.Root(), table))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		found++
		counties, err := subdirs(fs, base)
		if err != nil {
			return nil, err
		}
		for _, county := range counties {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			dirs, err := subdirs(fs, filepath.Join(base, county))
			if err != nil {
				return nil, err
			}
			for _, name := range dirs {
				id, ok := stationID(name)
				if !ok {
					continue
				}
				if st, ok := seen[id]; ok && st.Lat != 0 {
					continue
				}
				seen[id] = describe(fs, filepath.Join(base, county, name), id, county, name)
			}
		}
	}
	if found == 0 {
		return nil, &model.ArchiveNotFoundError{Location: loc.Root(), Reason: "no MIDAS datasets"}
	}

	out := make([]model.Station, 0, len(seen))
	for _, st := range seen {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func describe(fs afero.Fs, dir string, id int, county, dirName string) model.Station {
	st := model.Station{ID: id, County: county}
	if _, name, ok := strings.Cut(dirName, "_"); ok {
		st.Name = name
	}
	files, err := stationFiles(fs, dir)
	if err != nil || len(files) == 0 {
		return st
	}
	f, err := fs.Open(files[0].path)
	if err != nil {
		return st
	}
	defer f.Close()
	h, err := readHeader(newCSV(f))
	if err != nil {
		return st
	}
	if v := h.first("observation_station"); v != "" {
		st.Name = v
	}
	if v := h.first("historic_county_name"); v != "" {
		st.County = v
	}
	if loc := h["location"]; len(loc) >= 2 {
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(loc[0]), 64)
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(loc[1]), 64)
		if errLat == nil && errLon == nil {
			st.Lat, st.Lon = lat, lon
		}
	}
	if v, err := strconv.ParseFloat(h.first("height"), 64); err == nil {
		st.Height = v
	}
	return st
}
