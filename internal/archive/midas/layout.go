package midas

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/opencdms/opencdms-process/internal/archive"
	"github.com/opencdms/opencdms-process/internal/core/model"
)

const (
	datasetVersionPrefix = "dataset-version-"
	qcVersionPrefix      = "qc-version-"
)

// dataset is one table of the archive together with the plan codes it serves.
type dataset struct {
	period model.Period
	table  string
	codes  []model.ElementCode
}

// datasets groups plan codes by table, keeping the plan's code order.
func datasets(plan model.QueryPlan) []dataset {
	var out []dataset
	idx := map[string]int{}
	for _, c := range plan.Codes {
		i, ok := idx[c.Table]
		if !ok {
			i = len(out)
			idx[c.Table] = i
			out = append(out, dataset{period: c.Period, table: c.Table})
		}
		out[i].codes = append(out[i].codes, c)
	}
	return out
}

// walk resolves the files a plan needs. Station directories outside the plan
// are not listed and files for years outside the plan are not opened.
func walk(ctx context.Context, loc archive.Location, plan model.QueryPlan, log *slog.Logger) ([]archive.Segment, error) {
	fs := loc.FS()
	var segs []archive.Segment
	var missing []string
	found := 0

	for _, ds := range datasets(plan) {
		base, ok, err := latestDatasetDir(fs, filepath.Join(loc.Root(), ds.table))
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, ds.table)
			log.Warn("dataset not present in archive", "root", loc.Root(), "dataset", ds.table)
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
			countyDir := filepath.Join(base, county)
			stations, err := subdirs(fs, countyDir)
			if err != nil {
				return nil, err
			}
			for _, name := range stations {
				id, ok := stationID(name)
				if !ok || !plan.HasStation(id) {
					continue
				}
				files, err := stationFiles(fs, filepath.Join(countyDir, name))
				if err != nil {
					return nil, err
				}
				for _, f := range files {
					if !plan.Years.Contains(f.year) {
						continue
					}
					segs = append(segs, &segment{
						fs:      fs,
						path:    f.path,
						station: id,
						ds:      ds,
						plan:    plan,
					})
				}
			}
		}
	}

	if found == 0 && len(missing) > 0 {
		return nil, &model.ArchiveNotFoundError{
			Location: loc.Root(),
			Reason:   "no dataset for " + strings.Join(missing, ", "),
		}
	}
	return segs, nil
}

// latestDatasetDir returns <dir>/dataset-version-<highest>.
func latestDatasetDir(fs afero.Fs, dir string) (string, bool, error) {
	ok, err := afero.DirExists(fs, dir)
	if err != nil {
		return "", false, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !ok {
		return "", false, nil
	}
	v, ok, err := latestVersion(fs, dir, datasetVersionPrefix)
	if err != nil || !ok {
		return "", ok, err
	}
	return filepath.Join(dir, v), true, nil
}

func latestVersion(fs afero.Fs, dir, prefix string) (string, bool, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return "", false, fmt.Errorf("list %s: %w", dir, err)
	}
	best, bestN := "", -1
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), prefix))
		if err != nil {
			continue
		}
		if n > bestN {
			best, bestN = e.Name(), n
		}
	}
	return best, bestN >= 0, nil
}

func subdirs(fs afero.Fs, dir string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// stationID parses the leading src_id of a station directory such as
// "00838_exeter-airport".
func stationID(name string) (int, bool) {
	head, _, _ := strings.Cut(name, "_")
	id, err := strconv.Atoi(head)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type yearFile struct {
	path string
	year int
}

// stationFiles lists the yearly data files of the highest qc version.
func stationFiles(fs afero.Fs, stationDir string) ([]yearFile, error) {
	qc, ok, err := latestVersion(fs, stationDir, qcVersionPrefix)
	if err != nil || !ok {
		return nil, err
	}
	dir := filepath.Join(stationDir, qc)
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []yearFile
	for _, e := range entries {
		if year, ok := fileYear(e); ok {
			out = append(out, yearFile{path: filepath.Join(dir, e.Name()), year: year})
		}
	}
	return out, nil
}

// fileYear extracts the year from names ending in "_<yyyy>.csv". Capability
// and metadata files do not match.
func fileYear(e os.FileInfo) (int, bool) {
	if e.IsDir() {
		return 0, false
	}
	name, ok := strings.CutSuffix(e.Name(), ".csv")
	if !ok {
		return 0, false
	}
	i := strings.LastIndexByte(name, '_')
	if i < 0 || len(name)-i-1 != 4 {
		return 0, false
	}
	year, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return 0, false
	}
	return year, true
}
