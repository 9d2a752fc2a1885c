// Package stations indexes archive stations by H3 cell for spatial lookup.
package stations

import (
	"fmt"
	"slices"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/opencdms/opencdms-process/internal/core/model"
)

type Index struct {
	res      int
	stations []model.Station
	byID     map[int]int
	byCell   map[h3.Cell][]int
}

// New assigns every station its cell at res. Stations are kept sorted by id.
func New(list []model.Station, res int) (*Index, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	ix := &Index{
		res:      res,
		stations: slices.Clone(list),
		byID:     make(map[int]int, len(list)),
		byCell:   make(map[h3.Cell][]int),
	}
	sort.Slice(ix.stations, func(i, j int) bool { return ix.stations[i].ID < ix.stations[j].ID })
	for i := range ix.stations {
		st := &ix.stations[i]
		c, err := cellOf(st.Lat, st.Lon, res)
		if err != nil {
			return nil, fmt.Errorf("station %d: %w", st.ID, err)
		}
		st.Cell = c.String()
		ix.byID[st.ID] = i
		ix.byCell[c] = append(ix.byCell[c], i)
	}
	return ix, nil
}

func (ix *Index) Res() int { return ix.res }

func (ix *Index) Len() int { return len(ix.stations) }

func (ix *Index) All() []model.Station { return slices.Clone(ix.stations) }

func (ix *Index) Get(id int) (model.Station, bool) {
	i, ok := ix.byID[id]
	if !ok {
		return model.Station{}, false
	}
	return ix.stations[i], true
}

// Within returns the stations located inside bb, sorted by id.
func (ix *Index) Within(bb model.BBox) ([]model.Station, error) {
	cells, err := cover(bb, ix.res)
	if err != nil {
		return nil, err
	}
	var hits []int
	for c, idx := range ix.byCell {
		if _, ok := cells[c]; !ok {
			continue
		}
		for _, i := range idx {
			if st := ix.stations[i]; bb.Contains(st.Lat, st.Lon) {
				hits = append(hits, i)
			}
		}
	}
	sort.Ints(hits)
	out := make([]model.Station, len(hits))
	for k, i := range hits {
		out[k] = ix.stations[i]
	}
	return out, nil
}

// Density counts stations per parent cell at res.
func (ix *Index) Density(res int) (map[string]int, error) {
	if res > ix.res {
		return nil, fmt.Errorf("resolution %d is finer than the index resolution %d", res, ix.res)
	}
	out := make(map[string]int)
	for c, idx := range ix.byCell {
		p, err := parent(c.String(), res)
		if err != nil {
			return nil, err
		}
		out[p] += len(idx)
	}
	return out, nil
}
