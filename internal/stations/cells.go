package stations

import (
	"fmt"
	"math"

	h3 "github.com/uber/h3-go/v4"

	"github.com/opencdms/opencdms-process/internal/core/model"
)

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

func cellOf(lat, lon float64, res int) (h3.Cell, error) {
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, res)
	if err != nil {
		return 0, fmt.Errorf("h3 cell for %.4f,%.4f: %w", lat, lon, err)
	}
	return c, nil
}

// cover returns every cell that may hold a point of bb: the polyfill of the
// box plus the cells straddling its edges.
func cover(bb model.BBox, res int) (map[h3.Cell]struct{}, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	out := make(map[h3.Cell]struct{})

	outer := h3.GeoLoop{
		{Lat: bb.Y1, Lng: bb.X1},
		{Lat: bb.Y1, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X2},
		{Lat: bb.Y2, Lng: bb.X1},
	}
	inner, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	for _, c := range inner {
		out[c] = struct{}{}
	}

	step := edgeDegrees(res) / 2
	for i := range outer {
		a, b := outer[i], outer[(i+1)%len(outer)]
		n := int(math.Ceil(math.Max(math.Abs(b.Lat-a.Lat), math.Abs(b.Lng-a.Lng)) / step))
		n = min(max(n, 1), 4096)
		for k := 0; k <= n; k++ {
			f := float64(k) / float64(n)
			c, err := cellOf(a.Lat+f*(b.Lat-a.Lat), a.Lng+f*(b.Lng-a.Lng), res)
			if err != nil {
				return nil, err
			}
			disk, err := h3.GridDisk(c, 1)
			if err != nil {
				return nil, fmt.Errorf("h3 grid disk: %w", err)
			}
			for _, d := range disk {
				out[d] = struct{}{}
			}
		}
	}
	return out, nil
}

// edgeDegrees approximates the hexagon edge length at res in degrees of arc.
// Each resolution shrinks the edge by sqrt(7) from 1281 km at res 0.
func edgeDegrees(res int) float64 {
	km := 1281.256 / math.Pow(math.Sqrt(7), float64(res))
	return km / 111.32
}

func parent(cell string, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return "", fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return "", fmt.Errorf("invalid h3 cell %q", cell)
	}
	if res > c.Resolution() {
		return "", fmt.Errorf("resolution %d must be <= cell resolution %d", res, c.Resolution())
	}
	if res == c.Resolution() {
		return cell, nil
	}
	p, err := c.Parent(res)
	if err != nil {
		return "", fmt.Errorf("h3 parent: %w", err)
	}
	return p.String(), nil
}
