package raster

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// BandStats summarizes one band.
type BandStats struct {
	Band   int // 1-based
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Stats returns min, max, mean and standard deviation for every band.
func Stats(r *Raster) []BandStats {
	out := make([]BandStats, 0, len(r.Bands))
	for i, band := range r.Bands {
		s := BandStats{Band: i + 1}
		if len(band) > 0 {
			v := Float64s(band)
			s.Min = floats.Min(v)
			s.Max = floats.Max(v)
			s.Mean = stat.Mean(v, nil)
			if len(v) > 1 {
				s.StdDev = stat.StdDev(v, nil)
			}
		}
		out = append(out, s)
	}
	return out
}

// Float64s widens a band for use with gonum.
func Float64s(band []float32) []float64 {
	v := make([]float64, len(band))
	for i, f := range band {
		v[i] = float64(f)
	}
	return v
}
