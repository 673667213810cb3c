// Package preprocess corrects the exposure and local contrast of a region before detection.
package preprocess

import (
	"github.com/cyclopcam/splitcam/pkg/config"
)

// Exposure classes of a region
type Exposure string

const (
	ExposureBright Exposure = "bright"
	ExposureDark   Exposure = "dark"
	ExposureNormal Exposure = "normal"
)

// Correction is the linear exposure change applied to every channel: saturate(|Gain*x + Offset|)
type Correction struct {
	Exposure Exposure
	Gain     float64
	Offset   float64
}

// IsIdentity is true when the correction leaves pixels unchanged
func (c Correction) IsIdentity() bool {
	return c.Gain == 1 && c.Offset == 0
}

// Policy decides the exposure correction from a region's mean luminance
type Policy struct {
	BrightThreshold float64 // mean > BrightThreshold is darkened
	DarkThreshold   float64 // mean < DarkThreshold is brightened
	Darken          config.Exposure
	Brighten        config.Exposure
	ClipLimit       float64
	TileGrid        int
}

func NewPolicy(c *config.PreprocessConfig) Policy {
	return Policy{
		BrightThreshold: c.BrightThreshold,
		DarkThreshold:   c.DarkThreshold,
		Darken:          c.Darken,
		Brighten:        c.Brighten,
		ClipLimit:       c.ClipLimit,
		TileGrid:        c.TileGrid,
	}
}

// Decide is a pure function of the mean luminance
func (p Policy) Decide(mean float64) Correction {
	if mean > p.BrightThreshold {
		return Correction{Exposure: ExposureBright, Gain: p.Darken.Gain, Offset: p.Darken.Offset}
	} else if mean < p.DarkThreshold {
		return Correction{Exposure: ExposureDark, Gain: p.Brighten.Gain, Offset: p.Brighten.Offset}
	}
	return NoCorrection()
}

// NoCorrection leaves pixels unchanged
func NoCorrection() Correction {
	return Correction{Exposure: ExposureNormal, Gain: 1, Offset: 0}
}
