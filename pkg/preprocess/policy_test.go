package preprocess

import (
	"testing"

	"github.com/cyclopcam/splitcam/pkg/config"
	"github.com/stretchr/testify/require"
)

func defaultPolicy() Policy {
	return NewPolicy(&config.Default().Preprocess)
}

func TestDecideIsMonotonic(t *testing.T) {
	p := defaultPolicy()
	for mean := 0.0; mean <= 255; mean += 0.5 {
		c := p.Decide(mean)
		switch {
		case mean > 120:
			require.Equal(t, ExposureBright, c.Exposure, "mean %v", mean)
			require.Equal(t, 0.7, c.Gain)
			require.Equal(t, -30.0, c.Offset)
		case mean < 50:
			require.Equal(t, ExposureDark, c.Exposure, "mean %v", mean)
			require.Equal(t, 1.3, c.Gain)
			require.Equal(t, 30.0, c.Offset)
		default:
			require.Equal(t, ExposureNormal, c.Exposure, "mean %v", mean)
			require.True(t, c.IsIdentity())
		}
	}
}

func TestDecideBoundaries(t *testing.T) {
	p := defaultPolicy()
	require.Equal(t, ExposureNormal, p.Decide(120).Exposure)
	require.Equal(t, ExposureNormal, p.Decide(50).Exposure)
	require.Equal(t, ExposureBright, p.Decide(120.001).Exposure)
	require.Equal(t, ExposureDark, p.Decide(49.999).Exposure)
}

func TestDecideUsesConfiguredValues(t *testing.T) {
	cfg := config.Default().Preprocess
	cfg.BrightThreshold = 200
	cfg.Darken = config.Exposure{Gain: 0.5, Offset: -10}
	p := NewPolicy(&cfg)
	require.Equal(t, ExposureNormal, p.Decide(150).Exposure)
	c := p.Decide(201)
	require.Equal(t, 0.5, c.Gain)
	require.Equal(t, -10.0, c.Offset)
}
