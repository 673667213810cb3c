package frame

import (
	"github.com/cyclopcam/splitcam/pkg/stats"
)

// Content classifies how much is going on inside a region, judged by pixel standard deviation
type Content string

const (
	ContentEmpty    Content = "empty"    // Uniform region, such as a black or disconnected view
	ContentSparse   Content = "sparse"   // Some structure, but low contrast
	ContentTextured Content = "textured" // Plenty of structure, typical of a live scene
)

// Standard deviation limits that separate the content classes
type ContentThresholds struct {
	EmptyBelow    float64 // std < EmptyBelow is empty
	TexturedAbove float64 // std > TexturedAbove is textured
}

func DefaultContentThresholds() ContentThresholds {
	return ContentThresholds{
		EmptyBelow:    10,
		TexturedAbove: 50,
	}
}

// Classify maps a standard deviation onto a content class
func (c ContentThresholds) Classify(std float64) Content {
	if std < c.EmptyBelow {
		return ContentEmpty
	} else if std > c.TexturedAbove {
		return ContentTextured
	}
	return ContentSparse
}

// ContentStats describes the brightness and texture of one region
type ContentStats struct {
	Label   Label
	Mean    float64
	Std     float64
	Content Content
}

// HasContent is true for anything that isn't empty
func (s ContentStats) HasContent() bool {
	return s.Content != ContentEmpty
}

// AnalyzeContent measures the mean and standard deviation over all channels of the region
func AnalyzeContent(r Region, thresholds ContentThresholds) ContentStats {
	mean, std := stats.MeanStd(r.Pixels())
	return ContentStats{
		Label:   r.Label,
		Mean:    mean,
		Std:     std,
		Content: thresholds.Classify(std),
	}
}
