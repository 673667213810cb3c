package rundb

import (
	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Run is one invocation of run, sweep or analyze
type Run struct {
	BaseModel
	RandomID            string                      `json:"randomID"` // uuid, for correlating with log files and artifacts
	Command             string                      `json:"command"`
	URL                 string                      `json:"url"`
	StartedAt           dbh.IntTime                 `json:"startedAt"`
	FinishedAt          dbh.IntTime                 `json:"finishedAt" gorm:"default:null"`
	Settings            *dbh.JSONField[RunSettings] `json:"settings"`
	Requested           int                         `json:"requested"`
	Processed           int                         `json:"processed" gorm:"default:null"`
	AcquisitionFailures int                         `json:"acquisitionFailures" gorm:"default:null"`
	BestSample          *int                        `json:"bestSample" gorm:"default:null"` // nil if no sample detected anything
	BestCount           int                         `json:"bestCount" gorm:"default:null"`
}

// RunSettings records the knobs that affect detection counts
type RunSettings struct {
	Model            string  `json:"model"`
	TopConfidence    float32 `json:"topConfidence"`
	BottomConfidence float32 `json:"bottomConfidence"`
	Preprocess       bool    `json:"preprocess"`
	MinArea          int     `json:"minArea"`
	MaxArea          int     `json:"maxArea"`
	MinRatio         float32 `json:"minRatio"`
	MaxRatio         float32 `json:"maxRatio"`
	MinScore         float32 `json:"minScore"`
	NmsIoU           float32 `json:"nmsIoU"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
}

// Sample is one acquisition attempt
type Sample struct {
	BaseModel
	RunID            int64                        `json:"runID"`
	Idx              int                          `json:"idx"`
	Time             dbh.IntTime                  `json:"time"`
	Source           string                       `json:"source"`
	AcquisitionError string                       `json:"acquisitionError" gorm:"default:null"`
	FrameError       string                       `json:"frameError" gorm:"default:null"`
	TotalCount       int                          `json:"totalCount"`
	Regions          *dbh.JSONField[[]RegionJSON] `json:"regions"`
}

// RegionJSON is the per-region summary of a sample
type RegionJSON struct {
	Label       string  `json:"label"`
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	Content     string  `json:"content"`
	Exposure    string  `json:"exposure"`
	Threshold   float32 `json:"threshold"`
	ModelCount  int     `json:"modelCount"`
	Kept        int     `json:"kept"`
	DetectError string  `json:"detectError,omitempty"`
}

// Detection is a detection that survived filtering, in frame coordinates
type Detection struct {
	BaseModel
	SampleID   int64   `json:"sampleID"`
	Region     string  `json:"region"`
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
	X1         int32   `json:"x1"`
	Y1         int32   `json:"y1"`
	X2         int32   `json:"x2"`
	Y2         int32   `json:"y2"`
}
