// Package rundb stores the history of diagnostic runs in a sqlite database,
// so that runs with different thresholds can be compared later.
package rundb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/splitcam/pkg/frame"
	"github.com/cyclopcam/splitcam/pkg/sampler"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RunDB struct {
	log logs.Log
	db  *gorm.DB
}

// Open or create a run DB
func Open(log logs.Log, dbPath string) (*RunDB, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0770); err != nil {
			return nil, fmt.Errorf("Failed to create run DB directory '%v': %w", dir, err)
		}
	}
	log.Infof("Opening run DB at '%v'", dbPath)
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbPath), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open run database %v: %w", dbPath, err)
	}
	return &RunDB{
		log: log,
		db:  db,
	}, nil
}

func (r *RunDB) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartRun creates the run record, and returns a Recorder for its samples
func (r *RunDB) StartRun(command, url string, requested int, settings RunSettings, classes []string, now time.Time) (*Recorder, error) {
	var settingsJSON dbh.JSONField[RunSettings]
	settingsJSON.Data = settings
	run := &Run{
		RandomID:  uuid.NewString(),
		Command:   command,
		URL:       url,
		StartedAt: dbh.MakeIntTime(now),
		Settings:  &settingsJSON,
		Requested: requested,
	}
	if err := r.db.Create(run).Error; err != nil {
		return nil, err
	}
	return &Recorder{
		db:      r,
		Run:     run,
		classes: classes,
	}, nil
}

// Runs returns the most recent runs, newest first
func (r *RunDB) Runs(limit int) ([]Run, error) {
	runs := []Run{}
	err := r.db.Order("id DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

func (r *RunDB) Run(id int64) (*Run, error) {
	run := &Run{}
	if err := r.db.First(run, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("Run %v not found", id)
		}
		return nil, err
	}
	return run, nil
}

// Samples returns the samples of a run, in acquisition order
func (r *RunDB) Samples(runID int64) ([]Sample, error) {
	samples := []Sample{}
	err := r.db.Where("run_id = ?", runID).Order("idx").Find(&samples).Error
	return samples, err
}

func (r *RunDB) Detections(sampleID int64) ([]Detection, error) {
	dets := []Detection{}
	err := r.db.Where("sample_id = ?", sampleID).Order("id").Find(&dets).Error
	return dets, err
}

// Recorder writes the samples of one run. It is a sampler.SampleSink.
type Recorder struct {
	db      *RunDB
	Run     *Run
	classes []string // Model class names, indexed by class number
}

func (c *Recorder) className(class int) string {
	if class >= 0 && class < len(c.classes) {
		return c.classes[class]
	}
	return fmt.Sprintf("class%v", class)
}

// RecordSample stores a sample and its kept detections in a single transaction
func (c *Recorder) RecordSample(s *sampler.SampleResult) error {
	sample := &Sample{
		RunID:      c.Run.ID,
		Idx:        s.Index,
		Time:       dbh.MakeIntTime(s.Time),
		Source:     s.Source,
		TotalCount: s.TotalCount,
	}
	if s.AcquisitionErr != nil {
		sample.AcquisitionError = s.AcquisitionErr.Error()
	}
	if s.FrameErr != nil {
		sample.FrameError = s.FrameErr.Error()
	}
	var regions dbh.JSONField[[]RegionJSON]
	for _, rr := range s.Regions {
		rj := RegionJSON{
			Label:      string(rr.Label),
			Mean:       rr.Content.Mean,
			Std:        rr.Content.Std,
			Content:    string(rr.Content.Content),
			Exposure:   string(rr.Correction.Exposure),
			Threshold:  rr.Threshold,
			ModelCount: rr.ModelCount,
			Kept:       len(rr.Detections),
		}
		if rr.DetectErr != nil {
			rj.DetectError = rr.DetectErr.Error()
		}
		regions.Data = append(regions.Data, rj)
	}
	sample.Regions = &regions

	return c.db.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sample).Error; err != nil {
			return err
		}
		for _, d := range s.Detections {
			if err := tx.Create(c.makeDetection(sample.ID, d)).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Recorder) makeDetection(sampleID int64, d frame.RemappedDetection) *Detection {
	return &Detection{
		SampleID:   sampleID,
		Region:     string(d.Region),
		Class:      c.className(d.Class),
		Confidence: d.Confidence,
		X1:         d.Box.X,
		Y1:         d.Box.Y,
		X2:         d.Box.X2(),
		Y2:         d.Box.Y2(),
	}
}

// Finish stores the outcome of the run
func (c *Recorder) Finish(report *sampler.Report, now time.Time) error {
	c.Run.FinishedAt = dbh.MakeIntTime(now)
	c.Run.Processed = report.Processed
	c.Run.AcquisitionFailures = report.AcquisitionFailures
	c.Run.BestCount = report.Best.TotalCount()
	if !report.Best.Empty() {
		best := report.Best.Sample.Index
		c.Run.BestSample = &best
	}
	return c.db.db.Save(c.Run).Error
}
