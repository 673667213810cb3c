package rundb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE run(
			id INTEGER PRIMARY KEY,
			random_id TEXT NOT NULL,
			command TEXT NOT NULL,
			url TEXT NOT NULL,
			started_at INT NOT NULL,
			finished_at INT,
			settings TEXT,
			requested INT NOT NULL,
			processed INT,
			acquisition_failures INT,
			best_sample INT,
			best_count INT
		);

		CREATE TABLE sample(
			id INTEGER PRIMARY KEY,
			run_id INT NOT NULL,
			idx INT NOT NULL,
			time INT NOT NULL,
			source TEXT,
			acquisition_error TEXT,
			frame_error TEXT,
			total_count INT NOT NULL,
			regions TEXT
		);

		CREATE TABLE detection(
			id INTEGER PRIMARY KEY,
			sample_id INT NOT NULL,
			region TEXT NOT NULL,
			class TEXT NOT NULL,
			confidence REAL NOT NULL,
			x1 INT NOT NULL,
			y1 INT NOT NULL,
			x2 INT NOT NULL,
			y2 INT NOT NULL
		);

		CREATE INDEX idx_sample_run_id ON sample(run_id);
		CREATE INDEX idx_detection_sample_id ON detection(sample_id);
	`))

	return migs
}
