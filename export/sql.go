package export

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang/glog"

	"github.com/hb9tf/phenocart/metrics"
	"github.com/hb9tf/phenocart/sensor"
)

// Dialect selects the DDL flavour of the records table.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectMySQL
)

const (
	sqlRecordCountInfo = 1000

	sqlCreateTableTmpl = `CREATE TABLE IF NOT EXISTS records (
		"ID"                 INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"Identifier"         TEXT NOT NULL,
		"Source"             TEXT NOT NULL,
		"Sequence"           INTEGER,
		"SensorID"           TEXT NOT NULL,
		"Position"           TEXT,
		"Kind"               TEXT NOT NULL,
		"Timestamp"          INTEGER,
		"DateTimeISO"        TEXT,
		"QualityFix"         INTEGER,
		"Latitude"           REAL,
		"Longitude"          REAL,
		"Altitude"           REAL,
		"BodyTempC"          REAL,
		"TargetTempC"        REAL,
		"IndexType"          TEXT,
		"IndexValue"         REAL,
		"Orientation"        TEXT,
		"IntegrationTimeMS"  INTEGER,
		"Wavelengths"        BLOB,
		"Intensities"        BLOB
	);`
	sqlInsertRecordTmpl = `INSERT INTO records (
		Identifier,
		Source,
		Sequence,
		SensorID,
		Position,
		Kind,
		Timestamp,
		DateTimeISO,
		QualityFix,
		Latitude,
		Longitude,
		Altitude,
		BodyTempC,
		TargetTempC,
		IndexType,
		IndexValue,
		Orientation,
		IntegrationTimeMS,
		Wavelengths,
		Intensities
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
)

// SQL stores records in a single table of a sqlite or MySQL database.
type SQL struct {
	DB      *sql.DB
	Dialect Dialect
	Metrics *metrics.Collector
}

func (s *SQL) name() string {
	if s.Dialect == DialectMySQL {
		return "mysql"
	}
	return "sqlite"
}

func (s *SQL) Write(ctx context.Context, records <-chan sensor.Record) error {
	createTmpl := sqlCreateTableTmpl
	if s.Dialect == DialectMySQL {
		createTmpl = mysqlCreateTableTmpl
	}
	if _, err := s.DB.ExecContext(ctx, createTmpl); err != nil {
		return fmt.Errorf("unable to create table: %w", err)
	}
	statement, err := s.DB.PrepareContext(ctx, sqlInsertRecordTmpl)
	if err != nil {
		return fmt.Errorf("unable to prepare insert: %w", err)
	}
	defer statement.Close()

	counts := map[string]int{
		"error":   0,
		"success": 0,
		"total":   0,
	}
	for r := range records {
		counts["total"] += 1
		// Records still in flight are stored even after ctx is done.
		if _, err := statement.ExecContext(context.WithoutCancel(ctx), recordArgs(r)...); err != nil {
			counts["error"] += 1
			s.Metrics.Export(s.name(), false)
			glog.Warningf("error storing record in %s DB: %s\n", s.name(), err)
			continue
		}
		counts["success"] += 1
		s.Metrics.Export(s.name(), true)
		if counts["total"]%sqlRecordCountInfo == 0 {
			glog.Infof("Record export counts: %+v\n", counts)
		}
	}
	glog.Infof("Record export counts: %+v\n", counts)

	return nil
}

// recordArgs returns the insert arguments of r, NULL for payload columns of
// other kinds.
func recordArgs(r sensor.Record) []any {
	var bodyC, targetC, indexType, indexValue, orientation, integrationMS, wavelengths, intensities any
	switch {
	case r.Temperature != nil:
		bodyC, targetC = r.Temperature.BodyC, r.Temperature.TargetC
	case r.Index != nil:
		indexType, indexValue = r.Index.Type, r.Index.Value
	case r.Spectrum != nil:
		orientation = string(r.Spectrum.Orientation)
		integrationMS = r.Spectrum.IntegrationTimeMS
		wavelengths = EncodeFloats(r.Spectrum.Wavelengths)
		intensities = EncodeFloats(r.Spectrum.Intensities)
	}
	return []any{
		r.Identifier,
		r.Source,
		r.Sequence,
		r.SensorID,
		string(r.Position),
		string(r.Kind),
		r.Timestamp.UnixMilli(),
		r.Fix.Time,
		int(r.Fix.Quality),
		r.Fix.Latitude,
		r.Fix.Longitude,
		r.Fix.Altitude,
		bodyC,
		targetC,
		indexType,
		indexValue,
		orientation,
		integrationMS,
		wavelengths,
		intensities,
	}
}
