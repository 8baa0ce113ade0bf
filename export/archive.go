package export

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang/glog"

	"github.com/hb9tf/phenocart/metrics"
	"github.com/hb9tf/phenocart/reflectance"
	"github.com/hb9tf/phenocart/sensor"
)

const (
	archiveCreateTablesTmpl = `
	CREATE TABLE IF NOT EXISTS reference_panel (
		"Wavelengths"  BLOB NOT NULL,
		"Reflectance"  BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS calibration (
		"Position"                  TEXT NOT NULL PRIMARY KEY,
		"Time"                      INTEGER,
		"UplookingIntegrationMS"    INTEGER,
		"DownlookingIntegrationMS"  INTEGER,
		"UplookingWavelengths"      BLOB,
		"DownlookingWavelengths"    BLOB,
		"IncidentIrradiance"        BLOB,
		"CalibrationPanelRadiance"  BLOB,
		"UplookingDarkReference"    BLOB,
		"DownlookingDarkReference"  BLOB,
		"CorrectionFactors"         BLOB
	);
	CREATE TABLE IF NOT EXISTS spectrometers (
		"Serial"       TEXT NOT NULL PRIMARY KEY,
		"Orientation"  TEXT NOT NULL,
		"Position"     TEXT NOT NULL,
		"Wavelengths"  BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS raw (
		"ID"                 INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"Serial"             TEXT NOT NULL REFERENCES spectrometers(Serial),
		"Idx"                INTEGER,
		"IntegrationTimeMS"  INTEGER,
		"Timestamp"          REAL,
		"DateTimeISO"        TEXT,
		"Latitude"           REAL,
		"Longitude"          REAL,
		"Altitude"           REAL,
		"QualityFix"         INTEGER,
		"Spectrum"           BLOB
	);`
	archiveInsertPanelTmpl       = `INSERT INTO reference_panel (Wavelengths, Reflectance) VALUES (?, ?);`
	archiveInsertCalibrationTmpl = `INSERT OR REPLACE INTO calibration (
		Position,
		Time,
		UplookingIntegrationMS,
		DownlookingIntegrationMS,
		UplookingWavelengths,
		DownlookingWavelengths,
		IncidentIrradiance,
		CalibrationPanelRadiance,
		UplookingDarkReference,
		DownlookingDarkReference,
		CorrectionFactors
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	archiveInsertSpectrometerTmpl = `INSERT OR IGNORE INTO spectrometers (Serial, Orientation, Position, Wavelengths) VALUES (?, ?, ?, ?);`
	archiveInsertRawTmpl          = `INSERT INTO raw (
		Serial,
		Idx,
		IntegrationTimeMS,
		Timestamp,
		DateTimeISO,
		Latitude,
		Longitude,
		Altitude,
		QualityFix,
		Spectrum
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
)

// Panel is the certified reflectance curve of the white reference panel.
type Panel struct {
	Wavelengths []float64
	Reflectance []float64
}

// Module is the calibration of one reflectance pair.
type Module struct {
	Position  sensor.Position
	Reference *reflectance.Reference
}

// Archive keeps a spectral session in a sqlite database: the reference
// panel, the calibration of each module, the wavelength axis of each
// spectrometer and one raw row per spectrum. Records of other kinds are
// ignored.
type Archive struct {
	DB      *sql.DB
	Panel   *Panel
	Modules []Module
	Metrics *metrics.Collector
}

func (a *Archive) Write(ctx context.Context, records <-chan sensor.Record) error {
	if err := a.writeHeader(ctx); err != nil {
		return err
	}
	spectrometer, err := a.DB.PrepareContext(ctx, archiveInsertSpectrometerTmpl)
	if err != nil {
		return err
	}
	defer spectrometer.Close()
	raw, err := a.DB.PrepareContext(ctx, archiveInsertRawTmpl)
	if err != nil {
		return err
	}
	defer raw.Close()

	counts := map[string]int{
		"error":   0,
		"success": 0,
		"total":   0,
	}
	known := map[string]bool{}
	for r := range records {
		if r.Kind != sensor.KindSpectrum || r.Spectrum == nil {
			glog.V(2).Infof("archive: ignoring %s record of %s", r.Kind, r.SensorID)
			continue
		}
		counts["total"] += 1
		wctx := context.WithoutCancel(ctx)
		if !known[r.SensorID] {
			if _, err := spectrometer.ExecContext(wctx, r.SensorID, string(r.Spectrum.Orientation), string(r.Position), EncodeFloats(r.Spectrum.Wavelengths)); err != nil {
				counts["error"] += 1
				a.Metrics.Export("archive", false)
				glog.Warningf("error storing spectrometer %s in archive: %s\n", r.SensorID, err)
				continue
			}
			known[r.SensorID] = true
		}
		if _, err := raw.ExecContext(wctx,
			r.SensorID,
			r.Sequence,
			r.Spectrum.IntegrationTimeMS,
			float64(r.Timestamp.UnixMicro())/1e6,
			r.Fix.Time,
			r.Fix.Latitude,
			r.Fix.Longitude,
			r.Fix.Altitude,
			int(r.Fix.Quality),
			EncodeFloats(r.Spectrum.Intensities),
		); err != nil {
			counts["error"] += 1
			a.Metrics.Export("archive", false)
			glog.Warningf("error storing spectrum in archive: %s\n", err)
			continue
		}
		counts["success"] += 1
		a.Metrics.Export("archive", true)
		if counts["total"]%sqlRecordCountInfo == 0 {
			glog.Infof("Spectrum archive counts: %+v\n", counts)
		}
	}
	glog.Infof("Spectrum archive counts: %+v\n", counts)
	return nil
}

// writeHeader stores the panel and calibration data in one transaction.
func (a *Archive) writeHeader(ctx context.Context) error {
	if _, err := a.DB.ExecContext(ctx, archiveCreateTablesTmpl); err != nil {
		return fmt.Errorf("unable to create archive tables: %w", err)
	}
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if a.Panel != nil {
		if _, err := tx.ExecContext(ctx, archiveInsertPanelTmpl, EncodeFloats(a.Panel.Wavelengths), EncodeFloats(a.Panel.Reflectance)); err != nil {
			return fmt.Errorf("unable to store reference panel: %w", err)
		}
	}
	for _, m := range a.Modules {
		ref := m.Reference
		if ref == nil {
			return fmt.Errorf("module %s has no calibration", m.Position)
		}
		if _, err := tx.ExecContext(ctx, archiveInsertCalibrationTmpl,
			string(m.Position),
			ref.Time.UnixMilli(),
			ref.UpIntegrationMS,
			ref.DownIntegrationMS,
			EncodeFloats(ref.UpWavelengths),
			EncodeFloats(ref.DownWavelengths),
			EncodeFloats(ref.UpWhite),
			EncodeFloats(ref.DownWhite),
			EncodeFloats(ref.UpDark),
			EncodeFloats(ref.DownDark),
			EncodeFloats(ref.CorrectionFactors),
		); err != nil {
			return fmt.Errorf("unable to store calibration of %s: %w", m.Position, err)
		}
	}
	return tx.Commit()
}
