package export

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

const mysqlCreateTableTmpl = "CREATE TABLE IF NOT EXISTS records (" +
	"`ID`                 INTEGER NOT NULL PRIMARY KEY AUTO_INCREMENT," +
	"`Identifier`         VARCHAR(64) NOT NULL," +
	"`Source`             VARCHAR(32) NOT NULL," +
	"`Sequence`           BIGINT," +
	"`SensorID`           VARCHAR(64) NOT NULL," +
	"`Position`           VARCHAR(16)," +
	"`Kind`               VARCHAR(16) NOT NULL," +
	"`Timestamp`          BIGINT," +
	"`DateTimeISO`        VARCHAR(32)," +
	"`QualityFix`         INTEGER," +
	"`Latitude`           DOUBLE," +
	"`Longitude`          DOUBLE," +
	"`Altitude`           DOUBLE," +
	"`BodyTempC`          DOUBLE," +
	"`TargetTempC`        DOUBLE," +
	"`IndexType`          VARCHAR(8)," +
	"`IndexValue`         DOUBLE," +
	"`Orientation`        VARCHAR(16)," +
	"`IntegrationTimeMS`  INTEGER," +
	"`Wavelengths`        LONGBLOB," +
	"`Intensities`        LONGBLOB" +
	");"

// MySQLOptions describe how to reach the remote records database.
type MySQLOptions struct {
	Server       string
	User         string
	PasswordFile string
	DBName       string
}

// OpenMySQL connects to the database with the password read from PasswordFile.
func OpenMySQL(opts MySQLOptions) (*sql.DB, error) {
	pass, err := os.ReadFile(opts.PasswordFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read MySQL password file %q: %w", opts.PasswordFile, err)
	}
	cfg := mysql.Config{
		User:                 opts.User,
		Passwd:               strings.TrimSpace(string(pass)),
		Net:                  "tcp",
		Addr:                 opts.Server,
		DBName:               opts.DBName,
		AllowNativePasswords: true,
	}
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open MySQL DB %q: %w", opts.Server, err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	return db, nil
}
