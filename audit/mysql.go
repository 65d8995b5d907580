package audit

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/BurntSushi/migration"
	raven "github.com/getsentry/raven-go"
	"github.com/go-sql-driver/mysql"
)

// MySQL is the central backend, for sites that keep the trails of many
// workstations in one place. Schema upgrades are applied when the
// connection is opened.
type MySQL struct {
	db *sql.DB
}

var _ DB = &MySQL{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
}

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewMySQL connects to a MySQL database using the given dial string,
// runs any outstanding migrations, and returns the audit store. The
// dial string needs parseTime=true so datetime columns scan into
// time.Time values.
func NewMySQL(dial string) (*MySQL, error) {
	db, err := migration.OpenWith(
		"mysql",
		dial,
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		log.Printf("Open Mysql: %s", err.Error())
		return nil, err
	}
	return &MySQL{db: db}, nil
}

// Close releases the database connection.
func (m *MySQL) Close() error {
	return m.db.Close()
}

func mysqlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id int PRIMARY KEY AUTO_INCREMENT,
			started datetime,
			finished datetime,
			source text,
			dest text,
			workers int,
			total int,
			succeeded int,
			failed int,
			cancelled int,
			status varchar(32))`,
		`CREATE TABLE IF NOT EXISTS files (
			id int PRIMARY KEY AUTO_INCREMENT,
			run int,
			source text,
			dest varchar(255),
			stage varchar(32),
			note text,
			md5 varchar(32),
			sha256 varchar(64),
			processed datetime,
			INDEX i_run (run),
			INDEX i_dest (dest))`,
		`CREATE TABLE IF NOT EXISTS checks (
			id int PRIMARY KEY AUTO_INCREMENT,
			path varchar(255),
			scheduled_time datetime,
			status varchar(32),
			notes text,
			INDEX i_path (path),
			INDEX i_time (scheduled_time),
			INDEX i_status (status))`,
	}
	return execlist(tx, s)
}

// execlist executes a list of sql statements in the transaction tx. It
// returns the first error encountered.
func execlist(tx migration.LimitedTx, s []string) error {
	var err error
	for _, cmd := range s {
		_, err = tx.Exec(cmd)
		if err != nil {
			break
		}
	}
	return err
}

func (m *MySQL) StartRun(r Run) (int64, error) {
	const query = `
		INSERT INTO runs (started, finished, source, dest, workers,
			total, succeeded, failed, cancelled, status)
		VALUES (?, NULL, ?, ?, ?, ?, 0, 0, 0, ?)`
	result, err := m.db.Exec(query, r.Started, r.SourceRoot, r.DestRoot,
		r.Workers, r.Total, RunRunning)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (m *MySQL) FinishRun(r Run) error {
	const query = `
		UPDATE runs
		SET finished = ?, total = ?, succeeded = ?, failed = ?,
			cancelled = ?, status = ?
		WHERE id = ?`
	_, err := m.db.Exec(query, r.Finished, r.Total, r.Succeeded,
		r.Failed, r.Cancelled, r.Status, r.ID)
	return err
}

func (m *MySQL) SaveFile(f File) error {
	const query = `
		INSERT INTO files (run, source, dest, stage, note, md5, sha256, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := m.db.Exec(query, f.RunID, f.Source, f.Dest, f.Stage,
		f.Note, f.MD5, f.SHA256, f.Processed)
	return err
}

func (m *MySQL) Runs(limit int) ([]Run, error) {
	query := fmt.Sprintf(`
		SELECT id, started, finished, source, dest, workers,
			total, succeeded, failed, cancelled, status
		FROM runs
		ORDER BY id DESC
		LIMIT %d`, limit)
	rows, err := m.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Run
	for rows.Next() {
		var r Run
		var finished mysql.NullTime
		err = rows.Scan(&r.ID, &r.Started, &finished, &r.SourceRoot,
			&r.DestRoot, &r.Workers, &r.Total, &r.Succeeded,
			&r.Failed, &r.Cancelled, &r.Status)
		if err != nil {
			return nil, err
		}
		if finished.Valid {
			r.Finished = finished.Time
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (m *MySQL) Files(runID int64) ([]File, error) {
	const query = `
		SELECT run, source, dest, stage, note, md5, sha256, processed
		FROM files
		WHERE run = ?
		ORDER BY id`
	rows, err := m.db.Query(query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []File
	for rows.Next() {
		var f File
		err = rows.Scan(&f.RunID, &f.Source, &f.Dest, &f.Stage,
			&f.Note, &f.MD5, &f.SHA256, &f.Processed)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (m *MySQL) LatestFile(dest string) (File, error) {
	const query = `
		SELECT run, source, dest, stage, note, md5, sha256, processed
		FROM files
		WHERE dest = ?
		ORDER BY id DESC
		LIMIT 1`
	var f File
	err := m.db.QueryRow(query, dest).Scan(&f.RunID, &f.Source, &f.Dest,
		&f.Stage, &f.Note, &f.MD5, &f.SHA256, &f.Processed)
	if err == sql.ErrNoRows {
		return File{}, ErrNoRecord
	}
	return f, err
}

func (m *MySQL) NextCheck(cutoff time.Time) string {
	const query = `
		SELECT path, scheduled_time
		FROM checks
		WHERE status = "scheduled" AND scheduled_time <= ?
		ORDER BY scheduled_time
		LIMIT 1`
	var path string
	var when mysql.NullTime
	err := m.db.QueryRow(query, cutoff).Scan(&path, &when)
	if err == sql.ErrNoRows {
		// nothing is due
		return ""
	} else if err != nil {
		log.Println("nextcheck", err.Error())
		raven.CaptureError(err, nil)
		return ""
	}
	return path
}

func (m *MySQL) UpdateCheck(path, status, notes string) error {
	const query = `
		UPDATE checks
		SET status = ?, notes = ?
		WHERE path = ? and status = "scheduled"
		ORDER BY scheduled_time
		LIMIT 1`
	result, err := m.db.Exec(query, status, notes, path)
	if err != nil {
		return err
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if nrows == 0 {
		// nothing was scheduled. keep the outcome anyway
		const newquery = `
			INSERT INTO checks (path, scheduled_time, status, notes)
			VALUES (?, ?, ?, ?)`
		_, err = m.db.Exec(newquery, path, time.Now(), status, notes)
	}
	return err
}

func (m *MySQL) SetCheck(path string, when time.Time) error {
	const query = `
		INSERT INTO checks (path, scheduled_time, status, notes)
		VALUES (?, ?, ?, ?)`
	_, err := m.db.Exec(query, path, when, CheckScheduled, "")
	return err
}

func (m *MySQL) SearchChecks(path string) ([]Check, error) {
	const query = `
		SELECT id, path, scheduled_time, status, notes
		FROM checks
		WHERE ? = "" OR path = ?
		ORDER BY scheduled_time, id`
	rows, err := m.db.Query(query, path, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Check
	for rows.Next() {
		var c Check
		err = rows.Scan(&c.ID, &c.Path, &c.Scheduled, &c.Status, &c.Notes)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (m *MySQL) LookupCheck(path string) (time.Time, error) {
	const query = `
		SELECT scheduled_time
		FROM checks
		WHERE path = ? AND status = "scheduled"
		ORDER BY scheduled_time
		LIMIT 1`
	var when mysql.NullTime
	err := m.db.QueryRow(query, path).Scan(&when)
	switch {
	case err == sql.ErrNoRows:
		return time.Time{}, nil
	case err != nil:
		return time.Time{}, err
	}
	return when.Time, nil
}
