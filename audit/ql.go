package audit

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/cznic/ql/driver"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

// QL is the embedded backend. It needs no server and keeps the whole
// trail in one file, which suits the single workstation installs most
// labs run.
type QL struct {
	db *sql.DB
}

var _ DB = &QL{}

const qlRunsInit = `
	CREATE TABLE IF NOT EXISTS runs (
		started time,
		finished time,
		source string,
		dest string,
		workers int,
		total int,
		succeeded int,
		failed int,
		cancelled int,
		status string
	);
	CREATE INDEX IF NOT EXISTS runsstarted ON runs (started);
`

const qlFilesInit = `
	CREATE TABLE IF NOT EXISTS files (
		run int64,
		source string,
		dest string,
		stage string,
		note string,
		md5 string,
		sha256 string,
		processed time
	);
	CREATE INDEX IF NOT EXISTS filesrun ON files (run);
	CREATE INDEX IF NOT EXISTS filesdest ON files (dest);
`

const qlChecksInit = `
	CREATE TABLE IF NOT EXISTS checks (
		path string,
		scheduled_time time,
		status string,
		notes string
	);
	CREATE INDEX IF NOT EXISTS checkspath ON checks (path);
	CREATE INDEX IF NOT EXISTS checkstime ON checks (scheduled_time);
	CREATE INDEX IF NOT EXISTS checksstatus ON checks (status);
`

// NewQL opens the trail in the given file, creating it as needed. The
// name "memory" keeps everything in RAM, which is only useful in tests.
func NewQL(filename string) (*QL, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		db, err = sql.Open("ql-mem", "audit.db")
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		_, err = performExec(db, qlRunsInit)
	}
	if err == nil {
		_, err = performExec(db, qlFilesInit)
	}
	if err == nil {
		_, err = performExec(db, qlChecksInit)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening audit db %s", filename)
	}
	return &QL{db: db}, nil
}

// Close releases the database file.
func (q *QL) Close() error {
	return q.db.Close()
}

func (q *QL) StartRun(r Run) (int64, error) {
	const query = `INSERT INTO runs VALUES (?1,?2,?3,?4,?5,?6,?7,?8,?9,?10)`
	result, err := performExec(q.db, query,
		r.Started, time.Time{}, r.SourceRoot, r.DestRoot,
		int64(r.Workers), int64(r.Total), int64(0), int64(0), int64(0),
		RunRunning)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (q *QL) FinishRun(r Run) error {
	const query = `
		UPDATE runs
		SET finished = ?2, total = ?3, succeeded = ?4, failed = ?5,
			cancelled = ?6, status = ?7
		WHERE id() == ?1`
	_, err := performExec(q.db, query, r.ID, r.Finished,
		int64(r.Total), int64(r.Succeeded), int64(r.Failed),
		int64(r.Cancelled), r.Status)
	return err
}

func (q *QL) SaveFile(f File) error {
	const query = `INSERT INTO files VALUES (?1,?2,?3,?4,?5,?6,?7,?8)`
	_, err := performExec(q.db, query, f.RunID, f.Source, f.Dest,
		f.Stage, f.Note, f.MD5, f.SHA256, f.Processed)
	return err
}

func (q *QL) Runs(limit int) ([]Run, error) {
	query := fmt.Sprintf(`
		SELECT id(), started, finished, source, dest, workers,
			total, succeeded, failed, cancelled, status
		FROM runs
		ORDER BY id() DESC
		LIMIT %d`, limit)
	rows, err := q.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Run
	for rows.Next() {
		var r Run
		err = rows.Scan(&r.ID, &r.Started, &r.Finished, &r.SourceRoot,
			&r.DestRoot, &r.Workers, &r.Total, &r.Succeeded,
			&r.Failed, &r.Cancelled, &r.Status)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (q *QL) Files(runID int64) ([]File, error) {
	const query = `
		SELECT run, source, dest, stage, note, md5, sha256, processed
		FROM files
		WHERE run == ?1
		ORDER BY id()`
	rows, err := q.db.Query(query, runID)
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

func (q *QL) LatestFile(dest string) (File, error) {
	const query = `
		SELECT run, source, dest, stage, note, md5, sha256, processed
		FROM files
		WHERE dest == ?1
		ORDER BY id() DESC
		LIMIT 1`
	var f File
	err := q.db.QueryRow(query, dest).Scan(&f.RunID, &f.Source, &f.Dest,
		&f.Stage, &f.Note, &f.MD5, &f.SHA256, &f.Processed)
	if err == sql.ErrNoRows {
		return File{}, ErrNoRecord
	}
	return f, err
}

func (q *QL) NextCheck(cutoff time.Time) string {
	const query = `
		SELECT path, scheduled_time
		FROM checks
		WHERE status == "scheduled" AND scheduled_time <= ?1
		ORDER BY scheduled_time
		LIMIT 1`
	var path string
	var when time.Time
	err := q.db.QueryRow(query, cutoff).Scan(&path, &when)
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

func (q *QL) UpdateCheck(path, status, notes string) error {
	const query = `
		UPDATE checks
		SET status = ?2, notes = ?3
		WHERE id() in
			(SELECT id from
				(SELECT id() as id, scheduled_time
				FROM checks
				WHERE path == ?1 and status == "scheduled"
				ORDER BY scheduled_time
				LIMIT 1))`
	result, err := performExec(q.db, query, path, status, notes)
	if err != nil {
		return err
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if nrows == 0 {
		// nothing was scheduled. keep the outcome anyway
		const newquery = `INSERT INTO checks VALUES (?1,?2,?3,?4)`
		_, err = performExec(q.db, newquery, path, time.Now(), status, notes)
	}
	return err
}

func (q *QL) SetCheck(path string, when time.Time) error {
	const query = `INSERT INTO checks VALUES (?1,?2,?3,?4)`
	_, err := performExec(q.db, query, path, when, CheckScheduled, "")
	return err
}

func (q *QL) SearchChecks(path string) ([]Check, error) {
	const query = `
		SELECT id(), path, scheduled_time, status, notes
		FROM checks
		WHERE ?1 == "" OR path == ?1
		ORDER BY scheduled_time, id()`
	rows, err := q.db.Query(query, path)
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

func (q *QL) LookupCheck(path string) (time.Time, error) {
	const query = `
		SELECT scheduled_time
		FROM checks
		WHERE path == ?1 AND status == "scheduled"
		ORDER BY scheduled_time ASC
		LIMIT 1`
	var when time.Time
	err := q.db.QueryRow(query, path).Scan(&when)
	if err == sql.ErrNoRows {
		err = nil
	}
	return when, err
}

// performExec wraps a write in its own transaction, which the ql driver
// requires.
func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	var result sql.Result
	result, err = tx.Exec(query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	err = tx.Commit()
	return result, err
}
