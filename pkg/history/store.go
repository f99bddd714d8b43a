// Package history keeps a record of print jobs and jam episodes in a
// sqlite database, so filament usage and jams survive restarts.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"disaster-manager-go/pkg/errors"
)

// Job statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusError      = "error"
)

// Job is one print from start to finish.
type Job struct {
	ID        string     `json:"job_id"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Tools     int        `json:"tools"`
	GCode     []float64  `json:"gcode_extrusion"`
	Sensor    []float64  `json:"sensor_extrusion"`
	Jams      int        `json:"jams"`
}

// Duration is the job length, up to now for jobs still running.
func (j Job) Duration(now time.Time) time.Duration {
	if j.EndTime != nil {
		return j.EndTime.Sub(j.StartTime)
	}
	return now.Sub(j.StartTime)
}

// FilamentUsed sums the G-code extrusion over all tools.
func (j Job) FilamentUsed() float64 {
	var sum float64
	for _, v := range j.GCode {
		sum += v
	}
	return sum
}

// Jam is one detected jam episode.
type Jam struct {
	EpisodeID string    `json:"episode_id"`
	JobID     string    `json:"job_id"`
	Tool      int       `json:"tool"`
	GCode     float64   `json:"gcode"`
	Sensor    float64   `json:"sensor"`
	Drift     float64   `json:"drift"`
	Threshold float64   `json:"threshold"`
	Time      time.Time `json:"time"`
}

// Totals aggregates every finished job.
type Totals struct {
	TotalJobs      int     `json:"total_jobs"`
	TotalTime      float64 `json:"total_time"`
	TotalFilament  float64 `json:"total_filament_used"`
	TotalSensor    float64 `json:"total_sensor_measured"`
	TotalJams      int     `json:"total_jams"`
	LongestJob     float64 `json:"longest_job"`
	CompletedJobs  int     `json:"completed_jobs"`
	CancelledJobs  int     `json:"cancelled_jobs"`
	JobsWithErrors int     `json:"error_jobs"`
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	end_time   INTEGER,
	tools      INTEGER NOT NULL,
	gcode      TEXT NOT NULL DEFAULT '[]',
	sensor     TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS jams (
	episode_id TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL,
	tool       INTEGER NOT NULL,
	gcode      REAL NOT NULL,
	sensor     REAL NOT NULL,
	drift      REAL NOT NULL,
	threshold  REAL NOT NULL,
	time       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS jams_job ON jams(job_id);
`

// Store is a sqlite backed job history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.HistoryError("open", err)
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.HistoryError("migrate", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartJob inserts a new in-progress job.
func (s *Store) StartJob(ctx context.Context, tools int) (Job, error) {
	job := Job{
		ID:        uuid.NewString(),
		Status:    StatusInProgress,
		StartTime: s.now(),
		Tools:     tools,
		GCode:     make([]float64, tools),
		Sensor:    make([]float64, tools),
	}
	g, _ := json.Marshal(job.GCode)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, start_time, tools, gcode, sensor) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.Status, job.StartTime.UnixNano(), tools, string(g), string(g))
	if err != nil {
		return Job{}, errors.HistoryError("start job", err)
	}
	return job, nil
}

// FinishJob stores the final totals and status of a job.
func (s *Store) FinishJob(ctx context.Context, id, status string, gcode, sensor []float64) error {
	g, err := json.Marshal(nonNil(gcode))
	if err != nil {
		return errors.HistoryError("finish job", err)
	}
	se, err := json.Marshal(nonNil(sensor))
	if err != nil {
		return errors.HistoryError("finish job", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, end_time = ?, gcode = ?, sensor = ? WHERE id = ?`,
		status, s.now().UnixNano(), string(g), string(se), id)
	if err != nil {
		return errors.HistoryError("finish job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.HistoryError("finish job", sql.ErrNoRows).SetContext("job_id", id)
	}
	return nil
}

// RecordJam stores a jam episode against jobID.
func (s *Store) RecordJam(ctx context.Context, jobID string, jam Jam) error {
	if jam.EpisodeID == "" {
		jam.EpisodeID = uuid.NewString()
	}
	if jam.Time.IsZero() {
		jam.Time = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jams (episode_id, job_id, tool, gcode, sensor, drift, threshold, time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		jam.EpisodeID, jobID, jam.Tool, jam.GCode, jam.Sensor, jam.Drift, jam.Threshold, jam.Time.UnixNano())
	if err != nil {
		return errors.HistoryError("record jam", err)
	}
	return nil
}

const jobColumns = `j.id, j.status, j.start_time, j.end_time, j.tools, j.gcode, j.sensor,
	(SELECT count(*) FROM jams WHERE jams.job_id = j.id)`

// ListJobs returns jobs, most recent first. limit <= 0 means all.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs j ORDER BY j.start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.HistoryError("list jobs", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.HistoryError("list jobs", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.HistoryError("list jobs", err)
	}
	return jobs, nil
}

// GetJob returns one job.
func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs j WHERE j.id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		return Job{}, errors.HistoryError("get job", err).SetContext("job_id", id)
	}
	return job, nil
}

// ListJams returns the jams of a job in time order.
func (s *Store) ListJams(ctx context.Context, jobID string) ([]Jam, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT episode_id, job_id, tool, gcode, sensor, drift, threshold, time
		 FROM jams WHERE job_id = ? ORDER BY time`, jobID)
	if err != nil {
		return nil, errors.HistoryError("list jams", err)
	}
	defer rows.Close()

	var jams []Jam
	for rows.Next() {
		var (
			jam Jam
			ts  int64
		)
		if err := rows.Scan(&jam.EpisodeID, &jam.JobID, &jam.Tool, &jam.GCode, &jam.Sensor,
			&jam.Drift, &jam.Threshold, &ts); err != nil {
			return nil, errors.HistoryError("list jams", err)
		}
		jam.Time = time.Unix(0, ts)
		jams = append(jams, jam)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.HistoryError("list jams", err)
	}
	return jams, nil
}

// Totals aggregates all jobs that have finished.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs j WHERE j.end_time IS NOT NULL`)
	if err != nil {
		return Totals{}, errors.HistoryError("totals", err)
	}
	defer rows.Close()

	var t Totals
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return Totals{}, errors.HistoryError("totals", err)
		}
		d := job.Duration(s.now()).Seconds()
		t.TotalJobs++
		t.TotalTime += d
		t.TotalFilament += job.FilamentUsed()
		for _, v := range job.Sensor {
			t.TotalSensor += v
		}
		t.TotalJams += job.Jams
		if d > t.LongestJob {
			t.LongestJob = d
		}
		switch job.Status {
		case StatusCompleted:
			t.CompletedJobs++
		case StatusCancelled:
			t.CancelledJobs++
		case StatusError:
			t.JobsWithErrors++
		}
	}
	if err := rows.Err(); err != nil {
		return Totals{}, errors.HistoryError("totals", err)
	}
	return t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (Job, error) {
	var (
		job           Job
		start         int64
		end           sql.NullInt64
		gcode, sensor string
	)
	if err := sc.Scan(&job.ID, &job.Status, &start, &end, &job.Tools, &gcode, &sensor, &job.Jams); err != nil {
		return Job{}, err
	}
	job.StartTime = time.Unix(0, start)
	if end.Valid {
		t := time.Unix(0, end.Int64)
		job.EndTime = &t
	}
	if err := json.Unmarshal([]byte(gcode), &job.GCode); err != nil {
		return Job{}, err
	}
	if err := json.Unmarshal([]byte(sensor), &job.Sensor); err != nil {
		return Job{}, err
	}
	return job, nil
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
