// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS ticks (
	seq         INTEGER NOT NULL,
	ts_unix_ns  INTEGER NOT NULL,
	state       TEXT    NOT NULL,
	frame_seq   INTEGER,
	spot_x      DOUBLE,
	spot_y      DOUBLE,
	marker_x    DOUBLE,
	marker_y    DOUBLE,
	controlled  BOOLEAN NOT NULL,
	err_x       DOUBLE,
	err_y       DOUBLE,
	band        TEXT,
	angle1      DOUBLE,
	angle2      DOUBLE,
	pulses1     INTEGER,
	pulses2     INTEGER,
	sent        BOOLEAN NOT NULL,
	tx_error    TEXT,
	range_mm    DOUBLE
);
CREATE INDEX IF NOT EXISTS ticks_ts ON ticks (ts_unix_ns);
`

const (
	recordBuffer = 512
	recordBatch  = 64
)

// Recorder appends ticks to an SQLite table for offline tuning. Inserts run
// on their own goroutine in batched transactions; Record only enqueues and
// drops the tick when the queue is full.
type Recorder struct {
	db     *sql.DB
	insert *sql.Stmt

	queue   chan recordItem
	done    chan struct{}
	once    sync.Once
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// recordItem is a tick to insert, or a flush marker when flushed is set.
type recordItem struct {
	tick    Tick
	flushed chan struct{}
}

// OpenRecorder opens (or creates) the database at path.
func OpenRecorder(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	insert, err := db.Prepare(`INSERT INTO ticks (
		seq, ts_unix_ns, state, frame_seq, spot_x, spot_y, marker_x, marker_y,
		controlled, err_x, err_y, band, angle1, angle2, pulses1, pulses2,
		sent, tx_error, range_mm
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	r := &Recorder{
		db:     db,
		insert: insert,
		queue:  make(chan recordItem, recordBuffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Record queues t for insertion without blocking.
func (r *Recorder) Record(t Tick) {
	select {
	case r.queue <- recordItem{tick: t}:
	default:
		if r.dropped.Add(1)%100 == 1 {
			Logf("telemetry: record queue full, %d ticks dropped so far", r.dropped.Load())
		}
	}
}

// Flush blocks until every tick recorded before the call is committed.
func (r *Recorder) Flush() {
	c := make(chan struct{})
	r.queue <- recordItem{flushed: c}
	<-c
}

func (r *Recorder) run() {
	defer close(r.done)
	batch := make([]Tick, 0, recordBatch)
	for item := range r.queue {
		var flushed chan struct{}
		if item.flushed != nil {
			flushed = item.flushed
		} else {
			batch = append(batch, item.tick)
		}
	fill:
		for flushed == nil && len(batch) < recordBatch {
			select {
			case next, ok := <-r.queue:
				if !ok {
					break fill
				}
				if next.flushed != nil {
					flushed = next.flushed
					break fill
				}
				batch = append(batch, next.tick)
			default:
				break fill
			}
		}
		r.write(batch)
		batch = batch[:0]
		if flushed != nil {
			close(flushed)
		}
	}
}

// write inserts a batch in one transaction.
func (r *Recorder) write(batch []Tick) {
	if len(batch) == 0 {
		return
	}
	tx, err := r.db.Begin()
	if err != nil {
		r.fail(uint64(len(batch)), err)
		return
	}
	stmt := tx.Stmt(r.insert)
	for _, t := range batch {
		if err := insertTick(stmt, t); err != nil {
			r.fail(1, fmt.Errorf("tick %d: %w", t.Seq, err))
		}
	}
	if err := tx.Commit(); err != nil {
		r.fail(uint64(len(batch)), err)
	}
}

func (r *Recorder) fail(n uint64, err error) {
	if total := r.failed.Add(n); total%100 < n {
		Logf("telemetry: record: %v", err)
	}
}

func insertTick(stmt *sql.Stmt, t Tick) error {
	var rangeMM sql.NullFloat64
	if t.Distance != nil {
		rangeMM = sql.NullFloat64{Float64: t.Distance.RangeMM, Valid: true}
	}
	var txErr sql.NullString
	if t.TxError != "" {
		txErr = sql.NullString{String: t.TxError, Valid: true}
	}
	_, err := stmt.Exec(
		int64(t.Seq), t.Time.UnixNano(), t.State, int64(t.FrameSeq),
		t.Spot.X, t.Spot.Y, t.Marker.X, t.Marker.Y,
		t.Controlled, t.ErrX, t.ErrY, t.Band, t.Angle1, t.Angle2, int64(t.Pulses1), int64(t.Pulses2),
		t.Sent, txErr, rangeMM,
	)
	return err
}

// Row is a tick as read back from the database.
type Row struct {
	Seq        uint64
	Time       time.Time
	State      string
	Controlled bool
	ErrX, ErrY float64
	Band       string
	Pulses1    int32
	Pulses2    int32
	Sent       bool
	TxError    string
}

// Recent returns up to n rows, newest first.
func (r *Recorder) Recent(n int) ([]Row, error) {
	rows, err := r.db.Query(`SELECT seq, ts_unix_ns, state, controlled, err_x, err_y,
		band, pulses1, pulses2, sent, tx_error
		FROM ticks ORDER BY ts_unix_ns DESC, seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row   Row
			ts    int64
			txErr sql.NullString
		)
		if err := rows.Scan(&row.Seq, &ts, &row.State, &row.Controlled, &row.ErrX, &row.ErrY,
			&row.Band, &row.Pulses1, &row.Pulses2, &row.Sent, &txErr); err != nil {
			return nil, err
		}
		row.Time = time.Unix(0, ts)
		row.TxError = txErr.String
		out = append(out, row)
	}
	return out, rows.Err()
}

// Failed counts ticks whose insert or commit returned an error.
func (r *Recorder) Failed() uint64 { return r.failed.Load() }

// Dropped counts ticks discarded because the queue was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Close commits what is queued and closes the database. Record and Flush
// must not be called after Close.
func (r *Recorder) Close() error {
	r.once.Do(func() { close(r.queue) })
	<-r.done
	r.insert.Close()
	return r.db.Close()
}
