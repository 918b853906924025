package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/logging"
	"github.com/kimhsiao/fitsync/internal/models"
)

// Record is one stored row of a syncable collection.
type Record struct {
	Collection      string
	ID              string
	Data            json.RawMessage
	CreatedAt       int64
	UpdatedAt       int64
	DeletedAt       *int64
	SyncStatus      models.SyncStatus
	SyncError       string
	ServerUpdatedAt int64
}

// IsDeleted reports whether the record is a tombstone.
func (r *Record) IsDeleted() bool {
	return r.DeletedAt != nil
}

// Decode unmarshals the payload into v and overlays the row metadata, which
// is authoritative over whatever the payload carries.
func (r *Record) Decode(v models.Entity) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to decode "+r.Collection+"/"+r.ID, err)
	}
	meta := v.Meta()
	meta.ID = r.ID
	meta.CreatedAt = r.CreatedAt
	meta.UpdatedAt = r.UpdatedAt
	meta.DeletedAt = r.DeletedAt
	meta.SyncStatus = r.SyncStatus
	return nil
}

// Query selects records of one collection. Results are ordered by
// (created_at, id).
type Query struct {
	Collection string
	// Where matches top-level JSON payload fields by equality.
	Where             map[string]interface{}
	Statuses          []models.SyncStatus
	IncludeTombstones bool
	Limit             int
}

// Store is the observable local record store. All mutations go through
// Write; observers see every committed change before Write returns.
type Store struct {
	db *DB

	writeMu sync.Mutex
	seq     uint64 // guarded by writeMu

	mu          sync.Mutex
	subscribers map[uint64]*Subscription
	nextSubID   uint64

	now func() time.Time
}

// NewStore creates a Store over an opened database.
func NewStore(db *DB) *Store {
	return &Store{
		db:          db,
		subscribers: make(map[uint64]*Subscription),
		now:         time.Now,
	}
}

// DB returns the underlying database.
func (s *Store) DB() *DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Write runs fn inside a single transaction. Either every mutation made
// through tx commits or none does. fn must use tx for all reads and writes.
func (s *Store) Write(ctx context.Context, fn func(tx *Tx) error) error {
	s.writeMu.Lock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.writeMu.Unlock()
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin transaction", err)
	}

	tx := &Tx{ctx: ctx, tx: sqlTx, touched: make(map[string]struct{}), now: s.now}
	if err := fn(tx); err != nil {
		sqlTx.Rollback()
		s.writeMu.Unlock()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		s.writeMu.Unlock()
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to commit transaction", err)
	}

	s.seq++
	seq := s.seq
	pending := s.snapshotsFor(tx.touched)
	s.writeMu.Unlock()

	for _, p := range pending {
		p.sub.deliver(seq, p.records, p.err)
	}
	return nil
}

// Find returns one record. A tombstone is reported as not found unless
// includeTombstones is set.
func (s *Store) Find(ctx context.Context, collection, id string, includeTombstones bool) (*Record, error) {
	rec, err := getRecord(ctx, s.db, collection, id)
	if err != nil {
		return nil, err
	}
	if rec.IsDeleted() && !includeTombstones {
		return nil, notFound(collection, id)
	}
	return rec, nil
}

// Query returns a point-in-time snapshot of matching records.
func (s *Store) Query(ctx context.Context, q Query) ([]Record, error) {
	return queryRecords(ctx, s.db, q)
}

// Cursor returns the persisted pull watermark for collection, or "".
func (s *Store) Cursor(ctx context.Context, collection string) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx, "SELECT cursor FROM sync_cursors WHERE collection = ?", collection).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to read cursor", err)
	}
	return cursor, nil
}

// Conflicts returns the most recent conflict log entries.
func (s *Store) Conflicts(ctx context.Context, limit int) ([]models.ConflictLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, collection, item_id, local_timestamp, remote_timestamp, resolution, detected_at
		 FROM conflict_log ORDER BY detected_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to query conflict log", err)
	}
	defer rows.Close()

	var out []models.ConflictLog
	for rows.Next() {
		var c models.ConflictLog
		if err := rows.Scan(&c.ID, &c.Collection, &c.ItemID, &c.LocalTimestamp, &c.RemoteTimestamp, &c.Resolution, &c.DetectedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan conflict log", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Subscription is a live query registered with Observe.
type Subscription struct {
	id    uint64
	store *Store
	query Query
	fn    func([]Record, error)

	mu      sync.Mutex
	lastSeq uint64
	closed  bool
}

// Observe registers fn for q. fn receives the current result immediately and
// again after every committed write touching q.Collection. Callbacks run on
// the writing goroutine and must not call Write synchronously.
func (s *Store) Observe(q Query, fn func([]Record, error)) (*Subscription, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	s.mu.Lock()
	s.nextSubID++
	sub := &Subscription{id: s.nextSubID, store: s, query: q, fn: fn}
	s.subscribers[sub.id] = sub
	s.mu.Unlock()

	seq := s.seq
	records, err := queryRecords(context.Background(), s.db, q)
	s.writeMu.Unlock()

	sub.deliver(seq, records, err)
	return sub, nil
}

// Close stops delivery. Observing again restarts from the current state.
func (sub *Subscription) Close() {
	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()

	sub.store.mu.Lock()
	delete(sub.store.subscribers, sub.id)
	sub.store.mu.Unlock()
}

// deliver drops snapshots older than one already delivered.
func (sub *Subscription) deliver(seq uint64, records []Record, err error) {
	sub.mu.Lock()
	if sub.closed || (seq < sub.lastSeq) {
		sub.mu.Unlock()
		return
	}
	sub.lastSeq = seq
	sub.mu.Unlock()

	sub.fn(records, err)
}

type pendingDelivery struct {
	sub     *Subscription
	records []Record
	err     error
}

// snapshotsFor must be called with writeMu held so every snapshot reflects
// exactly the state of the commit being announced.
func (s *Store) snapshotsFor(touched map[string]struct{}) []pendingDelivery {
	if len(touched) == 0 {
		return nil
	}

	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		if _, ok := touched[sub.query.Collection]; ok {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	out := make([]pendingDelivery, 0, len(subs))
	for _, sub := range subs {
		records, err := queryRecords(context.Background(), s.db, sub.query)
		if err != nil {
			logging.Error("observer query failed", err, map[string]interface{}{"collection": sub.query.Collection})
		}
		out = append(out, pendingDelivery{sub: sub, records: records, err: err})
	}
	return out
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const recordColumns = "collection, id, data, created_at, updated_at, deleted_at, sync_status, sync_error, server_updated_at"

func (q Query) validate() error {
	if q.Collection == "" {
		return apperrors.New(apperrors.ErrInvalid, "query requires a collection")
	}
	for field := range q.Where {
		if !validField(field) {
			return apperrors.Newf(apperrors.ErrInvalid, "invalid filter field %q", field)
		}
	}
	return nil
}

func validField(field string) bool {
	if field == "" {
		return false
	}
	for _, r := range field {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

func (q Query) build() (string, []interface{}) {
	var sb strings.Builder
	args := []interface{}{q.Collection}

	sb.WriteString("SELECT " + recordColumns + " FROM records WHERE collection = ?")
	if !q.IncludeTombstones {
		sb.WriteString(" AND deleted_at IS NULL")
	}
	if len(q.Statuses) > 0 {
		sb.WriteString(" AND sync_status IN (")
		for i, st := range q.Statuses {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, string(st))
		}
		sb.WriteString(")")
	}

	fields := make([]string, 0, len(q.Where))
	for f := range q.Where {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		v := q.Where[f]
		if b, ok := v.(bool); ok {
			// json_extract yields 1/0 for JSON booleans
			if b {
				v = 1
			} else {
				v = 0
			}
		}
		sb.WriteString(" AND json_extract(data, ?) = ?")
		args = append(args, "$."+f, v)
	}

	sb.WriteString(" ORDER BY created_at, id")
	if q.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", q.Limit))
	}
	return sb.String(), args
}

func queryRecords(ctx context.Context, db queryer, q Query) ([]Record, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	query, args := q.build()
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to query "+q.Collection, err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate "+q.Collection, err)
	}
	return records, nil
}

func getRecord(ctx context.Context, db queryer, collection, id string) (*Record, error) {
	row := db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE collection = ? AND id = ?", collection, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, notFound(collection, id)
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec       Record
		data      string
		status    string
		deletedAt sql.NullInt64
	)
	err := row.Scan(&rec.Collection, &rec.ID, &data, &rec.CreatedAt, &rec.UpdatedAt,
		&deletedAt, &status, &rec.SyncError, &rec.ServerUpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan record", err)
	}
	rec.Data = json.RawMessage(data)
	rec.SyncStatus = models.SyncStatus(status)
	if deletedAt.Valid {
		v := deletedAt.Int64
		rec.DeletedAt = &v
	}
	return &rec, nil
}

func notFound(collection, id string) error {
	return apperrors.Newf(apperrors.ErrNotFound, "%s/%s not found", collection, id)
}
