package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/audiolibrelab/memocapture/internal/model"
	"github.com/audiolibrelab/memocapture/internal/storage"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ storage.Store = (*SqliteStorage)(nil)

// SqliteStorage implements storage.Store using the pure-Go SQLite driver.
type SqliteStorage struct {
	ops
	db *sql.DB
}

// ops implements storage.Tx against any querier.
type ops struct {
	q querier
}

// NewSqliteStorage opens (or creates) a SQLite database file.
func NewSqliteStorage(path string) (*SqliteStorage, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return NewSqliteStorageWithDB(db), nil
}

// NewSqliteStorageWithDB wires an existing connection. The schema must already exist.
func NewSqliteStorageWithDB(db *sql.DB) *SqliteStorage {
	return &SqliteStorage{ops: ops{q: db}, db: db}
}

// DB exposes the underlying connection.
func (s *SqliteStorage) DB() *sql.DB {
	return s.db
}

func (s *SqliteStorage) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

// RunTransaction executes fn inside a single SQL transaction.
func (s *SqliteStorage) RunTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ops{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- Recording operations ---

const recordingColumns = `RecordingId, Name, FilePath, FolderId, Format, DurationMs, FileSizeBytes, SampleRate, BitRate,
	Latitude, Longitude, LocationName, CreationTime, UpdateTime, IsFavorite, Tags, IsDeleted, DeletionTime, OriginalFolderId`

func (o ops) CreateRecording(ctx context.Context, rec *model.Recording) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	tags, err := json.Marshal(model.NormalizeTags(rec.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	_, err = o.q.ExecContext(ctx, `INSERT INTO Recordings (`+recordingColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Name, rec.FilePath, rec.FolderID, string(rec.Format), rec.Duration.Milliseconds(), rec.FileSizeBytes,
		rec.SampleRate, rec.BitRate, nullFloat(rec.Latitude), nullFloat(rec.Longitude), rec.LocationName,
		toNanos(rec.CreatedAt), nullTime(rec.UpdatedAt), rec.IsFavorite, string(tags), rec.IsDeleted,
		nullTime(rec.DeletedAt), nullString(rec.OriginalFolderID))
	return err
}

func (o ops) UpdateRecording(ctx context.Context, rec *model.Recording) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	tags, err := json.Marshal(model.NormalizeTags(rec.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	res, err := o.q.ExecContext(ctx, `UPDATE Recordings SET Name = ?, FilePath = ?, FolderId = ?, Format = ?, DurationMs = ?,
		FileSizeBytes = ?, SampleRate = ?, BitRate = ?, Latitude = ?, Longitude = ?, LocationName = ?, UpdateTime = ?,
		IsFavorite = ?, Tags = ?, IsDeleted = ?, DeletionTime = ?, OriginalFolderId = ? WHERE RecordingId = ?`,
		rec.Name, rec.FilePath, rec.FolderID, string(rec.Format), rec.Duration.Milliseconds(), rec.FileSizeBytes,
		rec.SampleRate, rec.BitRate, nullFloat(rec.Latitude), nullFloat(rec.Longitude), rec.LocationName,
		nullTime(rec.UpdatedAt), rec.IsFavorite, string(tags), rec.IsDeleted, nullTime(rec.DeletedAt),
		nullString(rec.OriginalFolderID), rec.ID)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (o ops) DeleteRecording(ctx context.Context, id string) error {
	res, err := o.q.ExecContext(ctx, `DELETE FROM Recordings WHERE RecordingId = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (o ops) GetRecordingByID(ctx context.Context, id string) (*model.Recording, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM Recordings WHERE RecordingId = ?`, id)
	return scanRecording(row)
}

func (o ops) GetRecordingsByFolder(ctx context.Context, folderID string) ([]*model.Recording, error) {
	return o.queryRecordings(ctx, `SELECT `+recordingColumns+` FROM Recordings WHERE FolderId = ? ORDER BY CreationTime DESC`, folderID)
}

func (o ops) ListRecordings(ctx context.Context) ([]*model.Recording, error) {
	return o.queryRecordings(ctx, `SELECT `+recordingColumns+` FROM Recordings WHERE IsDeleted = 0 ORDER BY CreationTime DESC`)
}

func (o ops) ListDeletedRecordings(ctx context.Context) ([]*model.Recording, error) {
	return o.queryRecordings(ctx, `SELECT `+recordingColumns+` FROM Recordings WHERE IsDeleted = 1 ORDER BY DeletionTime ASC`)
}

func (o ops) queryRecordings(ctx context.Context, query string, args ...any) ([]*model.Recording, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Folder operations ---

func (o ops) CreateFolder(ctx context.Context, folder *model.Folder) error {
	_, err := o.q.ExecContext(ctx, `INSERT INTO Folders (FolderId, Name, RecordingCount, CreationTime) VALUES (?,?,?,?)`,
		folder.ID, folder.Name, folder.RecordingCount, toNanos(folder.CreatedAt))
	return err
}

func (o ops) GetFolder(ctx context.Context, id string) (*model.Folder, error) {
	row := o.q.QueryRowContext(ctx, `SELECT FolderId, Name, RecordingCount, CreationTime FROM Folders WHERE FolderId = ?`, id)
	return scanFolder(row)
}

func (o ops) ListFolders(ctx context.Context) ([]*model.Folder, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT FolderId, Name, RecordingCount, CreationTime FROM Folders ORDER BY Name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (o ops) IncrementFolderCount(ctx context.Context, id string) error {
	res, err := o.q.ExecContext(ctx, `UPDATE Folders SET RecordingCount = RecordingCount + 1 WHERE FolderId = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// DecrementFolderCount never drops the count below zero.
func (o ops) DecrementFolderCount(ctx context.Context, id string) error {
	res, err := o.q.ExecContext(ctx, `UPDATE Folders SET RecordingCount = MAX(RecordingCount - 1, 0) WHERE FolderId = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (o ops) SetFolderCount(ctx context.Context, id string, count int) error {
	res, err := o.q.ExecContext(ctx, `UPDATE Folders SET RecordingCount = ? WHERE FolderId = ?`, count, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (o ops) CountActiveRecordings(ctx context.Context, folderID string) (int, error) {
	var n int
	err := o.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM Recordings WHERE FolderId = ? AND IsDeleted = 0`, folderID).Scan(&n)
	return n, err
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanRecording(row scanner) (*model.Recording, error) {
	var (
		rec        model.Recording
		format     string
		durationMs int64
		lat, lon   sql.NullFloat64
		created    int64
		updated    sql.NullInt64
		tags       string
		deletedAt  sql.NullInt64
		origFolder sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.FilePath, &rec.FolderID, &format, &durationMs, &rec.FileSizeBytes,
		&rec.SampleRate, &rec.BitRate, &lat, &lon, &rec.LocationName, &created, &updated, &rec.IsFavorite, &tags,
		&rec.IsDeleted, &deletedAt, &origFolder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Format = model.Format(format)
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.CreatedAt = fromNanos(created)
	if lat.Valid {
		v := lat.Float64
		rec.Latitude = &v
	}
	if lon.Valid {
		v := lon.Float64
		rec.Longitude = &v
	}
	if updated.Valid {
		t := fromNanos(updated.Int64)
		rec.UpdatedAt = &t
	}
	if deletedAt.Valid {
		t := fromNanos(deletedAt.Int64)
		rec.DeletedAt = &t
	}
	if origFolder.Valid {
		v := origFolder.String
		rec.OriginalFolderID = &v
	}
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, fmt.Errorf("decode tags for %s: %w", rec.ID, err)
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	return &rec, nil
}

func scanFolder(row scanner) (*model.Folder, error) {
	var f model.Folder
	var created int64
	err := row.Scan(&f.ID, &f.Name, &f.RecordingCount, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.CreatedAt = fromNanos(created)
	return &f, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
