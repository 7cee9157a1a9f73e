package storage

// SQLiteSchema creates the recordings and folders tables. Times are stored
// as UTC unix nanoseconds.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS Folders (
	FolderId       TEXT PRIMARY KEY,
	Name           TEXT NOT NULL,
	RecordingCount INTEGER NOT NULL DEFAULT 0 CHECK (RecordingCount >= 0),
	CreationTime   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS Recordings (
	RecordingId      TEXT PRIMARY KEY,
	Name             TEXT NOT NULL,
	FilePath         TEXT NOT NULL,
	FolderId         TEXT NOT NULL,
	Format           TEXT NOT NULL,
	DurationMs       INTEGER NOT NULL CHECK (DurationMs >= 0),
	FileSizeBytes    INTEGER NOT NULL CHECK (FileSizeBytes > 0),
	SampleRate       INTEGER NOT NULL,
	BitRate          INTEGER NOT NULL DEFAULT 0,
	Latitude         REAL,
	Longitude        REAL,
	LocationName     TEXT NOT NULL DEFAULT '',
	CreationTime     INTEGER NOT NULL,
	UpdateTime       INTEGER,
	IsFavorite       INTEGER NOT NULL DEFAULT 0,
	Tags             TEXT NOT NULL DEFAULT '[]',
	IsDeleted        INTEGER NOT NULL DEFAULT 0,
	DeletionTime     INTEGER,
	OriginalFolderId TEXT,
	CHECK ((IsDeleted = 1) = (DeletionTime IS NOT NULL)),
	CHECK (OriginalFolderId IS NULL OR IsDeleted = 1)
);

CREATE INDEX IF NOT EXISTS idx_recordings_folder ON Recordings (FolderId, IsDeleted);
CREATE INDEX IF NOT EXISTS idx_recordings_deleted ON Recordings (IsDeleted, DeletionTime);
`
