// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/lectern/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. ":memory:" opens a private
// in-memory database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		link TEXT,
		instructor TEXT,
		source_path TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_courses_name ON courses(name COLLATE NOCASE);

	CREATE TABLE IF NOT EXISTS lessons (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		title TEXT,
		content TEXT,
		file_path TEXT,
		link TEXT,
		FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_lessons_course_number ON lessons(course_id, number);

	CREATE TABLE IF NOT EXISTS course_chunks (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL,
		lesson_id TEXT,
		lesson_number INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_course_id ON course_chunks(course_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_course_lesson ON course_chunks(course_id, lesson_number, chunk_index);

	CREATE TABLE IF NOT EXISTS sources (
		path TEXT PRIMARY KEY,
		course_id TEXT NOT NULL,
		mod_time INTEGER NOT NULL,
		size INTEGER NOT NULL,
		FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateCourse inserts a course and its lessons in one transaction.
func (s *SQLiteStorage) CreateCourse(ctx context.Context, course *models.Course) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	course.CreatedAt = time.Now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO courses (id, name, description, link, instructor, source_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		course.ID, course.Name, course.Description, course.Link, course.Instructor, course.SourcePath, course.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert course %s: %w", course.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO lessons (id, course_id, number, title, content, file_path, link)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range course.Lessons {
		if _, err := stmt.ExecContext(ctx, l.ID, course.ID, l.Number, l.Title, l.Content, l.FilePath, l.Link); err != nil {
			return fmt.Errorf("failed to insert lesson %s: %w", l.ID, err)
		}
	}
	return tx.Commit()
}

const courseColumns = `id, name, description, link, instructor, source_path, created_at`

func scanCourse(row interface{ Scan(...any) error }) (*models.Course, error) {
	var c models.Course
	var description, link, instructor, source sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &description, &link, &instructor, &source, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Description = description.String
	c.Link = link.String
	c.Instructor = instructor.String
	c.SourcePath = source.String
	c.Lessons = []models.Lesson{}
	return &c, nil
}

// GetCourse returns a course with its lessons.
func (s *SQLiteStorage) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = ?`, id)
	return s.loadCourse(ctx, row, id)
}

// GetCourseByTitle returns the course whose name matches title, ignoring case.
func (s *SQLiteStorage) GetCourseByTitle(ctx context.Context, title string) (*models.Course, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE name = ? COLLATE NOCASE LIMIT 1`,
		strings.TrimSpace(title),
	)
	return s.loadCourse(ctx, row, title)
}

func (s *SQLiteStorage) loadCourse(ctx context.Context, row *sql.Row, key string) (*models.Course, error) {
	course, err := scanCourse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("course %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	lessons, err := s.ListLessons(ctx, course.ID)
	if err != nil {
		return nil, err
	}
	course.Lessons = lessons
	return course, nil
}

// ListCourses returns all courses ordered by name, each with its lessons.
func (s *SQLiteStorage) ListCourses(ctx context.Context) ([]*models.Course, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+courseColumns+` FROM courses ORDER BY name COLLATE NOCASE`)
	if err != nil {
		return nil, err
	}
	courses := make([]*models.Course, 0)
	byID := make(map[string]*models.Course)
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		courses = append(courses, c)
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	lessonRows, err := s.db.QueryContext(ctx,
		`SELECT id, course_id, number, title, content, file_path, link FROM lessons ORDER BY course_id, number`)
	if err != nil {
		return nil, err
	}
	defer lessonRows.Close()
	for lessonRows.Next() {
		l, err := scanLesson(lessonRows)
		if err != nil {
			return nil, err
		}
		if c, ok := byID[l.CourseID]; ok {
			c.Lessons = append(c.Lessons, l)
		}
	}
	return courses, lessonRows.Err()
}

// DeleteCourse removes a course. Lessons, chunks and source records go with it.
func (s *SQLiteStorage) DeleteCourse(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM courses WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("course %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanLesson(row interface{ Scan(...any) error }) (models.Lesson, error) {
	var l models.Lesson
	var title, content, filePath, link sql.NullString
	if err := row.Scan(&l.ID, &l.CourseID, &l.Number, &title, &content, &filePath, &link); err != nil {
		return l, err
	}
	l.Title = title.String
	l.Content = content.String
	l.FilePath = filePath.String
	l.Link = link.String
	return l, nil
}

// ListLessons returns the lessons of a course ordered by number.
func (s *SQLiteStorage) ListLessons(ctx context.Context, courseID string) ([]models.Lesson, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, course_id, number, title, content, file_path, link
		 FROM lessons WHERE course_id = ? ORDER BY number`, courseID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lessons := make([]models.Lesson, 0)
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

const chunkInsert = `INSERT INTO course_chunks
	(id, course_id, lesson_id, lesson_number, chunk_index, content, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func chunkArgs(chunk *models.CourseChunk) ([]any, error) {
	metadataJSON, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return []any{
		chunk.ID, chunk.CourseID, chunk.LessonID, chunk.LessonNumber, chunk.ChunkIndex,
		chunk.Content, string(metadataJSON), chunk.CreatedAt,
	}, nil
}

// CreateChunk inserts a single chunk.
func (s *SQLiteStorage) CreateChunk(ctx context.Context, chunk *models.CourseChunk) error {
	chunk.CreatedAt = time.Now()
	args, err := chunkArgs(chunk)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, chunkInsert, args...)
	return err
}

// BatchCreateChunks inserts multiple chunks in a transaction.
func (s *SQLiteStorage) BatchCreateChunks(ctx context.Context, chunks []*models.CourseChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, chunkInsert)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, chunk := range chunks {
		chunk.CreatedAt = now
		args, err := chunkArgs(chunk)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
	}
	return tx.Commit()
}

const chunkColumns = `id, course_id, lesson_id, lesson_number, chunk_index, content, metadata, created_at`

func scanChunk(row interface{ Scan(...any) error }) (*models.CourseChunk, error) {
	var chunk models.CourseChunk
	var lessonID, metadataJSON sql.NullString
	if err := row.Scan(&chunk.ID, &chunk.CourseID, &lessonID, &chunk.LessonNumber, &chunk.ChunkIndex,
		&chunk.Content, &metadataJSON, &chunk.CreatedAt); err != nil {
		return nil, err
	}
	chunk.LessonID = lessonID.String
	if metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &chunk, nil
}

// GetChunk returns a chunk by ID.
func (s *SQLiteStorage) GetChunk(ctx context.Context, id string) (*models.CourseChunk, error) {
	chunk, err := scanChunk(s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM course_chunks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	return chunk, err
}

// GetChunksByIDs returns the chunks that exist among ids, keyed by ID.
func (s *SQLiteStorage) GetChunksByIDs(ctx context.Context, ids []string) (map[string]*models.CourseChunk, error) {
	out := make(map[string]*models.CourseChunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM course_chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[chunk.ID] = chunk
	}
	return out, rows.Err()
}

// GetChunksByCourseID returns all chunks of a course ordered by lesson and position.
func (s *SQLiteStorage) GetChunksByCourseID(ctx context.Context, courseID string) ([]*models.CourseChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM course_chunks WHERE course_id = ?
		 ORDER BY lesson_number, chunk_index`, courseID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.CourseChunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// PutSource records or replaces the source state for a file.
func (s *SQLiteStorage) PutSource(ctx context.Context, rec SourceRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (path, course_id, mod_time, size) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET course_id = excluded.course_id,
		 mod_time = excluded.mod_time, size = excluded.size`,
		rec.Path, rec.CourseID, rec.ModTime, rec.Size,
	)
	return err
}

// GetSource returns the recorded state of a file.
func (s *SQLiteStorage) GetSource(ctx context.Context, path string) (*SourceRecord, error) {
	var rec SourceRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT path, course_id, mod_time, size FROM sources WHERE path = ?`, path,
	).Scan(&rec.Path, &rec.CourseID, &rec.ModTime, &rec.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStorage) count(ctx context.Context, table string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
	return count, err
}

// CountCourses returns the total number of courses.
func (s *SQLiteStorage) CountCourses(ctx context.Context) (int64, error) {
	return s.count(ctx, "courses")
}

// CountLessons returns the total number of lessons.
func (s *SQLiteStorage) CountLessons(ctx context.Context) (int64, error) {
	return s.count(ctx, "lessons")
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	return s.count(ctx, "course_chunks")
}

// Clear deletes all rows.
func (s *SQLiteStorage) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"sources", "course_chunks", "lessons", "courses"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
