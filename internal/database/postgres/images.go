package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/pgvector/pgvector-go"
)

const recordColumns = `
	i.image_id, i.event, i.date, i.department, i.district, i.filename, i.content_type, i.uploaded_at,
	f.face_index, f.embedding`

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ImageRepository provides PostgreSQL-backed image metadata storage.
type ImageRepository struct {
	pool *Pool
}

// NewImageRepository creates a new PostgreSQL image repository.
func NewImageRepository(pool *Pool) *ImageRepository {
	return &ImageRepository{pool: pool}
}

// Get retrieves a record with its face embeddings.
func (r *ImageRepository) Get(ctx context.Context, imageID string) (*database.ImageRecord, error) {
	ctx, cancel := r.pool.withTimeout(ctx)
	defer cancel()

	query := `SELECT` + recordColumns + `
		FROM images i JOIN image_faces f ON f.image_id = i.image_id
		WHERE i.image_id = $1
		ORDER BY f.face_index`

	records, err := queryRecords(ctx, r.pool.db, query, imageID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, database.ErrNotFound
	}
	return &records[0], nil
}

// Select returns all records matching the filters from one consistent snapshot.
func (r *ImageRepository) Select(ctx context.Context, filters database.Filters) ([]database.ImageRecord, error) {
	ctx, cancel := r.pool.withTimeout(ctx)
	defer cancel()

	where, args := filterClause(filters)
	query := `SELECT` + recordColumns + `
		FROM images i JOIN image_faces f ON f.image_id = i.image_id` + where + `
		ORDER BY i.image_id, f.face_index`

	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // read-only

	records, err := queryRecords(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []database.ImageRecord{}
	}
	return records, nil
}

// filterClause builds a WHERE clause with one equality per set filter.
func filterClause(f database.Filters) (string, []any) {
	var conds []string
	var args []any
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("i.%s = $%d", column, len(args)))
	}
	add("event", f.Event)
	add("date", f.Date)
	add("department", f.Department)
	add("district", f.District)

	if len(conds) == 0 {
		return "", nil
	}
	return "\n\t\tWHERE " + strings.Join(conds, " AND "), args
}

// Count returns the number of image records.
func (r *ImageRepository) Count(ctx context.Context) (int, error) {
	ctx, cancel := r.pool.withTimeout(ctx)
	defer cancel()

	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM images").Scan(&count); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return count, nil
}

// Oldest returns up to n records in eviction order.
func (r *ImageRepository) Oldest(ctx context.Context, n int) ([]database.ImageRecord, error) {
	if n <= 0 {
		return []database.ImageRecord{}, nil
	}
	ctx, cancel := r.pool.withTimeout(ctx)
	defer cancel()

	query := `SELECT` + recordColumns + `
		FROM images i JOIN image_faces f ON f.image_id = i.image_id
		WHERE i.image_id IN (
			SELECT image_id FROM images ORDER BY uploaded_at, image_id LIMIT $1
		)
		ORDER BY i.uploaded_at, i.image_id, f.face_index`

	records, err := queryRecords(ctx, r.pool.db, query, n)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []database.ImageRecord{}
	}
	return records, nil
}

// ImageIDs returns every stored image ID in ascending order.
func (r *ImageRepository) ImageIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := r.pool.withTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, "SELECT image_id FROM images ORDER BY image_id")
	if err != nil {
		return nil, fmt.Errorf("list image ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan image id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image ids: %w", err)
	}
	return ids, nil
}

// Insert stores a record and its face embeddings in one transaction.
func (r *ImageRepository) Insert(ctx context.Context, rec *database.ImageRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	ctx, cancel := r.pool.withTimeout(ctx)
	defer cancel()

	uploadedAt := rec.UploadedAt
	if uploadedAt.IsZero() {
		uploadedAt = time.Now().UTC()
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO images (image_id, event, date, department, district, filename, content_type, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ImageID, rec.Event, rec.Date, rec.Department, rec.District, rec.Filename, rec.ContentType, uploadedAt)
	if err != nil {
		return fmt.Errorf("insert image %s: %w", rec.ImageID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO image_faces (image_id, face_index, embedding, dim)
		VALUES ($1, $2, $3::vector, $4)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, emb := range rec.FaceEmbeddings {
		if _, err := stmt.ExecContext(ctx, rec.ImageID, i, pgvector.NewVector(emb), len(emb)); err != nil {
			return fmt.Errorf("insert face %d of %s: %w", i, rec.ImageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	rec.UploadedAt = uploadedAt
	return nil
}

// Delete removes a record; face rows go with it via ON DELETE CASCADE.
func (r *ImageRepository) Delete(ctx context.Context, imageID string) error {
	ctx, cancel := r.pool.withTimeout(ctx)
	defer cancel()

	res, err := r.pool.Exec(ctx, "DELETE FROM images WHERE image_id = $1", imageID)
	if err != nil {
		return fmt.Errorf("delete image %s: %w", imageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete image %s: %w", imageID, err)
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}

// queryRecords runs a record query and folds consecutive face rows into records.
// The query must order rows so that all faces of one image are adjacent.
func queryRecords(ctx context.Context, q querier, query string, args ...any) ([]database.ImageRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	var records []database.ImageRecord
	for rows.Next() {
		var rec database.ImageRecord
		var faceIndex int
		var vec pgvector.Vector
		if err := rows.Scan(
			&rec.ImageID, &rec.Event, &rec.Date, &rec.Department, &rec.District,
			&rec.Filename, &rec.ContentType, &rec.UploadedAt, &faceIndex, &vec,
		); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}

		if n := len(records); n > 0 && records[n-1].ImageID == rec.ImageID {
			records[n-1].FaceEmbeddings = append(records[n-1].FaceEmbeddings, vec.Slice())
			continue
		}
		rec.FaceEmbeddings = [][]float32{vec.Slice()}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return records, nil
}
