package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// FaceRepository provides PostgreSQL-backed face storage. It serves as the
// durable remote tier behind the local store; similarity search runs on the
// pgvector HNSW index.
type FaceRepository struct {
	pool *Pool
}

// NewFaceRepository creates a new PostgreSQL face repository.
func NewFaceRepository(pool *Pool) *FaceRepository {
	return &FaceRepository{pool: pool}
}

const faceColumns = "id, owner_id, photo_reference, face_index, embedding, bbox, det_score, model, dim, created_at"

// SaveFaces stores the faces for a photo, replacing any existing faces, and
// records the photo as processed in the same transaction. An empty slice
// records a photo where detection found nothing.
func (r *FaceRepository) SaveFaces(ctx context.Context, owner, photoRef string, faces []database.StoredFace) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM faces WHERE owner_id = $1 AND photo_reference = $2", owner, photoRef,
	); err != nil {
		return fmt.Errorf("delete existing faces: %w", err)
	}

	for i := range faces {
		face := &faces[i]

		var model sql.NullString
		if face.Model != "" {
			model = sql.NullString{String: face.Model, Valid: true}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO faces (owner_id, photo_reference, face_index, embedding, bbox, det_score, model, dim)
			VALUES ($1, $2, $3, $4::vector, $5, $6, $7, $8)
		`,
			owner,
			photoRef,
			face.FaceIndex,
			pgvector.NewVector(face.Embedding),
			pq.Array(face.BBox),
			face.DetScore,
			model,
			face.Dim,
		); err != nil {
			return fmt.Errorf("insert face %d: %w", face.FaceIndex, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO faces_processed (owner_id, photo_reference, face_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, photo_reference) DO UPDATE SET
			face_count = EXCLUDED.face_count,
			updated_at = NOW()
	`, owner, photoRef, len(faces)); err != nil {
		return fmt.Errorf("mark photo processed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetFaces retrieves all faces for a photo, ordered by face index.
func (r *FaceRepository) GetFaces(ctx context.Context, owner, photoRef string) ([]database.StoredFace, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM faces
		WHERE owner_id = $1 AND photo_reference = $2
		ORDER BY face_index
	`, faceColumns)

	rows, err := r.pool.Query(ctx, query, owner, photoRef)
	if err != nil {
		return nil, fmt.Errorf("query faces: %w", err)
	}
	defer rows.Close()

	return scanFaces(rows)
}

// GetAllFaces retrieves every face stored for an owner.
func (r *FaceRepository) GetAllFaces(ctx context.Context, owner string) ([]database.StoredFace, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM faces
		WHERE owner_id = $1
		ORDER BY id
	`, faceColumns)

	rows, err := r.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("query all faces: %w", err)
	}
	defer rows.Close()

	return scanFaces(rows)
}

// HasFaces checks if at least one face is stored for a photo.
func (r *FaceRepository) HasFaces(ctx context.Context, owner, photoRef string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM faces WHERE owner_id = $1 AND photo_reference = $2)",
		owner, photoRef,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check faces exist: %w", err)
	}
	return exists, nil
}

// IsProcessed checks if face detection has been run for a photo, regardless
// of whether faces were found.
func (r *FaceRepository) IsProcessed(ctx context.Context, owner, photoRef string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM faces_processed WHERE owner_id = $1 AND photo_reference = $2)",
		owner, photoRef,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check photo processed: %w", err)
	}
	return exists, nil
}

// CountFaces returns the total number of faces stored for an owner.
func (r *FaceRepository) CountFaces(ctx context.Context, owner string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM faces WHERE owner_id = $1", owner).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return count, nil
}

// CountPhotos returns the number of distinct processed photos for an owner.
func (r *FaceRepository) CountPhotos(ctx context.Context, owner string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM faces_processed WHERE owner_id = $1", owner).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count processed photos: %w", err)
	}
	return count, nil
}

// ListProcessed returns the processed-photo records for an owner, oldest
// first.
func (r *FaceRepository) ListProcessed(ctx context.Context, owner string) ([]database.ProcessedRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT owner_id, photo_reference, face_count, created_at
		FROM faces_processed
		WHERE owner_id = $1
		ORDER BY created_at, photo_reference
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("query processed photos: %w", err)
	}
	defer rows.Close()

	var records []database.ProcessedRecord
	for rows.Next() {
		var rec database.ProcessedRecord
		if err := rows.Scan(&rec.Owner, &rec.PhotoRef, &rec.FaceCount, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan processed record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processed records: %w", err)
	}
	return records, nil
}

// DeleteFaces removes the faces and the processed record for a photo.
func (r *FaceRepository) DeleteFaces(ctx context.Context, owner, photoRef string) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM faces WHERE owner_id = $1 AND photo_reference = $2", owner, photoRef,
	); err != nil {
		return fmt.Errorf("delete faces: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM faces_processed WHERE owner_id = $1 AND photo_reference = $2", owner, photoRef,
	); err != nil {
		return fmt.Errorf("delete processed record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteOwner removes all data stored for an owner. Returns the number of
// photos removed.
func (r *FaceRepository) DeleteOwner(ctx context.Context, owner string) (int, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM faces WHERE owner_id = $1", owner); err != nil {
		return 0, fmt.Errorf("delete faces: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM faces_processed WHERE owner_id = $1", owner)
	if err != nil {
		return 0, fmt.Errorf("delete processed records: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count removed rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return int(removed), nil
}

// FindSimilarWithDistance finds an owner's faces within maxDistance of the
// query embedding using the pgvector cosine operator, ordered by ascending
// distance. A non-positive limit returns every match.
func (r *FaceRepository) FindSimilarWithDistance(
	ctx context.Context, owner string, embedding []float32, maxDistance float64, limit int,
) ([]database.StoredFace, []float64, error) {
	// ef_search is raised per transaction for better recall.
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, nil, fmt.Errorf("set ef_search: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s, embedding <=> $2::vector AS distance
		FROM faces
		WHERE owner_id = $1 AND embedding <=> $2::vector <= $3
		ORDER BY distance
	`, faceColumns)

	vec := pgvector.NewVector(embedding)
	args := []any{owner, vec, maxDistance}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar faces: %w", err)
	}
	defer rows.Close()

	var faces []database.StoredFace
	var distances []float64
	for rows.Next() {
		face, dist, err := scanFaceWithDistance(rows)
		if err != nil {
			return nil, nil, err
		}
		faces = append(faces, face)
		distances = append(distances, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, distances, nil
}

func scanFaceRow(scanner interface{ Scan(...any) error }, extraDest ...any) (database.StoredFace, error) {
	var face database.StoredFace
	var vec pgvector.Vector
	var bbox pq.Float64Array
	var model sql.NullString

	dest := make([]any, 0, 10+len(extraDest))
	dest = append(dest,
		&face.ID,
		&face.Owner,
		&face.PhotoRef,
		&face.FaceIndex,
		&vec,
		&bbox,
		&face.DetScore,
		&model,
		&face.Dim,
		&face.CreatedAt,
	)
	dest = append(dest, extraDest...)

	if err := scanner.Scan(dest...); err != nil {
		return face, fmt.Errorf("scan face: %w", err)
	}

	face.Embedding = vec.Slice()
	face.BBox = []float64(bbox)
	if model.Valid {
		face.Model = model.String
	}
	return face, nil
}

func scanFaces(rows *sql.Rows) ([]database.StoredFace, error) {
	var faces []database.StoredFace
	for rows.Next() {
		face, err := scanFaceRow(rows)
		if err != nil {
			return nil, err
		}
		faces = append(faces, face)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}

func scanFaceWithDistance(rows *sql.Rows) (database.StoredFace, float64, error) {
	var dist float64
	face, err := scanFaceRow(rows, &dist)
	return face, dist, err
}

// Verify interface compliance.
var _ database.FaceWriter = (*FaceRepository)(nil)
var _ database.SimilarityFinder = (*FaceRepository)(nil)
