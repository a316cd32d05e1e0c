package document

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/backlinemd/backlinemd/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type documentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &documentRepoPG{pool: pool}
}

func (r *documentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const documentCols = `id, patient_id, name, kind, content_type, size_bytes,
	storage_path, status, confidence, extracted, uploaded_at, ingested_at`

func (r *documentRepoPG) scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.PatientID, &d.Name, &d.Kind, &d.ContentType, &d.SizeBytes,
		&d.StoragePath, &d.Status, &d.Confidence, &d.Extracted, &d.UploadedAt, &d.IngestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &d, err
}

func (r *documentRepoPG) Create(ctx context.Context, d *Document) error {
	d.ID = uuid.New()
	if d.Status == "" {
		d.Status = StatusUploaded
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO documents (id, patient_id, name, kind, content_type, size_bytes,
			storage_path, status, confidence, extracted)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		d.ID, d.PatientID, d.Name, d.Kind, d.ContentType, d.SizeBytes,
		d.StoragePath, d.Status, d.Confidence, d.Extracted)
	return err
}

func (r *documentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+documentCols+` FROM documents WHERE id = $1`, id)
	return r.scanDocument(row)
}

func (r *documentRepoPG) Update(ctx context.Context, d *Document) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE documents SET name=$2, kind=$3, status=$4, confidence=$5,
			extracted=$6, ingested_at=$7
		WHERE id = $1`,
		d.ID, d.Name, d.Kind, d.Status, d.Confidence, d.Extracted, d.IngestedAt)
	return err
}

func (r *documentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}

func (r *documentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Document, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+documentCols+` FROM documents WHERE patient_id = $1
		 ORDER BY uploaded_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := r.scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

func (r *documentRepoPG) CountByPatient(ctx context.Context, patientID uuid.UUID) (total, terminal, ingested int, err error) {
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status IN ($2, $3)),
			COUNT(*) FILTER (WHERE status = $2)
		FROM documents WHERE patient_id = $1`,
		patientID, StatusIngested, StatusNotIngested).Scan(&total, &terminal, &ingested)
	return total, terminal, ingested, err
}

func (r *documentRepoPG) ListRecent(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*Document, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+documentCols+` FROM documents
		 WHERE patient_id = $1 AND uploaded_at >= $2
		 ORDER BY uploaded_at DESC`, patientID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := r.scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
