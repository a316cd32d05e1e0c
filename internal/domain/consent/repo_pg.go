package consent

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

type consentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &consentRepoPG{pool: pool}
}

func (r *consentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *consentRepoPG) ListTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, description, required, created_at
		FROM form_templates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Required, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *consentRepoPG) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	var t Template
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, description, required, created_at
		FROM form_templates WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Description, &t.Required, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *consentRepoPG) CreateTemplate(ctx context.Context, t *Template) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO form_templates (id, name, description, required)
		VALUES ($1,$2,$3,$4)`,
		t.ID, t.Name, t.Description, t.Required)
	return err
}

// SeedTemplates inserts the default templates, skipping names already
// present so reruns are safe.
func (r *consentRepoPG) SeedTemplates(ctx context.Context) error {
	for _, t := range DefaultTemplates {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO form_templates (id, name, description, required)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (name) DO NOTHING`,
			uuid.New(), t.Name, t.Description, t.Required)
		if err != nil {
			return err
		}
	}
	return nil
}

const formCols = `id, patient_id, template_id, name, status, envelope_id, sent_at, signed_at, created_at`

func (r *consentRepoPG) scanForm(row pgx.Row) (*Form, error) {
	var f Form
	err := row.Scan(&f.ID, &f.PatientID, &f.TemplateID, &f.Name, &f.Status,
		&f.EnvelopeID, &f.SentAt, &f.SignedAt, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &f, err
}

func (r *consentRepoPG) CreateForm(ctx context.Context, f *Form) error {
	f.ID = uuid.New()
	if f.Status == "" {
		f.Status = StatusToDo
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consent_forms (id, patient_id, template_id, name, status, envelope_id, sent_at, signed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		f.ID, f.PatientID, f.TemplateID, f.Name, f.Status, f.EnvelopeID, f.SentAt, f.SignedAt)
	return err
}

func (r *consentRepoPG) GetForm(ctx context.Context, id uuid.UUID) (*Form, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+formCols+` FROM consent_forms WHERE id = $1`, id)
	return r.scanForm(row)
}

func (r *consentRepoPG) UpdateForm(ctx context.Context, f *Form) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent_forms SET status=$2, envelope_id=$3, sent_at=$4, signed_at=$5
		WHERE id = $1`,
		f.ID, f.Status, f.EnvelopeID, f.SentAt, f.SignedAt)
	return err
}

func (r *consentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Form, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+formCols+` FROM consent_forms WHERE patient_id = $1 ORDER BY created_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Form
	for rows.Next() {
		f, err := r.scanForm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *consentRepoPG) CountByPatient(ctx context.Context, patientID uuid.UUID) (total, signed int, err error) {
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = $2)
		FROM consent_forms WHERE patient_id = $1`,
		patientID, StatusSigned).Scan(&total, &signed)
	return total, signed, err
}

func (r *consentRepoPG) ListRecent(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*Form, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+formCols+` FROM consent_forms
		 WHERE patient_id = $1 AND created_at >= $2
		 ORDER BY created_at DESC`, patientID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Form
	for rows.Next() {
		f, err := r.scanForm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
