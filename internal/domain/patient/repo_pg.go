package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, mrn, first_name, last_name, dob, gender, email, phone,
	address_line, city, state, postal_code,
	preconditions, flags, latest_vitals, insurance, profile_image_url,
	status, tasks_count, appointments_count, flagged_count, created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.DOB, &p.Gender, &p.Email, &p.Phone,
		&p.AddressLine, &p.City, &p.State, &p.PostalCode,
		&p.Preconditions, &p.Flags, &p.LatestVitals, &p.Insurance, &p.ProfileImageURL,
		&p.Status, &p.TasksCount, &p.AppointmentsCount, &p.FlaggedCount, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	if p.MRN == "" {
		p.MRN = NewMRN()
	}
	if p.Status == "" {
		p.Status = DefaultStatus
	}
	p.SearchNgrams = Ngrams(p.FirstName + " " + p.LastName)
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (id, mrn, first_name, last_name, dob, gender, email, phone,
			address_line, city, state, postal_code,
			preconditions, flags, latest_vitals, insurance, profile_image_url,
			status, search_ngrams)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.DOB, p.Gender, p.Email, p.Phone,
		p.AddressLine, p.City, p.State, p.PostalCode,
		p.Preconditions, p.Flags, p.LatestVitals, p.Insurance, p.ProfileImageURL,
		p.Status, p.SearchNgrams)
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1`, id)
	return r.scanPatient(row)
}

func (r *patientRepoPG) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE mrn = $1`, mrn)
	return r.scanPatient(row)
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	p.SearchNgrams = Ngrams(p.FirstName + " " + p.LastName)
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET first_name=$2, last_name=$3, dob=$4, gender=$5, email=$6, phone=$7,
			address_line=$8, city=$9, state=$10, postal_code=$11,
			preconditions=$12, flags=$13, latest_vitals=$14, insurance=$15, profile_image_url=$16,
			status=$17, search_ngrams=$18, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.DOB, p.Gender, p.Email, p.Phone,
		p.AddressLine, p.City, p.State, p.PostalCode,
		p.Preconditions, p.Flags, p.LatestVitals, p.Insurance, p.ProfileImageURL,
		p.Status, p.SearchNgrams)
	return err
}

func (r *patientRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	n := 1

	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", n))
		args = append(args, f.Status)
		n++
	}
	if f.Flag != "" {
		where = append(where, fmt.Sprintf("$%d = ANY(flags)", n))
		args = append(args, f.Flag)
		n++
	}
	if f.Query != "" {
		grams := Ngrams(f.Query)
		// Short queries fall back to a prefix match on either name.
		if len(grams) > 0 && len([]rune(strings.TrimSpace(f.Query))) >= 3 {
			where = append(where, fmt.Sprintf("search_ngrams && $%d", n))
			args = append(args, grams)
			n++
		} else {
			where = append(where, fmt.Sprintf("(first_name ILIKE $%d OR last_name ILIKE $%d)", n, n))
			args = append(args, strings.TrimSpace(f.Query)+"%")
			n++
		}
	}

	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patients WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patients WHERE `+cond+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n, n+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *patientRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patients SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustCounter bumps one of the denormalized counters in place so that
// concurrent task or appointment writes never lose increments.
func (r *patientRepoPG) AdjustCounter(ctx context.Context, id uuid.UUID, field CounterField, delta int) error {
	switch field {
	case CounterTasks, CounterAppointments, CounterFlagged:
	default:
		return fmt.Errorf("unknown counter field: %s", field)
	}
	_, err := r.conn(ctx).Exec(ctx, fmt.Sprintf(
		`UPDATE patients SET %s = GREATEST(%s + $2, 0), updated_at = NOW() WHERE id = $1`,
		field, field), id, delta)
	return err
}

func (r *patientRepoPG) Count(ctx context.Context) (int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&total)
	return total, err
}

func (r *patientRepoPG) AddNote(ctx context.Context, note *Note) error {
	note.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_notes (id, patient_id, content, author)
		VALUES ($1,$2,$3,$4)`,
		note.ID, note.PatientID, note.Content, note.Author)
	return err
}

func (r *patientRepoPG) ListNotes(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Note, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patient_notes WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, content, author, created_at
		FROM patient_notes WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.PatientID, &n.Content, &n.Author, &n.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &n)
	}
	return out, total, rows.Err()
}
