package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const appointmentCols = `id, patient_id, title, kind, provider, status, scheduled_at,
	duration_minutes, location, calendar_event_id, notes, created_at, updated_at`

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.Title, &a.Kind, &a.Provider, &a.Status, &a.ScheduledAt,
		&a.DurationMinutes, &a.Location, &a.CalendarEventID, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (id, patient_id, title, kind, provider, status, scheduled_at,
			duration_minutes, location, calendar_event_id, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.PatientID, a.Title, a.Kind, a.Provider, a.Status, a.ScheduledAt,
		a.DurationMinutes, a.Location, a.CalendarEventID, a.Notes)
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointments WHERE id = $1`, id)
	return r.scanAppointment(row)
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET title=$2, kind=$3, provider=$4, status=$5, scheduled_at=$6,
			duration_minutes=$7, location=$8, calendar_event_id=$9, notes=$10, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Title, a.Kind, a.Provider, a.Status, a.ScheduledAt,
		a.DurationMinutes, a.Location, a.CalendarEventID, a.Notes)
	return err
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	return err
}

func (r *appointmentRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	n := 1

	if f.PatientID != uuid.Nil {
		where = append(where, fmt.Sprintf("patient_id = $%d", n))
		args = append(args, f.PatientID)
		n++
	}
	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", n))
		args = append(args, f.Status)
		n++
	}
	if !f.From.IsZero() {
		where = append(where, fmt.Sprintf("scheduled_at >= $%d", n))
		args = append(args, f.From)
		n++
	}
	if !f.To.IsZero() {
		where = append(where, fmt.Sprintf("scheduled_at < $%d", n))
		args = append(args, f.To)
		n++
	}

	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+appointmentCols+` FROM appointments WHERE `+cond+
			fmt.Sprintf(` ORDER BY scheduled_at LIMIT $%d OFFSET $%d`, n, n+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *appointmentRepoPG) CountBetween(ctx context.Context, from, to time.Time) (int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE scheduled_at >= $1 AND scheduled_at < $2 AND status NOT IN ($3, $4)`,
		from, to, StatusCancelled, StatusNoShow).Scan(&total)
	return total, err
}

func (r *appointmentRepoPG) ListRecent(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+appointmentCols+` FROM appointments
		 WHERE patient_id = $1 AND created_at >= $2
		 ORDER BY created_at DESC`, patientID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
