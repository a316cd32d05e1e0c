package claim

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

type claimRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &claimRepoPG{pool: pool}
}

func (r *claimRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const claimCols = `id, display_id, patient_id, provider, amount_cents, status,
	procedure_code, diagnosis_code, service_date, submitted_date, description,
	last_event_at, created_at, updated_at`

func (r *claimRepoPG) scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.DisplayID, &c.PatientID, &c.Provider, &c.AmountCents, &c.Status,
		&c.ProcedureCode, &c.DiagnosisCode, &c.ServiceDate, &c.SubmittedDate, &c.Description,
		&c.LastEventAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.AmountDisplay = FormatAmount(c.AmountCents)
	return &c, nil
}

func (r *claimRepoPG) Create(ctx context.Context, c *Claim) error {
	c.ID = uuid.New()
	if c.Status == "" {
		c.Status = StatusPending
	}
	if c.LastEventAt.IsZero() {
		c.LastEventAt = time.Now().UTC()
	}
	if c.SubmittedDate == "" {
		c.SubmittedDate = c.LastEventAt.Format("2006-01-02")
	}

	var seq int64
	if err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('claim_display_seq')`).Scan(&seq); err != nil {
		return fmt.Errorf("claim sequence: %w", err)
	}
	c.DisplayID = FormatDisplayID(seq)

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claims (id, display_id, patient_id, provider, amount_cents, status,
			procedure_code, diagnosis_code, service_date, submitted_date, description, last_event_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		c.ID, c.DisplayID, c.PatientID, c.Provider, c.AmountCents, c.Status,
		c.ProcedureCode, c.DiagnosisCode, c.ServiceDate, c.SubmittedDate, c.Description, c.LastEventAt)
	if err != nil {
		return err
	}
	c.AmountDisplay = FormatAmount(c.AmountCents)
	return nil
}

func (r *claimRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+claimCols+` FROM claims WHERE id = $1`, id)
	return r.scanClaim(row)
}

func (r *claimRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string, eventAt time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE claims SET status = $2, last_event_at = $3, updated_at = NOW() WHERE id = $1`,
		id, status, eventAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *claimRepoPG) List(ctx context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*Claim, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	n := 1

	if patientID != uuid.Nil {
		where = append(where, fmt.Sprintf("patient_id = $%d", n))
		args = append(args, patientID)
		n++
	}
	if status != "" {
		where = append(where, fmt.Sprintf("status = $%d", n))
		args = append(args, status)
		n++
	}

	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM claims WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+claimCols+` FROM claims WHERE `+cond+
			fmt.Sprintf(` ORDER BY last_event_at DESC LIMIT $%d OFFSET $%d`, n, n+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Claim
	for rows.Next() {
		c, err := r.scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *claimRepoPG) CountByStatus(ctx context.Context, statuses ...string) (int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM claims WHERE status = ANY($1)`, statuses).Scan(&total)
	return total, err
}

func (r *claimRepoPG) AppendEvent(ctx context.Context, e *Event) error {
	e.ID = uuid.New()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claim_events (id, claim_id, status, note, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		e.ID, e.ClaimID, e.Status, e.Note, e.CreatedAt)
	return err
}

func (r *claimRepoPG) ListEvents(ctx context.Context, claimID uuid.UUID) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, status, note, created_at
		FROM claim_events WHERE claim_id = $1 ORDER BY created_at`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.ClaimID, &e.Status, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
