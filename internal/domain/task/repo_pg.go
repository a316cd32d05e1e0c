package task

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

type taskRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &taskRepoPG{pool: pool}
}

func (r *taskRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const taskCols = `id, display_id, patient_id, patient_name, kind, title, description,
	status, priority, assigned_to, agent_type, dedupe_key,
	due_at, completed_at, created_at, updated_at`

func (r *taskRepoPG) scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.DisplayID, &t.PatientID, &t.PatientName, &t.Kind, &t.Title, &t.Description,
		&t.Status, &t.Priority, &t.AssignedTo, &t.AgentType, &t.DedupeKey,
		&t.DueAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &t, err
}

func (r *taskRepoPG) Create(ctx context.Context, t *Task) (bool, error) {
	t.ID = uuid.New()
	if t.Status == "" {
		t.Status = StatusOpen
	}

	var seq int64
	if err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('task_display_seq')`).Scan(&seq); err != nil {
		return false, fmt.Errorf("task sequence: %w", err)
	}
	t.DisplayID = FormatDisplayID(seq)

	// The partial unique index on dedupe_key covers active tasks only:
	// a finished task does not block the same emission recurring later.
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO tasks (id, display_id, patient_id, patient_name, kind, title, description,
			status, priority, assigned_to, agent_type, dedupe_key, due_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (dedupe_key) WHERE status IN ('open','in_progress') DO NOTHING`,
		t.ID, t.DisplayID, t.PatientID, t.PatientName, t.Kind, t.Title, t.Description,
		t.Status, t.Priority, t.AssignedTo, t.AgentType, t.DedupeKey, t.DueAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *taskRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE id = $1`, id)
	return r.scanTask(row)
}

func (r *taskRepoPG) Update(ctx context.Context, t *Task) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE tasks SET title=$2, description=$3, status=$4, priority=$5,
			assigned_to=$6, agent_type=$7, due_at=$8, completed_at=$9, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.Title, t.Description, t.Status, t.Priority,
		t.AssignedTo, t.AgentType, t.DueAt, t.CompletedAt)
	return err
}

func (r *taskRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	return err
}

func (r *taskRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Task, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	n := 1

	add := func(cond string, val interface{}) {
		where = append(where, fmt.Sprintf(cond, n))
		args = append(args, val)
		n++
	}
	if f.PatientID != uuid.Nil {
		add("patient_id = $%d", f.PatientID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Priority != "" {
		add("priority = $%d", f.Priority)
	}
	if f.Kind != "" {
		add("kind = $%d", f.Kind)
	}
	if f.AssignedTo != "" {
		add("assigned_to = $%d", f.AssignedTo)
	}
	if f.AgentType != "" {
		add("agent_type = $%d", f.AgentType)
	}

	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM tasks WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE `+cond+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n, n+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := r.scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (r *taskRepoPG) CountOpen(ctx context.Context) (int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status IN ($1, $2)`,
		StatusOpen, StatusInProgress).Scan(&total)
	return total, err
}

func (r *taskRepoPG) ListRecent(ctx context.Context, patientID uuid.UUID, since time.Time) ([]*Task, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+taskCols+` FROM tasks
		 WHERE patient_id = $1 AND created_at >= $2
		 ORDER BY created_at DESC`, patientID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := r.scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *taskRepoPG) AddComment(ctx context.Context, c *Comment) error {
	c.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO task_comments (id, task_id, author, content)
		VALUES ($1,$2,$3,$4)`,
		c.ID, c.TaskID, c.Author, c.Content)
	return err
}

func (r *taskRepoPG) ListComments(ctx context.Context, taskID uuid.UUID) ([]*Comment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, task_id, author, content, created_at
		FROM task_comments WHERE task_id = $1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Author, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
