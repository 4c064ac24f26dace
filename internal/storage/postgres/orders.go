package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/loopos/loopos/internal/workorders"
)

type statusChangeRow struct {
	From workorders.Status `json:"from"`
	To   workorders.Status `json:"to"`
}

type logRow struct {
	ID           string           `json:"id"`
	Timestamp    time.Time        `json:"timestamp"`
	AuthorID     string           `json:"author_id"`
	Comment      string           `json:"comment"`
	StatusChange *statusChangeRow `json:"status_change,omitempty"`
}

type attachmentRow struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Caption    string    `json:"caption,omitempty"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

const orderColumns = `id, title, description, status, priority, plant_id, technician_id, supervisor_id,
	start_date, end_date, activity, assets, attachments_enabled, logs, image_attachments, created_at, updated_at`

func scanOrder(row pgx.Row) (workorders.Order, error) {
	var (
		o       workorders.Order
		logs    []logRow
		attachs []attachmentRow
	)
	if err := row.Scan(&o.ID, &o.Title, &o.Description, &o.Status, &o.Priority, &o.PlantID,
		&o.TechnicianID, &o.SupervisorID, &o.StartDate, &o.EndDate, &o.Activity, &o.Assets,
		&o.AttachmentsEnabled, &logs, &attachs, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return workorders.Order{}, err
	}
	for _, l := range logs {
		entry := workorders.Log{ID: l.ID, Timestamp: l.Timestamp, AuthorID: l.AuthorID, Comment: l.Comment}
		if l.StatusChange != nil {
			entry.StatusChange = &workorders.StatusChange{From: l.StatusChange.From, To: l.StatusChange.To}
		}
		o.Logs = append(o.Logs, entry)
	}
	for _, a := range attachs {
		o.ImageAttachments = append(o.ImageAttachments, workorders.ImageAttachment(a))
	}
	return o, nil
}

func orderArgs(o workorders.Order) []any {
	logs := make([]logRow, 0, len(o.Logs))
	for _, l := range o.Logs {
		row := logRow{ID: l.ID, Timestamp: l.Timestamp, AuthorID: l.AuthorID, Comment: l.Comment}
		if l.StatusChange != nil {
			row.StatusChange = &statusChangeRow{From: l.StatusChange.From, To: l.StatusChange.To}
		}
		logs = append(logs, row)
	}
	attachs := make([]attachmentRow, 0, len(o.ImageAttachments))
	for _, a := range o.ImageAttachments {
		attachs = append(attachs, attachmentRow(a))
	}
	return []any{
		o.ID, o.Title, o.Description, string(o.Status), string(o.Priority), o.PlantID,
		o.TechnicianID, o.SupervisorID, o.StartDate, o.EndDate, o.Activity, nonNil(o.Assets),
		o.AttachmentsEnabled, logs, attachs, o.CreatedAt, o.UpdatedAt,
	}
}

// ListOrders returns every work order.
func (s *Store) ListOrders(ctx context.Context) ([]workorders.Order, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM work_orders ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()
	var out []workorders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetOrder returns one work order.
func (s *Store) GetOrder(ctx context.Context, id string) (workorders.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM work_orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return workorders.Order{}, fmt.Errorf("%w: %s", workorders.ErrNotFound, id)
	}
	if err != nil {
		return workorders.Order{}, fmt.Errorf("postgres: get order: %w", err)
	}
	return o, nil
}

// CreateOrder inserts a work order.
func (s *Store) CreateOrder(ctx context.Context, o workorders.Order) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO work_orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`, orderArgs(o)...)
	if err != nil {
		return fmt.Errorf("postgres: create order: %w", err)
	}
	return nil
}

// UpdateOrder replaces a stored work order.
func (s *Store) UpdateOrder(ctx context.Context, o workorders.Order) error {
	tag, err := s.pool.Exec(ctx, `UPDATE work_orders SET title = $2, description = $3, status = $4,
		priority = $5, plant_id = $6, technician_id = $7, supervisor_id = $8, start_date = $9,
		end_date = $10, activity = $11, assets = $12, attachments_enabled = $13, logs = $14,
		image_attachments = $15, created_at = $16, updated_at = $17
		WHERE id = $1`, orderArgs(o)...)
	if err != nil {
		return fmt.Errorf("postgres: update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", workorders.ErrNotFound, o.ID)
	}
	return nil
}
