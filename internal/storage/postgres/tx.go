package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/loopos/loopos/internal/access"
	"github.com/loopos/loopos/internal/assignments"
)

type txRepo struct {
	q pgx.Tx
}

func (t *txRepo) LoadMembers(ctx context.Context) ([]assignments.Member, error) {
	rows, err := t.q.Query(ctx, `SELECT id, role, plant_ids FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load members: %w", err)
	}
	defer rows.Close()
	var out []assignments.Member
	for rows.Next() {
		var (
			m    assignments.Member
			role string
		)
		if err := rows.Scan(&m.ID, &role, &m.PlantIDs); err != nil {
			return nil, fmt.Errorf("postgres: scan member: %w", err)
		}
		m.Role, _ = access.ParseRole(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *txRepo) SaveMembers(ctx context.Context, members []assignments.Member) error {
	if len(members) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range members {
		batch.Queue(`UPDATE users SET plant_ids = $2 WHERE id = $1`, m.ID, nonNil(m.PlantIDs))
	}
	results := t.q.SendBatch(ctx, batch)
	defer results.Close()
	for range members {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: save members: %w", err)
		}
	}
	return nil
}

func (t *txRepo) ListPlantIDs(ctx context.Context) ([]string, error) {
	rows, err := t.q.Query(ctx, `SELECT id FROM plants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list plant ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list plant ids: %w", err)
	}
	return ids, nil
}

func (t *txRepo) LoadAssignment(ctx context.Context, plantID string) (assignments.Assignment, error) {
	var a assignments.Assignment
	err := t.q.QueryRow(ctx, `SELECT coordinator_id, supervisor_ids, technician_ids, assistant_ids
		FROM plant_assignments WHERE plant_id = $1`, plantID).
		Scan(&a.CoordinatorID, &a.SupervisorIDs, &a.TechnicianIDs, &a.AssistantIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return assignments.Assignment{}, nil
	}
	if err != nil {
		return assignments.Assignment{}, fmt.Errorf("postgres: load assignment: %w", err)
	}
	return a, nil
}

func (t *txRepo) SaveAssignment(ctx context.Context, plantID string, a assignments.Assignment) error {
	a = a.Normalize()
	_, err := t.q.Exec(ctx, `INSERT INTO plant_assignments (plant_id, coordinator_id, supervisor_ids, technician_ids, assistant_ids)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (plant_id) DO UPDATE SET coordinator_id = EXCLUDED.coordinator_id,
			supervisor_ids = EXCLUDED.supervisor_ids, technician_ids = EXCLUDED.technician_ids,
			assistant_ids = EXCLUDED.assistant_ids`,
		plantID, a.CoordinatorID, nonNil(a.SupervisorIDs), nonNil(a.TechnicianIDs), nonNil(a.AssistantIDs))
	if err != nil {
		return fmt.Errorf("postgres: save assignment: %w", err)
	}
	return nil
}

func (t *txRepo) DeleteAssignment(ctx context.Context, plantID string) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM plant_assignments WHERE plant_id = $1`, plantID); err != nil {
		return fmt.Errorf("postgres: delete assignment: %w", err)
	}
	return nil
}
