package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/loopos/loopos/internal/plants"
)

type subPlantRow struct {
	ID            int `json:"id"`
	InverterCount int `json:"inverter_count"`
}

const plantColumns = `id, client, name, string_count, tracker_count, sub_plants, assets`

func scanPlant(row pgx.Row) (plants.Plant, error) {
	var (
		p    plants.Plant
		subs []subPlantRow
	)
	if err := row.Scan(&p.ID, &p.Client, &p.Name, &p.StringCount, &p.TrackerCount, &subs, &p.Assets); err != nil {
		return plants.Plant{}, err
	}
	for _, sp := range subs {
		p.SubPlants = append(p.SubPlants, plants.SubPlant(sp))
	}
	return p, nil
}

func subPlantRows(p plants.Plant) []subPlantRow {
	out := make([]subPlantRow, 0, len(p.SubPlants))
	for _, sp := range p.SubPlants {
		out = append(out, subPlantRow(sp))
	}
	return out
}

// ListPlants returns every plant ordered by client and name.
func (s *Store) ListPlants(ctx context.Context) ([]plants.Plant, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+plantColumns+` FROM plants ORDER BY client, name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list plants: %w", err)
	}
	defer rows.Close()
	var out []plants.Plant
	for rows.Next() {
		p, err := scanPlant(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan plant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPlant returns one plant.
func (s *Store) GetPlant(ctx context.Context, id string) (plants.Plant, error) {
	p, err := scanPlant(s.pool.QueryRow(ctx, `SELECT `+plantColumns+` FROM plants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return plants.Plant{}, fmt.Errorf("%w: %s", plants.ErrNotFound, id)
	}
	if err != nil {
		return plants.Plant{}, fmt.Errorf("postgres: get plant: %w", err)
	}
	return p, nil
}

// CreatePlant inserts a plant.
func (s *Store) CreatePlant(ctx context.Context, p plants.Plant) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO plants (`+plantColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Client, p.Name, p.StringCount, p.TrackerCount, subPlantRows(p), nonNil(p.Assets))
	if err != nil {
		return fmt.Errorf("postgres: create plant: %w", err)
	}
	return nil
}

// UpdatePlant replaces a stored plant.
func (s *Store) UpdatePlant(ctx context.Context, p plants.Plant) error {
	tag, err := s.pool.Exec(ctx, `UPDATE plants SET client = $2, name = $3, string_count = $4,
		tracker_count = $5, sub_plants = $6, assets = $7 WHERE id = $1`,
		p.ID, p.Client, p.Name, p.StringCount, p.TrackerCount, subPlantRows(p), nonNil(p.Assets))
	if err != nil {
		return fmt.Errorf("postgres: update plant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", plants.ErrNotFound, p.ID)
	}
	return nil
}

// DeletePlant removes a plant record.
func (s *Store) DeletePlant(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM plants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete plant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", plants.ErrNotFound, id)
	}
	return nil
}
