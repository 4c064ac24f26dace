package jsonfile

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/loopos/loopos/internal/plants"
	"github.com/loopos/loopos/internal/users"
	"github.com/loopos/loopos/internal/workorders"
)

// ListUsers returns every user ordered by name.
func (s *Store) ListUsers(ctx context.Context) ([]users.User, error) {
	var out []users.User
	err := s.view(ctx, func(st *state) error {
		out = make([]users.User, 0, len(st.users))
		for _, r := range st.users {
			out = append(out, r.user())
		}
		return nil
	})
	slices.SortFunc(out, func(a, b users.User) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return out, err
}

// GetUser returns one user.
func (s *Store) GetUser(ctx context.Context, id string) (users.User, error) {
	var out users.User
	err := s.view(ctx, func(st *state) error {
		i := slices.IndexFunc(st.users, func(r userRecord) bool { return r.ID == id })
		if i < 0 {
			return fmt.Errorf("%w: %s", users.ErrNotFound, id)
		}
		out = st.users[i].user()
		return nil
	})
	return out, err
}

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, u users.User) error {
	return s.update(ctx, func(st *state) error {
		for _, r := range st.users {
			if r.ID == u.ID {
				return fmt.Errorf("jsonfile: user id %s already stored", u.ID)
			}
			if r.Username == u.Username {
				return users.ErrDuplicateUsername
			}
		}
		st.users = append(st.users, fromUser(u))
		return nil
	})
}

// UpdateUser replaces a stored user.
func (s *Store) UpdateUser(ctx context.Context, u users.User) error {
	return s.update(ctx, func(st *state) error {
		idx := -1
		for i, r := range st.users {
			if r.ID == u.ID {
				idx = i
				continue
			}
			if r.Username == u.Username {
				return users.ErrDuplicateUsername
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s", users.ErrNotFound, u.ID)
		}
		st.users[idx] = fromUser(u)
		return nil
	})
}

// DeleteUser removes a user record.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.update(ctx, func(st *state) error {
		n := len(st.users)
		st.users = slices.DeleteFunc(st.users, func(r userRecord) bool { return r.ID == id })
		if len(st.users) == n {
			return fmt.Errorf("%w: %s", users.ErrNotFound, id)
		}
		return nil
	})
}

// ListPlants returns every plant ordered by client and name.
func (s *Store) ListPlants(ctx context.Context) ([]plants.Plant, error) {
	var out []plants.Plant
	err := s.view(ctx, func(st *state) error {
		out = make([]plants.Plant, 0, len(st.plants))
		for _, r := range st.plants {
			out = append(out, r.plant())
		}
		return nil
	})
	slices.SortFunc(out, func(a, b plants.Plant) int {
		if c := strings.Compare(a.Client, b.Client); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, err
}

// GetPlant returns one plant.
func (s *Store) GetPlant(ctx context.Context, id string) (plants.Plant, error) {
	var out plants.Plant
	err := s.view(ctx, func(st *state) error {
		i := slices.IndexFunc(st.plants, func(r plantRecord) bool { return r.ID == id })
		if i < 0 {
			return fmt.Errorf("%w: %s", plants.ErrNotFound, id)
		}
		out = st.plants[i].plant()
		return nil
	})
	return out, err
}

// CreatePlant inserts a plant.
func (s *Store) CreatePlant(ctx context.Context, p plants.Plant) error {
	return s.update(ctx, func(st *state) error {
		if slices.ContainsFunc(st.plants, func(r plantRecord) bool { return r.ID == p.ID }) {
			return fmt.Errorf("jsonfile: plant id %s already stored", p.ID)
		}
		st.plants = append(st.plants, fromPlant(p))
		return nil
	})
}

// UpdatePlant replaces a stored plant.
func (s *Store) UpdatePlant(ctx context.Context, p plants.Plant) error {
	return s.update(ctx, func(st *state) error {
		i := slices.IndexFunc(st.plants, func(r plantRecord) bool { return r.ID == p.ID })
		if i < 0 {
			return fmt.Errorf("%w: %s", plants.ErrNotFound, p.ID)
		}
		st.plants[i] = fromPlant(p)
		return nil
	})
}

// DeletePlant removes a plant record.
func (s *Store) DeletePlant(ctx context.Context, id string) error {
	return s.update(ctx, func(st *state) error {
		n := len(st.plants)
		st.plants = slices.DeleteFunc(st.plants, func(r plantRecord) bool { return r.ID == id })
		if len(st.plants) == n {
			return fmt.Errorf("%w: %s", plants.ErrNotFound, id)
		}
		return nil
	})
}

// ListOrders returns every work order.
func (s *Store) ListOrders(ctx context.Context) ([]workorders.Order, error) {
	var out []workorders.Order
	err := s.view(ctx, func(st *state) error {
		out = make([]workorders.Order, 0, len(st.orders))
		for _, r := range st.orders {
			out = append(out, r.order())
		}
		return nil
	})
	return out, err
}

// GetOrder returns one work order.
func (s *Store) GetOrder(ctx context.Context, id string) (workorders.Order, error) {
	var out workorders.Order
	err := s.view(ctx, func(st *state) error {
		i := slices.IndexFunc(st.orders, func(r orderRecord) bool { return r.ID == id })
		if i < 0 {
			return fmt.Errorf("%w: %s", workorders.ErrNotFound, id)
		}
		out = st.orders[i].order()
		return nil
	})
	return out, err
}

// CreateOrder inserts a work order.
func (s *Store) CreateOrder(ctx context.Context, o workorders.Order) error {
	return s.update(ctx, func(st *state) error {
		if slices.ContainsFunc(st.orders, func(r orderRecord) bool { return r.ID == o.ID }) {
			return fmt.Errorf("jsonfile: order id %s already stored", o.ID)
		}
		st.orders = append(st.orders, fromOrder(o))
		return nil
	})
}

// UpdateOrder replaces a stored work order.
func (s *Store) UpdateOrder(ctx context.Context, o workorders.Order) error {
	return s.update(ctx, func(st *state) error {
		i := slices.IndexFunc(st.orders, func(r orderRecord) bool { return r.ID == o.ID })
		if i < 0 {
			return fmt.Errorf("%w: %s", workorders.ErrNotFound, o.ID)
		}
		st.orders[i] = fromOrder(o)
		return nil
	})
}
