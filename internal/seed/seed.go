// Package seed bootstraps plants, users and plant assignments from a YAML
// file. Records that already exist are left untouched, so applying the same
// file twice is harmless.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/loopos/loopos/internal/access"
	"github.com/loopos/loopos/internal/assignments"
	"github.com/loopos/loopos/internal/plants"
	"github.com/loopos/loopos/internal/users"
)

// File is the decoded seed document.
type File struct {
	Plants []Plant `yaml:"plants"`
	Users  []User  `yaml:"users"`
}

// Plant is one seeded plant with its optional assignment.
type Plant struct {
	ID           string      `yaml:"id"`
	Client       string      `yaml:"client"`
	Name         string      `yaml:"name"`
	StringCount  int         `yaml:"string_count"`
	TrackerCount int         `yaml:"tracker_count"`
	SubPlants    []SubPlant  `yaml:"sub_plants"`
	Assets       []string    `yaml:"assets"`
	Assignment   *Assignment `yaml:"assignment"`
}

// SubPlant mirrors plants.SubPlant.
type SubPlant struct {
	ID            int `yaml:"id"`
	InverterCount int `yaml:"inverter_count"`
}

// Assignment lists user ids per slot.
type Assignment struct {
	Coordinator string   `yaml:"coordinator"`
	Supervisors []string `yaml:"supervisors"`
	Technicians []string `yaml:"technicians"`
	Assistants  []string `yaml:"assistants"`
}

// User is one seeded account. Role accepts any spelling access.ParseRole does.
type User struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Username   string `yaml:"username"`
	Email      string `yaml:"email"`
	Phone      string `yaml:"phone"`
	Role       string `yaml:"role"`
	CanLogin   bool   `yaml:"can_login"`
	Supervisor string `yaml:"supervisor"`
	Password   string `yaml:"password"`
}

// Parse decodes a seed document, rejecting unknown keys.
func Parse(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("seed: decode: %w", err)
	}
	return f, nil
}

// ParseFile reads and decodes the seed document at path.
func ParseFile(path string) (File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("seed: %w", err)
	}
	defer fh.Close()
	return Parse(fh)
}

// Repository is the storage the loader writes through.
type Repository interface {
	GetUser(ctx context.Context, id string) (users.User, error)
	CreateUser(ctx context.Context, u users.User) error
	GetPlant(ctx context.Context, id string) (plants.Plant, error)
	CreatePlant(ctx context.Context, p plants.Plant) error
}

// Syncer applies plant assignments and the derived memberships.
type Syncer interface {
	ReconcileForPlant(ctx context.Context, plantID string, a assignments.Assignment) (assignments.Result, error)
}

// Summary counts what Apply did.
type Summary struct {
	PlantsCreated int `json:"plants_created"`
	PlantsSkipped int `json:"plants_skipped"`
	UsersCreated  int `json:"users_created"`
	UsersSkipped  int `json:"users_skipped"`
	Assignments   int `json:"assignments"`
	Memberships   int `json:"memberships_changed"`
}

// Loader writes seed documents into storage.
type Loader struct {
	repo   Repository
	sync   Syncer
	logger *slog.Logger
	now    func() time.Time
}

// NewLoader constructs a Loader.
func NewLoader(repo Repository, sync Syncer, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{repo: repo, sync: sync, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Apply creates missing plants and users, then reconciles every listed
// assignment. Assignments are applied even for pre-existing plants.
func (l *Loader) Apply(ctx context.Context, f File) (Summary, error) {
	var sum Summary
	if err := validate(f); err != nil {
		return sum, err
	}

	for _, p := range f.Plants {
		created, err := l.ensurePlant(ctx, p)
		if err != nil {
			return sum, err
		}
		if created {
			sum.PlantsCreated++
		} else {
			sum.PlantsSkipped++
		}
	}
	for _, u := range f.Users {
		created, err := l.ensureUser(ctx, u)
		if err != nil {
			return sum, err
		}
		if created {
			sum.UsersCreated++
		} else {
			sum.UsersSkipped++
		}
	}
	for _, p := range f.Plants {
		if p.Assignment == nil {
			continue
		}
		res, err := l.sync.ReconcileForPlant(ctx, p.ID, assignments.Assignment{
			CoordinatorID: p.Assignment.Coordinator,
			SupervisorIDs: p.Assignment.Supervisors,
			TechnicianIDs: p.Assignment.Technicians,
			AssistantIDs:  p.Assignment.Assistants,
		})
		if err != nil {
			return sum, fmt.Errorf("seed: assign plant %s: %w", p.ID, err)
		}
		sum.Assignments++
		sum.Memberships += len(res.Changed)
	}
	l.logger.Info("seed applied",
		slog.Int("plants_created", sum.PlantsCreated),
		slog.Int("users_created", sum.UsersCreated),
		slog.Int("assignments", sum.Assignments),
	)
	return sum, nil
}

func (l *Loader) ensurePlant(ctx context.Context, p Plant) (bool, error) {
	_, err := l.repo.GetPlant(ctx, p.ID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, plants.ErrNotFound) {
		return false, err
	}
	plant := plants.Plant{
		ID:           p.ID,
		Client:       strings.TrimSpace(p.Client),
		Name:         strings.TrimSpace(p.Name),
		StringCount:  p.StringCount,
		TrackerCount: p.TrackerCount,
		Assets:       p.Assets,
	}
	for _, sp := range p.SubPlants {
		plant.SubPlants = append(plant.SubPlants, plants.SubPlant(sp))
	}
	if err := l.repo.CreatePlant(ctx, plant); err != nil {
		return false, fmt.Errorf("seed: create plant %s: %w", p.ID, err)
	}
	return true, nil
}

func (l *Loader) ensureUser(ctx context.Context, u User) (bool, error) {
	_, err := l.repo.GetUser(ctx, u.ID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, users.ErrNotFound) {
		return false, err
	}
	role, _ := access.ParseRole(u.Role)
	now := l.now()
	user := users.User{
		ID:           u.ID,
		Name:         strings.TrimSpace(u.Name),
		Username:     strings.ToLower(strings.TrimSpace(u.Username)),
		Email:        strings.TrimSpace(u.Email),
		Phone:        strings.TrimSpace(u.Phone),
		Role:         role,
		CanLogin:     u.CanLogin,
		SupervisorID: u.Supervisor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if u.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return false, fmt.Errorf("seed: hash password for %s: %w", u.ID, err)
		}
		user.PasswordHash = string(hash)
	}
	if err := l.repo.CreateUser(ctx, user); err != nil {
		return false, fmt.Errorf("seed: create user %s: %w", u.ID, err)
	}
	return true, nil
}

// validate fills generated ids in place and checks references within the file.
func validate(f File) error {
	var errs []error
	userIDs := make(map[string]bool, len(f.Users))
	for i := range f.Users {
		u := &f.Users[i]
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if userIDs[u.ID] {
			errs = append(errs, fmt.Errorf("user %s listed twice", u.ID))
		}
		userIDs[u.ID] = true
		if strings.TrimSpace(u.Username) == "" || strings.TrimSpace(u.Name) == "" {
			errs = append(errs, fmt.Errorf("user %s: name and username required", u.ID))
		}
		if _, err := access.ParseRole(u.Role); err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", u.ID, err))
		}
	}
	plantIDs := make(map[string]bool, len(f.Plants))
	for i := range f.Plants {
		p := &f.Plants[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if plantIDs[p.ID] {
			errs = append(errs, fmt.Errorf("plant %s listed twice", p.ID))
		}
		plantIDs[p.ID] = true
		if strings.TrimSpace(p.Client) == "" || strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("plant %s: client and name required", p.ID))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("seed: invalid file: %w", errors.Join(errs...))
	}
	return nil
}
