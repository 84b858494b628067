package db

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/EdLlewellin/PyroTracker/internal/config"
	"github.com/google/uuid"
)

// Project holds the single project row.
type Project struct {
	ProjectID  string        `json:"project_id"`
	Name       string        `json:"name"`
	GravityMS2 float64       `json:"gravity_ms2"`
	Scale      *ProjectScale `json:"scale"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ProjectScale is the project's active pixel-to-metre scale.
type ProjectScale struct {
	MetersPerPixel float64   `json:"m_per_px"`
	Source         string    `json:"source"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// EnsureProject creates the project row if it does not exist and returns it.
func (db *DB) EnsureProject(name string) (*Project, error) {
	_, err := db.Exec(
		`INSERT OR IGNORE INTO project (id, project_id, name, gravity_ms2) VALUES (1, ?, ?, ?)`,
		uuid.New().String(), name, config.DefaultGravity,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return db.GetProject()
}

// GetProject returns the project row.
func (db *DB) GetProject() (*Project, error) {
	var (
		p         Project
		scale     sql.NullFloat64
		source    sql.NullString
		scaleAt   sql.NullInt64
		createdAt int64
	)
	err := db.QueryRow(`
		SELECT project_id, name, gravity_ms2, scale_m_per_px, scale_source, scale_updated_at, created_at
		FROM project WHERE id = 1
	`).Scan(&p.ProjectID, &p.Name, &p.GravityMS2, &scale, &source, &scaleAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project not initialised")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read project: %w", err)
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	if scale.Valid {
		p.Scale = &ProjectScale{
			MetersPerPixel: scale.Float64,
			Source:         source.String,
			UpdatedAt:      time.Unix(0, scaleAt.Int64),
		}
	}
	return &p, nil
}

// GravityDefault returns the project's default gravitational acceleration
// in m/s².
func (db *DB) GravityDefault() (float64, error) {
	var g float64
	if err := db.QueryRow(`SELECT gravity_ms2 FROM project WHERE id = 1`).Scan(&g); err != nil {
		return 0, fmt.Errorf("failed to read gravity default: %w", err)
	}
	return g, nil
}

// SetGravityDefault changes the project's default g. Existing fit
// settings keep the g they were created with.
func (db *DB) SetGravityDefault(g float64) error {
	if !(g > 0) || math.IsInf(g, 0) {
		return fmt.Errorf("gravity must be positive, got %g", g)
	}
	if _, err := db.Exec(`UPDATE project SET gravity_ms2 = ? WHERE id = 1`, g); err != nil {
		return fmt.Errorf("failed to update gravity default: %w", err)
	}
	return nil
}

// SetProjectScale overwrites the project's active scale.
func (db *DB) SetProjectScale(metersPerPixel float64, source string) error {
	if !(metersPerPixel > 0) || math.IsInf(metersPerPixel, 0) {
		return fmt.Errorf("scale must be positive, got %g", metersPerPixel)
	}
	res, err := db.Exec(
		`UPDATE project SET scale_m_per_px = ?, scale_source = ?, scale_updated_at = ? WHERE id = 1`,
		metersPerPixel, source, db.clock.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to set project scale: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project not initialised")
	}
	dbLogf("project scale set to %.6g m/px (%s)", metersPerPixel, source)
	return nil
}

// ProjectScale returns the active scale, or nil if none has been set.
func (db *DB) ProjectScale() (*ProjectScale, error) {
	p, err := db.GetProject()
	if err != nil {
		return nil, err
	}
	return p.Scale, nil
}
