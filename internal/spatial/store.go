// Package spatial is the feature store the fulfillment engines query: a DuckDB
// database with the spatial extension reading plan areas and utility layers in place.
package spatial

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/gisrequestflow/internal/config"
	"github.com/Lllllllleong/gisrequestflow/internal/models"
	_ "github.com/duckdb/duckdb-go/v2"
)

// AreaLayerName is the fixed name of the exported area of interest.
const AreaLayerName = "project_area"

const secretName = "fulfillment_backend"

// Store runs spatial queries against DuckDB.
type Store struct {
	db  *sql.DB
	cfg config.SpatialConfig
	seq atomic.Int64
}

// Open starts DuckDB at cfg.DuckDBPath (in memory when empty) and loads the extensions
// the environment needs.
func Open(ctx context.Context, cfg config.SpatialConfig) (*Store, error) {
	db, err := sql.Open("duckdb", cfg.DuckDBPath)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// Staged selections are temp tables, which only exist on the connection that made them.
	db.SetMaxOpenConns(1)

	for _, ext := range extensionsSQL(cfg.Environment) {
		if _, err := db.ExecContext(ctx, ext); err != nil {
			db.Close()
			return nil, fmt.Errorf("extension setup (%s): %w", ext, err)
		}
	}
	slog.Info("DuckDB spatial store ready.", "environment", cfg.Environment, "path", cfg.DuckDBPath)
	return &Store{db: db, cfg: cfg}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Authenticate (re)creates the backend secret. It is idempotent and a no-op for the
// enterprise environment, where layers are read from local or mounted paths.
func (s *Store) Authenticate(ctx context.Context) error {
	if s.cfg.Environment != config.EnvironmentOnline {
		return s.db.PingContext(ctx)
	}
	if _, err := s.db.ExecContext(ctx, secretSQL(secretName, s.cfg.Credentials)); err != nil {
		return fmt.Errorf("create backend secret: %w", err)
	}
	return nil
}

type stagedArea struct {
	store     *Store
	requestID string
	table     string
}

func (a *stagedArea) RequestID() string { return a.requestID }

func (a *stagedArea) Release(ctx context.Context) error {
	if _, err := a.store.db.ExecContext(ctx, dropSQL(a.table)); err != nil {
		return fmt.Errorf("drop staged area %s: %w", a.table, err)
	}
	return nil
}

// Stage loads the area of interest into a temp table that later queries join against.
func (s *Store) Stage(ctx context.Context, aoi models.AreaOfInterest) (models.Selection, error) {
	table := fmt.Sprintf("aoi_%d", s.seq.Add(1))
	if _, err := s.db.ExecContext(ctx, stageSQL(table, aoi.WKT)); err != nil {
		return nil, fmt.Errorf("stage area of interest for %s: %w", aoi.RequestID, err)
	}
	return &stagedArea{store: s, requestID: aoi.RequestID, table: table}, nil
}

func (s *Store) staged(sel models.Selection) (*stagedArea, error) {
	a, ok := sel.(*stagedArea)
	if !ok || a.store != s {
		return nil, fmt.Errorf("selection for %s was not staged by this store", sel.RequestID())
	}
	return a, nil
}

// PlanAreasIntersecting returns the plan areas overlapping the staged area with their
// attributes rendered as text.
func (s *Store) PlanAreasIntersecting(ctx context.Context, sel models.Selection) ([]models.PlanArea, error) {
	a, err := s.staged(sel)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, planAreasSQL(s.cfg.PlanAreas.Path, a.table))
	if err != nil {
		return nil, fmt.Errorf("query plan areas: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []models.PlanArea
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan plan area: %w", err)
		}
		attrs := make(map[string]string, len(cols))
		for i, c := range cols {
			attrs[c] = text(vals[i])
		}
		out = append(out, models.PlanArea{ID: attrs[s.cfg.PlanAreas.IDField], Attributes: attrs})
	}
	return out, rows.Err()
}

// LayerFields lists the columns of the source behind layer.
func (s *Store) LayerFields(ctx context.Context, layer models.LayerDescriptor) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, describeSQL(layer.Path))
	if err != nil {
		return nil, fmt.Errorf("describe layer %s: %w", layer.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var fields []string
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		// DESCRIBE puts column_name first.
		if name := text(vals[0]); name != GeometryColumn {
			fields = append(fields, name)
		}
	}
	return fields, rows.Err()
}

// ExportArea writes the staged area itself into both output formats.
func (s *Store) ExportArea(ctx context.Context, sel models.Selection, gdbDir, shpDir string) error {
	a, err := s.staged(sel)
	if err != nil {
		return err
	}
	return s.exportTable(ctx, a.table, AreaLayerName, gdbDir, shpDir)
}

// ExportLayer clips layer to the staged area, keeps only fields plus geometry, and writes
// the result into both output formats. It returns the number of clipped features.
func (s *Store) ExportLayer(ctx context.Context, sel models.Selection, layer models.LayerDescriptor, fields []string, gdbDir, shpDir string) (int, error) {
	a, err := s.staged(sel)
	if err != nil {
		return 0, err
	}
	table := fmt.Sprintf("clip_%d", s.seq.Add(1))
	if _, err := s.db.ExecContext(ctx, clipSQL(table, layer.Path, a.table, fields)); err != nil {
		return 0, fmt.Errorf("clip %s: %w", layer.Name, err)
	}
	defer func() {
		if _, err := s.db.ExecContext(context.WithoutCancel(ctx), dropSQL(table)); err != nil {
			slog.Warn("failed to drop clip table", "table", table, "error", err)
		}
	}()

	var n int
	if err := s.db.QueryRowContext(ctx, countSQL(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", layer.Name, err)
	}
	if err := s.exportTable(ctx, table, layer.OutputName(), gdbDir, shpDir); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) exportTable(ctx context.Context, table, name, gdbDir, shpDir string) error {
	targets := []struct {
		dest   string
		driver string
	}{
		{filepath.Join(gdbDir, name+".gpkg"), DriverGeoPackage},
		{filepath.Join(shpDir, name+".shp"), DriverShapefile},
	}
	for _, t := range targets {
		if err := os.MkdirAll(filepath.Dir(t.dest), 0o755); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, copySQL(table, t.dest, t.driver, name)); err != nil {
			return fmt.Errorf("export %s as %s: %w", name, t.driver, err)
		}
	}
	return nil
}

// text renders a scanned DuckDB value for manifests and flag checks.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format("2006-01-02 15:04:05")
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
