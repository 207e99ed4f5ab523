package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Lllllllleong/gisrequestflow/internal/ledger"
	"github.com/Lllllllleong/gisrequestflow/internal/models"
)

const (
	LayersDir    = "GIS Files"
	ShapefileDir = "Shapefiles"
	stageLayers  = "layers"
)

// LayerEngine clips the catalog layers a request needs to its area of interest and
// exports them as GeoPackages and Shapefiles.
type LayerEngine struct {
	features FeatureStore
	store    RecordStore
	catalog  *models.Catalog
	resolver FolderResolver
	now      func() time.Time
}

// LayerJob is one request's layer sub-output.
type LayerJob struct {
	Record    models.RequestRecord
	Selection models.Selection
	Folder    Folder
	Ledger    *ledger.Ledger
}

// LayerOutcome reports what the engine exported.
type LayerOutcome struct {
	Completed bool
	Dir       string
	Exported  []string
	Skipped   []string
}

func NewLayerEngine(features FeatureStore, store RecordStore, catalog *models.Catalog) *LayerEngine {
	return &LayerEngine{features: features, store: store, catalog: catalog, now: time.Now}
}

// ContainerName is the name of the per-request layer container.
func ContainerName(folder string) string {
	return "Utilities_" + folder + ".gdb"
}

// Fulfill runs the layer sub-output. A failing layer is skipped and recorded; it does
// not stop the others or the status write. Failures before any layer is attempted leave
// Completed false. The returned error is reserved for store failures that must stop
// the run.
func (e *LayerEngine) Fulfill(ctx context.Context, job LayerJob) (LayerOutcome, error) {
	rec := job.Record
	logCtx := slog.With("requestId", rec.ID, "stage", stageLayers, "folder", job.Folder.Name)
	logCtx.Info("Starting layer extraction.")

	var out LayerOutcome
	fail := func(msg string, err error) (LayerOutcome, error) {
		logCtx.Error(msg, "error", err)
		job.Ledger.Record(rec.ID, stageLayers, fmt.Errorf("%s: %w", msg, err))
		return out, nil
	}

	// The layer stage may run long after the store was opened.
	if err := e.features.Authenticate(ctx); err != nil {
		return fail("failed to authenticate with the spatial backend", err)
	}

	sub, err := e.resolver.Resolve(job.Folder.Path, LayersDir, rec.ID)
	if err != nil {
		return fail("failed to create GIS files folder", err)
	}
	out.Dir = sub.Path
	gdbDir := filepath.Join(sub.Path, ContainerName(job.Folder.Name))
	shpDir := filepath.Join(sub.Path, ShapefileDir)
	for _, d := range []string{gdbDir, shpDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fail("failed to create export folder", err)
		}
	}

	if err := e.features.ExportArea(ctx, job.Selection, gdbDir, shpDir); err != nil {
		return fail("failed to export the project area", err)
	}

	layers := e.catalog.Select(rec.Utilities)
	logCtx.Info("Working layer set selected.", "count", len(layers), "utilities", rec.UtilityList())
	for _, layer := range layers {
		n, err := e.exportLayer(ctx, logCtx, job.Selection, layer, gdbDir, shpDir)
		if err != nil {
			logCtx.Error("Skipping layer.", "layer", layer.Name, "error", err)
			job.Ledger.Recordf(rec.ID, stageLayers, "layer %s skipped: %v", layer.Name, err)
			out.Skipped = append(out.Skipped, layer.Name)
			continue
		}
		logCtx.Info("Layer exported.", "layer", layer.Name, "features", n)
		out.Exported = append(out.Exported, layer.Name)
	}

	if err := markFulfilled(ctx, e.store, rec.ID, models.StatusFieldFor(models.OutputLayers), e.now()); err != nil {
		return out, err
	}
	out.Completed = true
	logCtx.Info("Layer extraction finished.", "exported", len(out.Exported), "skipped", len(out.Skipped))
	return out, nil
}

func (e *LayerEngine) exportLayer(ctx context.Context, logCtx *slog.Logger, sel models.Selection, layer models.LayerDescriptor, gdbDir, shpDir string) (int, error) {
	available, err := e.features.LayerFields(ctx, layer)
	if err != nil {
		return 0, err
	}
	keep, missing := layer.Project(available)
	if len(missing) > 0 {
		logCtx.Warn("Layer is missing configured fields.", "layer", layer.Name, "missing", missing)
	}
	return e.features.ExportLayer(ctx, sel, layer, keep, gdbDir, shpDir)
}
