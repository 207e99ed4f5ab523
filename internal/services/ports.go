package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Lllllllleong/gisrequestflow/internal/models"
)

// RecordStore is the single source of truth for request state.
type RecordStore interface {
	FetchPending(ctx context.Context) ([]models.RawRequest, error)
	SelectByID(ctx context.Context, id string) (models.AreaOfInterest, error)
	MarkFulfilled(ctx context.Context, id string, field models.StatusField, at time.Time) error
}

// FeatureStore answers the spatial questions the engines ask.
type FeatureStore interface {
	Authenticate(ctx context.Context) error
	Stage(ctx context.Context, aoi models.AreaOfInterest) (models.Selection, error)
	PlanAreasIntersecting(ctx context.Context, sel models.Selection) ([]models.PlanArea, error)
	LayerFields(ctx context.Context, layer models.LayerDescriptor) ([]string, error)
	ExportArea(ctx context.Context, sel models.Selection, gdbDir, shpDir string) error
	ExportLayer(ctx context.Context, sel models.Selection, layer models.LayerDescriptor, fields []string, gdbDir, shpDir string) (int, error)
}

// FolderSyncer mirrors a finished request folder to synced storage.
type FolderSyncer interface {
	Sync(ctx context.Context, localDir, folder string) (int, error)
}

// Handoffer starts downstream processing for a fulfilled request.
type Handoffer interface {
	Trigger(ctx context.Context, payload models.HandoffPayload) (string, error)
}

// ConfigError marks a sub-output that cannot run because of its configuration. It is
// not retried within the run.
type ConfigError struct {
	Setting string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Setting, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
