package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/gisrequestflow/internal/config"
	"github.com/Lllllllleong/gisrequestflow/internal/gcp"
	"github.com/Lllllllleong/gisrequestflow/internal/ledger"
	"github.com/Lllllllleong/gisrequestflow/internal/models"
	"github.com/Lllllllleong/gisrequestflow/internal/notify"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

const (
	DocumentsDir = "As-Builts"
	ManifestName = "Index.csv"
	stageDocs    = "documents"
)

// DocumentEngineConfig holds what the document engine reads from the settings document.
type DocumentEngineConfig struct {
	Documents config.DocumentsConfig
	Requests  config.RequestsConfig
	Sender    string
}

// DocumentEngine copies the record documents of the plan areas under a request's area
// of interest and writes their index.
type DocumentEngine struct {
	features FeatureStore
	store    RecordStore
	mailer   notify.Mailer
	config   DocumentEngineConfig
	now      func() time.Time
}

// DocumentJob is one request's document sub-output.
type DocumentJob struct {
	Record          models.RequestRecord
	Selection       models.Selection
	Folder          Folder
	Link            string
	LayersRequested bool
	LayersDelivered bool
	Ledger          *ledger.Ledger
}

// DocumentOutcome reports what the engine delivered.
type DocumentOutcome struct {
	Completed bool
	Dir       string
	Found     int
	Missing   int
	Rows      []models.ManifestRow
}

func NewDocumentEngine(features FeatureStore, store RecordStore, mailer notify.Mailer, cfg DocumentEngineConfig) *DocumentEngine {
	return &DocumentEngine{features: features, store: store, mailer: mailer, config: cfg, now: time.Now}
}

// Fulfill runs the document sub-output. Recoverable problems go to the job's ledger and
// leave Completed false; the returned error is reserved for store failures that must
// stop the run.
func (e *DocumentEngine) Fulfill(ctx context.Context, job DocumentJob) (DocumentOutcome, error) {
	rec := job.Record
	logCtx := slog.With("requestId", rec.ID, "stage", stageDocs, "folder", job.Folder.Name)
	logCtx.Info("Starting document fulfillment.")

	var out DocumentOutcome
	sourceRoot, err := e.sourceRoot()
	if err != nil {
		logCtx.Error("Document source is misconfigured; skipping documents.", "error", err)
		job.Ledger.Record(rec.ID, stageDocs, err)
		return out, nil
	}

	areas, err := e.features.PlanAreasIntersecting(ctx, job.Selection)
	if err != nil {
		logCtx.Error("Failed to select plan areas.", "error", err)
		job.Ledger.Record(rec.ID, stageDocs, err)
		return out, nil
	}
	areas = selectPlanAreas(areas, rec)
	logCtx.Info("Plan areas selected.", "count", len(areas), "utilities", rec.UtilityList())

	out.Dir = filepath.Join(job.Folder.Path, DocumentsDir)
	if err := os.MkdirAll(out.Dir, 0o755); err != nil {
		job.Ledger.Record(rec.ID, stageDocs, fmt.Errorf("create %s: %w", out.Dir, err))
		return out, nil
	}

	for _, area := range areas {
		row := models.ManifestRow{ID: area.ID, Status: models.ManifestNotFound, Attributes: area.Attributes}
		name := area.DocumentName()
		dst := filepath.Join(out.Dir, name)
		err := copyFile(filepath.Join(sourceRoot, name), dst)
		switch {
		case err == nil:
			row.Status = models.ManifestIncluded
			row.Pages = pageCount(logCtx, dst)
			out.Found++
		case errors.Is(err, os.ErrNotExist):
			logCtx.Warn("Document not found at source.", "document", name)
			out.Missing++
		default:
			logCtx.Error("Failed to copy document.", "document", name, "error", err)
			job.Ledger.Record(rec.ID, stageDocs, err)
			out.Missing++
		}
		out.Rows = append(out.Rows, row)
	}

	if err := writeManifest(filepath.Join(out.Dir, ManifestName), e.config.Documents.IndexFields, out.Rows); err != nil {
		logCtx.Error("Failed to write manifest.", "error", err)
		job.Ledger.Record(rec.ID, stageDocs, err)
		return out, nil
	}
	logCtx.Info("Documents copied.", "found", out.Found, "missing", out.Missing)

	if err := markFulfilled(ctx, e.store, rec.ID, models.StatusFieldFor(models.OutputDocuments), e.now()); err != nil {
		return out, err
	}
	out.Completed = true

	e.notify(ctx, logCtx, job, out)
	return out, nil
}

func (e *DocumentEngine) sourceRoot() (string, error) {
	root := strings.TrimSpace(e.config.Documents.SourceRoot)
	if root == "" {
		return "", &ConfigError{Setting: "documents.source_root", Err: errors.New("not set")}
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", &ConfigError{Setting: "documents.source_root", Err: err}
	}
	if !info.IsDir() {
		return "", &ConfigError{Setting: "documents.source_root", Err: fmt.Errorf("%s is not a directory", root)}
	}
	return root, nil
}

func (e *DocumentEngine) notify(ctx context.Context, logCtx *slog.Logger, job DocumentJob, out DocumentOutcome) {
	rec := job.Record
	d := notify.DocumentsDelivery{
		From:            e.config.Sender,
		Requester:       rec.Email,
		Folder:          job.Folder.Name,
		Link:            job.Link,
		Found:           out.Found,
		LayersRequested: job.LayersRequested,
		LayersDelivered: job.LayersDelivered,
	}
	var msg notify.Message
	if e.config.Requests.IsApproved(rec.Email) {
		msg = notify.FulfilledMessage(d)
	} else {
		logCtx.Warn("Requester is not approved; routing notification to administrator.", "email", rec.Email)
		msg = notify.UnknownRequesterMessage(d, e.config.Requests.AdminEmail, recordTable(rec))
	}
	if err := e.mailer.Send(ctx, msg); err != nil {
		logCtx.Error("An error occurred while sending the email.", "error", err)
		job.Ledger.Record(rec.ID, "notify", err)
	}
}

// selectPlanAreas applies the utility filter and drops repeated plan area ids.
func selectPlanAreas(areas []models.PlanArea, rec models.RequestRecord) []models.PlanArea {
	seen := make(map[string]bool, len(areas))
	out := make([]models.PlanArea, 0, len(areas))
	for _, a := range areas {
		id := strings.TrimSpace(a.ID)
		if id == "" || seen[id] {
			continue
		}
		if !rec.AllUtilities() && !a.Serves(rec.Utilities) {
			continue
		}
		seen[id] = true
		out = append(out, a)
	}
	return out
}

// pageCount returns 0 for unreadable PDFs; they are still delivered.
func pageCount(logCtx *slog.Logger, path string) int {
	n, err := api.PageCountFile(path)
	if err != nil {
		logCtx.Warn("Copied document is not a readable PDF.", "document", filepath.Base(path), "error", err)
		return 0
	}
	return n
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

func writeManifest(path string, fields []string, rows []models.ManifestRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(models.ManifestHeader(fields)); err != nil {
		_ = f.Close()
		return err
	}
	for _, r := range rows {
		if err := w.Write(r.Record(fields)); err != nil {
			_ = f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	return f.Close()
}

func recordTable(rec models.RequestRecord) notify.Table {
	cols, vals := rec.Summary()
	return notify.Table{Header: cols, Rows: [][]string{vals}}
}

// markFulfilled writes a status field. A field someone else already set is fine; any
// other store failure is returned for the run to stop on.
func markFulfilled(ctx context.Context, store RecordStore, id string, field models.StatusField, at time.Time) error {
	err := store.MarkFulfilled(ctx, id, field, at)
	if errors.Is(err, gcp.ErrAlreadyMarked) {
		slog.Info("Fulfillment field was already set.", "requestId", id, "field", field)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark %s for %s: %w", field, id, err)
	}
	return nil
}
