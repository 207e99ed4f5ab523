package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/gisrequestflow/internal/app"
	"github.com/Lllllllleong/gisrequestflow/internal/config"
	"github.com/Lllllllleong/gisrequestflow/internal/models"
	"github.com/Lllllllleong/gisrequestflow/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	cfg     *config.Config
	once    sync.Once
	initErr error

	// Runs touch the same records, so one instance never runs two at once.
	runMu sync.Mutex

	errBusy = errors.New("a fulfillment run is already in progress")
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("RunFulfillment", runFulfillment)
	functions.CloudEvent("RunFulfillmentEvent", runFulfillmentEvent)
}

func main() {}

func loadConfig() {
	cfg, initErr = config.Load(config.ResolvePath(""))
	if initErr == nil {
		initErr = cfg.Validate()
	}
}

// run builds the pipeline for one invocation. Clients are not kept between invocations
// because the DuckDB staging tables must not outlive a run.
func run(ctx context.Context, req models.RunRequest) (models.RunReport, error) {
	once.Do(loadConfig)
	if initErr != nil {
		slog.Error("Critical: configuration failed to load", "error", initErr)
		return models.RunReport{}, initErr
	}
	if !runMu.TryLock() {
		return models.RunReport{}, errBusy
	}
	defer runMu.Unlock()

	a, err := app.New(ctx, cfg, app.Options{DryRun: req.DryRun})
	if err != nil {
		slog.Error("Failed to initialize the fulfillment pipeline", "error", err)
		return models.RunReport{}, err
	}
	defer a.Close()

	slog.Info("Fulfillment triggered.", "trigger", req.Trigger, "dryRun", req.DryRun)
	return a.Run(ctx, services.RunOptions{LogFile: "Cloud Logging"})
}

// runFulfillment is the HTTP entry point, e.g. for Cloud Scheduler. The body is an
// optional models.RunRequest.
func runFulfillment(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if req.Trigger == "" {
		req.Trigger = "http"
	}

	report, err := run(r.Context(), req)
	switch {
	case errors.Is(err, errBusy):
		http.Error(w, "Conflict: "+err.Error(), http.StatusConflict)
		return
	case err != nil && report.RunID == "":
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		slog.Error("Failed to write response", "error", err, "runId", report.RunID)
	}
}

// runFulfillmentEvent is the CloudEvent entry point, e.g. a Pub/Sub schedule topic.
func runFulfillmentEvent(ctx context.Context, e cloudevents.Event) error {
	req := models.RunRequest{Trigger: e.Type()}
	report, err := run(ctx, req)
	if errors.Is(err, errBusy) {
		// Not a failure; the event would only be redelivered into the same run.
		slog.Warn("Skipping event, run in progress", "eventId", e.ID())
		return nil
	}
	if err != nil {
		return err
	}
	slog.Info("Event run finished.", "eventId", e.ID(), "runId", report.RunID, "status", report.Status)
	return nil
}
