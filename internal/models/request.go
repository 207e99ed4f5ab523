package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Utility is a utility category a requester can ask for.
type Utility string

const (
	UtilityWater    Utility = "Water"
	UtilitySanitary Utility = "Sanitary"
	UtilityStorm    Utility = "Storm"
	UtilityAll      Utility = "All"
)

// Categories lists the concrete utility categories in catalog order. UtilityAll is a
// wildcard and never a category of its own.
var Categories = []Utility{UtilityWater, UtilitySanitary, UtilityStorm}

// OutputKind is one independently tracked sub-output of a request.
type OutputKind string

const (
	OutputDocuments OutputKind = "documents"
	OutputLayers    OutputKind = "layers"
)

// StatusField names a nullable fulfillment timestamp on a request record.
type StatusField string

const (
	StatusOverall   StatusField = "fulfilled"
	StatusDocuments StatusField = "documents_fulfilled"
	StatusLayers    StatusField = "layers_fulfilled"
)

// StatusFieldFor returns the sub-status field tracking the given output.
func StatusFieldFor(kind OutputKind) StatusField {
	if kind == OutputLayers {
		return StatusLayers
	}
	return StatusDocuments
}

var utilityAliases = map[string]Utility{
	"water":    UtilityWater,
	"sanitary": UtilitySanitary,
	"storm":    UtilityStorm,
	"all":      UtilityAll,
}

var outputAliases = map[string]OutputKind{
	"as_builts": OutputDocuments,
	"as_built":  OutputDocuments,
	"asbuilts":  OutputDocuments,
	"documents": OutputDocuments,
	"gis_files": OutputLayers,
	"gis_file":  OutputLayers,
	"layers":    OutputLayers,
}

// RawRequest is a survey submission exactly as the record store returns it.
type RawRequest struct {
	ID                   string
	Email                string
	FolderName           string
	Utilities            string
	Outputs              string
	CreatedAt            time.Time
	FulfilledAt          *time.Time
	DocumentsFulfilledAt *time.Time
	LayersFulfilledAt    *time.Time
}

// RequestRecord is a validated survey submission.
type RequestRecord struct {
	ID                   string
	Email                string
	FolderName           string
	CreatedAt            time.Time
	FulfilledAt          *time.Time
	DocumentsFulfilledAt *time.Time
	LayersFulfilledAt    *time.Time
	Utilities            []Utility
	Requested            []OutputKind
	Pending              []OutputKind
	// Warnings lists input tokens that were not understood and were dropped.
	Warnings []string
}

// ValidationError reports a malformed record. It never aborts a run.
type ValidationError struct {
	RequestID string
	Problems  []string
}

func (e *ValidationError) Error() string {
	id := e.RequestID
	if id == "" {
		id = "<missing id>"
	}
	return fmt.Sprintf("request %s is malformed: %s", id, strings.Join(e.Problems, "; "))
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ParseRequest validates raw and derives the typed fields. Utilities and outputs are
// case-insensitive comma-separated lists; an empty list is valid and yields an empty set.
func ParseRequest(raw RawRequest) (RequestRecord, error) {
	rec := RequestRecord{
		ID:                   strings.TrimSpace(raw.ID),
		Email:                strings.TrimSpace(raw.Email),
		FolderName:           strings.TrimSpace(raw.FolderName),
		CreatedAt:            raw.CreatedAt,
		FulfilledAt:          raw.FulfilledAt,
		DocumentsFulfilledAt: raw.DocumentsFulfilledAt,
		LayersFulfilledAt:    raw.LayersFulfilledAt,
	}

	var problems []string
	if rec.ID == "" {
		problems = append(problems, "id is empty")
	}
	if rec.Email == "" {
		problems = append(problems, "requester email is empty")
	}
	if len(problems) > 0 {
		return RequestRecord{}, &ValidationError{RequestID: rec.ID, Problems: problems}
	}

	for _, tok := range splitList(raw.Utilities) {
		u, ok := utilityAliases[strings.ToLower(tok)]
		if !ok {
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("unknown utility %q", tok))
			continue
		}
		if !containsUtility(rec.Utilities, u) {
			rec.Utilities = append(rec.Utilities, u)
		}
	}
	for _, tok := range splitList(raw.Outputs) {
		k, ok := outputAliases[strings.ToLower(tok)]
		if !ok {
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("unknown output %q", tok))
			continue
		}
		if !containsOutput(rec.Requested, k) {
			rec.Requested = append(rec.Requested, k)
		}
	}
	sort.Slice(rec.Requested, func(i, j int) bool { return rec.Requested[i] < rec.Requested[j] })

	for _, k := range rec.Requested {
		if rec.subStatus(k) == nil {
			rec.Pending = append(rec.Pending, k)
		}
	}
	return rec, nil
}

func (r RequestRecord) subStatus(kind OutputKind) *time.Time {
	if kind == OutputLayers {
		return r.LayersFulfilledAt
	}
	return r.DocumentsFulfilledAt
}

// Wants reports whether kind is still pending for this run.
func (r RequestRecord) Wants(kind OutputKind) bool {
	return containsOutput(r.Pending, kind)
}

// AllUtilities reports whether the request covers every category, either through the
// wildcard or because no category was selected.
func (r RequestRecord) AllUtilities() bool {
	return len(r.Utilities) == 0 || containsUtility(r.Utilities, UtilityAll)
}

// UtilityList renders the requested utilities for messages.
func (r RequestRecord) UtilityList() string {
	if len(r.Utilities) == 0 {
		return "All"
	}
	parts := make([]string, len(r.Utilities))
	for i, u := range r.Utilities {
		parts[i] = string(u)
	}
	return strings.Join(parts, ", ")
}

// Summary returns the record as column/value pairs for debugging tables.
func (r RequestRecord) Summary() ([]string, []string) {
	cols := []string{"ID", "Email", "Folder", "Utilities", "Requested Outputs", "Pending Outputs", "Created", "Documents Fulfilled", "Layers Fulfilled"}
	vals := []string{
		r.ID,
		r.Email,
		r.FolderName,
		r.UtilityList(),
		joinOutputs(r.Requested),
		joinOutputs(r.Pending),
		formatTime(&r.CreatedAt),
		formatTime(r.DocumentsFulfilledAt),
		formatTime(r.LayersFulfilledAt),
	}
	return cols, vals
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsUtility(list []Utility, u Utility) bool {
	for _, v := range list {
		if v == u {
			return true
		}
	}
	return false
}

func containsOutput(list []OutputKind, k OutputKind) bool {
	for _, v := range list {
		if v == k {
			return true
		}
	}
	return false
}

func joinOutputs(list []OutputKind) string {
	parts := make([]string, len(list))
	for i, k := range list {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}
