package models

import (
	"strconv"
	"strings"
)

// ManifestStatus is the inclusion status of one candidate document in Index.csv.
type ManifestStatus string

const (
	ManifestIncluded ManifestStatus = "Included"
	ManifestNotFound ManifestStatus = "Not found"
)

// PlanArea is a record-document footprint returned by the spatial store. Attributes
// holds the descriptive fields carried through to the manifest, keyed by field name.
type PlanArea struct {
	ID         string
	Attributes map[string]string
}

// DocumentName is the expected file name of the plan area's scanned record.
func (p PlanArea) DocumentName() string {
	return strings.TrimSpace(p.ID) + ".pdf"
}

// Serves reports whether the plan area is flagged for at least one of the utilities.
// Flags are truthy when "Yes", "Y", "true" or "1" (any case).
func (p PlanArea) Serves(utilities []Utility) bool {
	for _, u := range utilities {
		if isTruthy(p.Attributes[string(u)]) {
			return true
		}
	}
	return false
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "true", "1":
		return true
	}
	return false
}

// ManifestRow is one line of the requester-facing document index.
type ManifestRow struct {
	ID         string
	Status     ManifestStatus
	Pages      int
	Attributes map[string]string
}

// Record renders the row in the column order ID, Status, Pages, fields...
func (r ManifestRow) Record(fields []string) []string {
	pages := ""
	if r.Pages > 0 {
		pages = strconv.Itoa(r.Pages)
	}
	out := make([]string, 0, len(fields)+3)
	out = append(out, r.ID, string(r.Status), pages)
	for _, f := range fields {
		out = append(out, r.Attributes[f])
	}
	return out
}

// ManifestHeader is the CSV header matching ManifestRow.Record.
func ManifestHeader(fields []string) []string {
	return append([]string{"ID", "Status", "Pages"}, fields...)
}
