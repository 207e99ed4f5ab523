package models

import "context"

// AreaOfInterest is the geometry a requester drew on the survey form, as WKT.
type AreaOfInterest struct {
	RequestID string
	WKT       string
}

// Selection is an area of interest staged in the spatial store so that queries can
// join against it. Release must be called once the request is done, whatever the outcome.
type Selection interface {
	RequestID() string
	Release(ctx context.Context) error
}
