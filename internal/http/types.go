package http

import (
	"github.com/fyrsmithlabs/feltd/internal/entity"
	"github.com/fyrsmithlabs/feltd/internal/family"
	"github.com/fyrsmithlabs/feltd/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Telemetry telemetry.HealthStatus `json:"telemetry"`
}

// FamiliesResponse is the response body for GET /v1/families.
type FamiliesResponse struct {
	Stats    family.Stats    `json:"stats"`
	Families []family.Family `json:"families"`
}

// CouplingResponse is the response body for GET /v1/coupling.
type CouplingResponse struct {
	Matrix    [][]float64 `json:"matrix"`
	Turns     uint64      `json:"turns"`
	Std       float64     `json:"std"`
	Mean      float64     `json:"mean"`
	Saturated bool        `json:"saturated"`
}

// EntityResponse is the response body for GET /v1/users/:user/entities/:key.
type EntityResponse struct {
	Profile     entity.Profile `json:"profile"`
	Familiarity float64        `json:"familiarity"`
	Related     []string       `json:"related,omitempty"`
}
