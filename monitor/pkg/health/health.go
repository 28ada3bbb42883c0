// Package health builds liveness and readiness responses from component health reports.
package health

import (
	"maps"
	"net/http"
	"slices"
	"strings"
)

// Reporter is implemented by components that expose readiness and a per-component health report.
type Reporter interface {
	Name() string
	Ready() error
	HealthReport() map[string]error
}

type ServiceStatus string

const (
	Ready    ServiceStatus = "ready"
	NotReady ServiceStatus = "not_ready"
)

type LivenessStatus string

const (
	Alive LivenessStatus = "alive"
)

type LivenessResponse struct {
	Status LivenessStatus `json:"status"`
}

func NewAliveResponse() LivenessResponse {
	return LivenessResponse{Status: Alive}
}

func (r LivenessResponse) StatusCode() int {
	if r.Status == Alive {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

type ReadinessResponse struct {
	Status   ServiceStatus   `json:"status"`
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth is one reporter's readiness. Report maps each component to its
// error text; healthy components are omitted.
type ServiceHealth struct {
	Name   string            `json:"name"`
	Status ServiceStatus     `json:"status"`
	Error  string            `json:"error,omitempty"`
	Report map[string]string `json:"report,omitempty"`
}

// NewReadinessResponse is ready only when every service is.
func NewReadinessResponse(services []ServiceHealth) ReadinessResponse {
	status := Ready
	for _, svc := range services {
		if svc.Status == NotReady {
			status = NotReady
		}
	}
	return ReadinessResponse{Status: status, Services: services}
}

func (r ReadinessResponse) StatusCode() int {
	if r.Status == Ready {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// NewServiceHealth evaluates reporter. A reporter is not ready when Ready
// fails or any component in its report carries an error.
func NewServiceHealth(reporter Reporter) ServiceHealth {
	svc := ServiceHealth{Name: reporter.Name(), Status: Ready}

	var errs []string
	if err := reporter.Ready(); err != nil {
		errs = append(errs, err.Error())
	}
	for name, err := range reporter.HealthReport() {
		if err == nil {
			continue
		}
		if svc.Report == nil {
			svc.Report = make(map[string]string)
		}
		svc.Report[name] = err.Error()
	}
	if len(svc.Report) > 0 {
		errs = append(errs, "unhealthy: "+strings.Join(slices.Sorted(maps.Keys(svc.Report)), ", "))
	}

	if len(errs) > 0 {
		svc.Status = NotReady
		svc.Error = strings.Join(errs, "; ")
	}
	return svc
}
