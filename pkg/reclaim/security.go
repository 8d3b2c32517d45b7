package reclaim

import (
	"context"

	"github.com/trinidad/trinidad/pkg/census"
	"github.com/trinidad/trinidad/pkg/security"
)

// SecurityServiceReclaimer unregisters a named security service that the
// module registered globally
type SecurityServiceReclaimer struct {
	service string
}

// NewSecurityServiceReclaimer creates a reclaimer for the service name
func NewSecurityServiceReclaimer(service string) *SecurityServiceReclaimer {
	return &SecurityServiceReclaimer{service: service}
}

// Name returns the strategy name
func (s *SecurityServiceReclaimer) Name() string {
	return "security-service:" + s.service
}

// Reclaim removes the service when it was loaded by the module. A service
// loaded by an ancestor of the module is never touched, even when forced.
func (s *SecurityServiceReclaimer) Reclaim(_ context.Context, t Target) Outcome {
	name := s.Name()

	svc := security.Get(s.service)
	if svc == nil {
		return skipped(name, "not registered")
	}
	if t.Boundary == nil {
		return skipped(name, "no boundary")
	}
	if census.IsOwnedBy(svc, t.Boundary.Parent(), true) {
		return skipped(name, "registered by an ancestor context "+svc.LoadedBy().String())
	}

	detail := ""
	for _, rt := range t.Runtimes {
		if census.IsLoadedWithin(svc, rt) {
			detail = "loaded by runtime " + rt.String()
			break
		}
	}
	if detail == "" && len(t.Runtimes) == 0 && census.IsLoadedWithin(svc, t.Boundary) {
		detail = "loaded within boundary " + t.Boundary.String()
	}

	forced := false
	if detail == "" {
		if !t.Force {
			return skipped(name, "owned by unrelated context "+svc.LoadedBy().String())
		}
		forced = true
		detail = "forced removal of service loaded by " + svc.LoadedBy().String()
	}

	if !security.RemoveIf(s.service, svc) {
		return skipped(name, "registration changed concurrently")
	}

	out := reclaimed(name, detail)
	out.Forced = forced
	return out
}
