package reclaim

import (
	"strings"

	"go.uber.org/zap"

	"github.com/trinidad/trinidad/pkg/census"
	"github.com/trinidad/trinidad/pkg/loader"
	"github.com/trinidad/trinidad/pkg/managed"
)

// RepairWorkerContexts resets managed runtime timeout workers that still run
// under the dying boundary to the boundary's parent. The workers are shared
// by the process and outlive the module; without the reset they would keep
// the boundary reachable. It returns the number of threads repaired.
func (r *Registry) RepairWorkerContexts(boundary *loader.Context) int {
	if boundary == nil {
		return 0
	}
	parent := boundary.Parent()

	repaired := 0
	for _, th := range census.ThreadsMatching(managed.WorkerThreadPart) {
		if !strings.Contains(th.Name(), managed.WorkerThreadMarker) {
			continue
		}
		if th.CompareAndSetContextLoader(boundary, parent) {
			repaired++
			r.logger.Debug("Reset worker context loader",
				zap.Stringer("thread", th),
				zap.Stringer("boundary", boundary),
				zap.Stringer("parent", parent))
		}
	}

	r.metrics.WorkersRepaired(repaired)
	return repaired
}
