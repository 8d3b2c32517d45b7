// Package lifecycle drives one module through start and stop.
//
// A Controller establishes the module's isolation Boundary, discovers its
// archives, and listens for the container's stop event to snapshot the
// managed runtimes while they are still reachable. Stop then runs the
// reclaim registry against the snapshot, repairs shared worker threads that
// still carry the boundary, and releases it.
//
// States only move forward:
//
//	Created -> Started -> Stopping -> Stopped
//
// A stopped controller cannot be restarted; create a new one.
//
// # Example
//
//	ctrl, err := lifecycle.New(module, shared,
//	    lifecycle.WithLogger(logger),
//	    lifecycle.WithConfig(cfg))
//	if err != nil {
//	    return err
//	}
//	if err := ctrl.Start(ctx); err != nil {
//	    return err
//	}
//	...
//	module.Stop(ctx)                  // fires the stop event
//	report, err := ctrl.Stop(ctx)     // reclaims leaked resources
package lifecycle
