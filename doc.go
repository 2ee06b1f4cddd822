// Package dt is the core execution engine of a storage exerciser. It
// drives concurrent, long-running read/write/verify workloads against
// files and raw block devices, detecting data corruption, transient
// device errors, and hung operations.
//
// dt is designed as a library, not a service. Import it, build device
// templates, and hand them to a supervisor that spawns jobs of worker
// threads.
//
// # Quick Start
//
//	sup := supervisor.New(dt.DefaultConfig(),
//	    supervisor.WithLogger(logger),
//	)
//	sup.Start()
//	defer sup.Shutdown(context.Background())
//
//	id, err := sup.Initiate(ctx, supervisor.JobSpec{
//	    Template: tmpl,
//	    Threads:  4,
//	    Tag:      "sys-disks",
//	})
//	status, err := sup.Wait(ctx, supervisor.ByID(id))
//
// # Architecture
//
// Each job groups N worker threads spawned together. Every worker owns
// one device context (two for copy/mirror workloads) and runs an I/O
// pass loop: write a deterministic pattern, optionally read it back and
// verify, accumulate statistics, honor pause/stop at pass boundaries.
// A single watchdog thread polls all registered jobs for keepalive
// reporting, no-progress detection, runtime expiry, and stuck-thread
// cancellation. Transient device-command failures are retried under a
// bounded, classification-driven policy.
//
// This package holds the shared vocabulary (status codes, sentinel
// errors, engine configuration) imported by all subsystem packages.
package dt
