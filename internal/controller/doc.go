// Package controller runs the lanwake controller's long-lived tasks and
// owns the connectivity state they share.
//
// The Orchestrator starts one goroutine per task under an errgroup:
//
//	link monitor       feeds link events into Connectivity
//	indicator          toggles the status output at the current blink rate
//	scan coordinator   runs scheduled and requested scanner passes
//	watchdog           fails the controller if the scan task stops feeding it
//	disconnect guard   fails the controller on a stuck bring-up or a long outage
//	heartbeat          checks in with the remote collector (optional)
//
// Shared fields are single-writer: only the link monitor writes the
// connectivity state, only the scan coordinator drains scan requests.
// Readers use atomics and tolerate a value one step stale.
//
// Unrecoverable conditions surface as *FatalError from Run. The process
// exits with ExitFatal and the supervisor restarts it.
package controller
