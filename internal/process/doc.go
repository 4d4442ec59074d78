// Package process supervises the lanwake controller as a child process.
//
// `lanwake supervise` re-executes its own binary with the `run` command
// under a Manager. The child is restarted whenever it exits with a
// failure. Consecutive failures back off exponentially from RestartDelay
// up to MaxRestartDelay, and a run that lasts StableThreshold starts a
// new series. The controller exits with RequestedRestartCode when a task
// fails fatally; that exit restarts at the base delay without counting as
// a failure. A clean exit ends supervision.
//
//	mgr := process.NewManager(process.Config{
//	    Name:                 "lanwake",
//	    Binary:               self,
//	    Args:                 []string{"run"},
//	    Stdout:               os.Stdout,
//	    Stderr:               os.Stderr,
//	    RestartOnFailure:     true,
//	    RequestedRestartCode: 3,
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	<-mgr.Done()
package process
