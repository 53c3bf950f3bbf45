// Package process owns the streaming pipeline child process.
//
// A [Supervisor] runs at most one pipeline at a time:
//   - Start launches the pipeline in its own process group with stdout and
//     stderr joined on one pipe, drained line by line into the log
//   - Stop tears down the recorded process tree depth-first, kills the
//     process group, then sweeps the whole process table for anything whose
//     command line carries a pipeline signature token
//   - The drain goroutine is joined with a bounded timeout so a child that
//     leaked the pipe to a grandchild cannot block shutdown
//
// Process enumeration uses gopsutil; signals go through x/sys/unix.
//
// Example:
//
//	sup, err := process.NewSupervisor(process.Options{
//	    Command:     "python3 ./lib/rk3566/push.py",
//	    SweepTokens: []string{"gst-launch", "push.py"},
//	    Logger:      logging.GetLogger("process"),
//	})
//	if err != nil {
//	    return err
//	}
//	defer sup.Stop()
//	if err := sup.Start(cfg); err != nil {
//	    logger.Error("Pipeline failed to start", "error", err)
//	}
package process
