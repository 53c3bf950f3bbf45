// Package probe answers the two questions the supervision loop asks every
// cycle: does the capture device have a usable signal, and is the
// downstream consumer running.
//
// Device state comes from the DV timings query tool (v4l2-ctl by default).
// Its text output is parsed fail-closed: a failure marker, missing fields
// or a command error all mean no signal.
//
// The consumer is found either by scanning the process table for a
// command-line token or, when a unit name is configured, by asking systemd
// whether that unit is active.
package probe
