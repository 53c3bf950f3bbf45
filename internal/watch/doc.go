// Package watch runs the supervision loop that keeps the streaming pipeline
// alive exactly while the capture device has a signal and the consumer is
// running.
//
// The loop is edge-triggered: the pipeline is started on the transition
// from NO_INPUT to INPUT and stopped on the transition back, so a steady
// state issues no start or stop calls. RunUntilSignal turns SIGINT and
// SIGTERM into a cancellation observed between cycles and then runs the
// teardown on the loop's own goroutine, so a signal can never race a start.
package watch
