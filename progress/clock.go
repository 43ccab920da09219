// Package progress implements the progress loop (PL): the single
// progress() tick of spec.md §4.5 that polls completions, walks the
// backoff and queued-retry lists, and streams DATA for pending sends.
// It drives an *endpoint.Endpoint the way
// github.com/m-lab/tcp-info/collector.Run drives a
// github.com/m-lab/tcp-info/saver.Saver: the loop owns no state of its
// own beyond its ticker and read buffers.
package progress

import "golang.org/x/sys/unix"

// NowNanos returns the current CLOCK_MONOTONIC time in nanoseconds,
// used throughout the core for backoff deadlines and the
// available_data_bufs timeout (spec.md §4.4/§4.5). Reaches for
// golang.org/x/sys/unix rather than time.Now since this crosses a
// syscall boundary and must stay monotonic across wall-clock jumps.
func NowNanos() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return ts.Nano()
}
