// Package clock provides api.Timer implementations:
//
//   - Real schedules with time.AfterFunc; callbacks run on timer goroutines.
//   - Manual is driven by Advance and runs callbacks synchronously on the
//     caller's goroutine, which makes debounce behavior deterministic in tests.
//   - Loop schedules on a go-eventloop JS adapter; callbacks run on the loop
//     goroutine.
package clock
