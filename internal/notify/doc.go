// Package notify delivers committed values to subscribers and failures to
// error handlers. Both registries isolate callback panics so that one bad
// callback never prevents its siblings from running.
package notify
