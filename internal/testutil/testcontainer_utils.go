// Package testutil starts the backing services used by storage tests. Each
// container is started once per test binary and shared by every test.
package testutil

import (
	"testing"
	"time"
)

// startupTimeout gives container pulls and startup generous time in CI.
const startupTimeout = 3 * time.Minute

// requireStarted skips the calling test when the container could not be
// started, e.g. because no Docker daemon is reachable.
func requireStarted(t *testing.T, name string, err error) {
	t.Helper()
	if err != nil {
		t.Skipf("%s container unavailable: %v", name, err)
	}
}
