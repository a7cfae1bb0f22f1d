package orchestrator

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain ensures no goroutines leak out of the run scenarios.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
