package resolve

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coral-mesh/idleprof/internal/target"
)

func TestPrintReport(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		var buf bytes.Buffer
		printReport(&buf, Report{
			Pattern: "hdsearch",
			Source:  "docker",
			Target:  &target.Target{Name: "hdsearch-midtier", ID: "abc", PID: 4242, Source: "docker"},
		})
		assert.Contains(t, buf.String(), "Target: hdsearch-midtier")
		assert.Contains(t, buf.String(), "PID:    4242")
	})

	t.Run("not found", func(t *testing.T) {
		var buf bytes.Buffer
		printReport(&buf, Report{
			Pattern:    "hdsearch",
			Source:     "process",
			Candidates: []target.Candidate{{Name: "redis-server", PID: 7}, {Name: "nginx"}},
		})
		assert.Equal(t, "No process candidate matches \"hdsearch\"\nRunning:\n  redis-server (pid 7)\n  nginx\n", buf.String())
	})
}
