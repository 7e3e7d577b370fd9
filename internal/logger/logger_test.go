package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// capture redirects logger output to a buffer and restores state on cleanup.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetVerbose(false)
		SetOutput(os.Stderr)
	})
	return &buf
}

func TestSetVerbose(t *testing.T) {
	capture(t)

	SetVerbose(false)
	assert.False(t, IsVerbose())

	SetVerbose(true)
	assert.True(t, IsVerbose())

	SetVerbose(false)
	assert.False(t, IsVerbose())
}

func TestDebug_VerboseOnly(t *testing.T) {
	buf := capture(t)

	SetVerbose(false)
	Debug("hidden")
	assert.Zero(t, buf.Len())

	SetVerbose(true)
	Debug("kernel start took %dms", 120)
	assert.Equal(t, "[DEBUG] kernel start took 120ms\n", buf.String())
}

func TestInfoAndSection_VerboseOnly(t *testing.T) {
	buf := capture(t)

	SetVerbose(false)
	Info("hidden")
	Section("hidden")
	assert.Zero(t, buf.Len())

	SetVerbose(true)
	Section("Startup")
	Info("callback listening on %d", 8081)
	assert.Equal(t, "\n=== Startup ===\n[INFO] callback listening on 8081\n", buf.String())
}

func TestWarn_AlwaysPrints(t *testing.T) {
	buf := capture(t)

	SetVerbose(false)
	Warn("embedder unavailable, search degrades to lexical")
	assert.Equal(t, "[WARN] embedder unavailable, search degrades to lexical\n", buf.String())
}

func TestConcurrentAccess(t *testing.T) {
	capture(t)

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(n int) {
			SetVerbose(true)
			Debug("concurrent %d", n)
			IsVerbose()
			SetVerbose(false)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
