package log

import (
	"bytes"
	"log"
	"testing"
)

// withTestLoggerOutput redirects the stdlib logger (GoLogger's sink) into
// buf for the duration of the test.
func withTestLoggerOutput(t *testing.T, buf *bytes.Buffer) {
	t.Helper()

	previous := log.Writer()
	log.SetOutput(buf)
	t.Cleanup(func() { log.SetOutput(previous) })
}
