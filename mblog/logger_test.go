package mblog

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStdLoggerWritesThroughPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := &stdLogger{
		prefix: "test-component",
		debug:  true,
		out:    log.New(&buf, "", 0),
	}

	l.Info("hello")
	require.Equal(t, "test-component [info]: hello\n", buf.String())

	buf.Reset()
	l.Errorf("failed: %d", 42)
	require.Equal(t, "test-component [error]: failed: 42\n", buf.String())
}

func TestStdLoggerSuppressesDebugByDefault(t *testing.T) {
	var buf bytes.Buffer
	l := &stdLogger{
		prefix: "test-component",
		debug:  false,
		out:    log.New(&buf, "", 0),
	}

	l.Debug("should not appear")
	require.Empty(t, buf.String())
}

func TestNopLoggerDiscardsEverything(t *testing.T) {
	l := Nop()
	require.NotPanics(t, func() {
		l.Debug("x")
		l.Info("x")
		l.Warning("x")
		l.Error("x")
	})
}
