package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns a logger appender that logs to the underlying `testing.TB`
// object. Writing logs with `tb.Log` correctly associates the log line with a Golang
// "Test*" function, which matters once tests call `t.Parallel()`.
//
// Additionally, this test appender will log in the local/machine timezone.
func NewTestAppender(tb testing.TB) Appender {
	return &testAppender{tb}
}

// Write outputs the log entry to the underlying test object `Log` method.
func (tapp *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	line := formatEntry(entry)
	if len(fields) == 0 {
		tapp.tb.Log(line)
		return nil
	}

	encoded, err := ZapcoreFieldsToJSON(fields)
	if err != nil {
		// Log what we have and return the error.
		tapp.tb.Log(line)
		return err
	}
	tapp.tb.Log(line + "\t" + encoded)
	return nil
}

// Sync is a no-op.
func (tapp *testAppender) Sync() error {
	return nil
}
