package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreLogrus(t *testing.T) {
	level := logrus.GetLevel()
	formatter := logrus.StandardLogger().Formatter
	out := logrus.StandardLogger().Out
	t.Cleanup(func() {
		logrus.SetLevel(level)
		logrus.SetFormatter(formatter)
		logrus.SetOutput(out)
	})
}

func TestSetup(t *testing.T) {
	restoreLogrus(t)

	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
		want    logrus.Level
	}{
		{"defaults", "", "", false, logrus.InfoLevel},
		{"debug json", "debug", "json", false, logrus.DebugLevel},
		{"warn text", "warn", "TEXT", false, logrus.WarnLevel},
		{"bad level", "loud", "", true, 0},
		{"bad format", "info", "xml", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := Setup(tt.level, tt.format, &buf)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logrus.GetLevel())
		})
	}
}

func TestLoggerHelperWritesFields(t *testing.T) {
	restoreLogrus(t)
	var buf bytes.Buffer
	require.NoError(t, Setup("debug", FormatJSON, &buf))

	NewLogger("server", "handleMkdir").
		WithField("session", "abc").
		WithError(errors.New("boom"), "mkdir").
		Warn("Mkdir failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "handleMkdir", entry["function"])
	assert.Equal(t, "server", entry["package"])
	assert.Equal(t, "abc", entry["session"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "mkdir", entry["operation"])
	assert.Equal(t, "warning", entry["level"])
}

func TestFieldsIsACopy(t *testing.T) {
	l := NewLogger("auth", "IssueToken")
	f := l.Fields()
	f["function"] = "changed"
	assert.Equal(t, "IssueToken", l.Fields()["function"])
}

func TestSecureFieldHash(t *testing.T) {
	assert.Equal(t, logrus.Fields{"token_preview": "nil", "token_size": 0}, SecureFieldHash(nil, "token"))
	assert.Equal(t, logrus.Fields{"k_preview": "0102", "k_size": 2}, SecureFieldHash([]byte{1, 2}, "k"))
	assert.Equal(t, logrus.Fields{"k_preview": "01020304...", "k_size": 5}, SecureFieldHash([]byte{1, 2, 3, 4, 5}, "k"))
}

func TestOperationFields(t *testing.T) {
	fields := OperationFields("upload", "ok", logrus.Fields{"bytes": 10})
	assert.Equal(t, logrus.Fields{"operation": "upload", "status": "ok", "bytes": 10}, fields)
}
