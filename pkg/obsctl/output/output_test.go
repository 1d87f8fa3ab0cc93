package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/observastack/observastack/pkg/auth"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatTable},
		{in: "table", want: FormatTable},
		{in: "json", want: FormatJSON},
		{in: "yaml", want: FormatYAML},
		{in: "wide", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteObject(t *testing.T) {
	user := &auth.SessionUser{ID: "1", Username: "jdoe", Email: "jdoe@example.com", Roles: []string{"admin"}}

	t.Run("json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		require.NoError(t, WriteObject(buf, FormatJSON, user))
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "jdoe", decoded["username"])
		assert.Equal(t, []any{"admin"}, decoded["roles"])
	})

	t.Run("yaml", func(t *testing.T) {
		buf := &bytes.Buffer{}
		require.NoError(t, WriteObject(buf, FormatYAML, user))
		var decoded map[string]any
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "jdoe@example.com", decoded["email"])
	})

	t.Run("table needs a formatter", func(t *testing.T) {
		err := WriteObject(&bytes.Buffer{}, FormatTable, user)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "specific formatter")
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, WriteObject(&bytes.Buffer{}, Format("xml"), user))
	})
}

func TestWriteStatusTable(t *testing.T) {
	buf := &bytes.Buffer{}
	expires := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	WriteStatusTable(buf, Status{AuthMethod: "local", Authenticated: true, Username: "jdoe", Roles: []string{"user", "admin"}, ExpiresAt: expires})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "AUTHENTICATED")
	assert.Contains(t, lines[1], "local")
	assert.Contains(t, lines[1], "true")
	assert.Contains(t, lines[1], "user,admin")
	assert.Contains(t, lines[1], "2026-01-02T03:04:05Z")

	buf.Reset()
	WriteStatusTable(buf, Status{AuthMethod: "federated"})
	assert.Contains(t, buf.String(), "false")
	assert.Contains(t, buf.String(), "-")
}

func TestWriteUserTable(t *testing.T) {
	buf := &bytes.Buffer{}
	WriteUserTable(buf, &auth.SessionUser{ID: "42", Username: "jdoe", FirstName: "Jane", LastName: "Doe", Roles: []string{}})
	out := buf.String()
	assert.Contains(t, out, "USERNAME")
	assert.Contains(t, out, "Jane Doe")
	assert.Contains(t, out, "42")
}
