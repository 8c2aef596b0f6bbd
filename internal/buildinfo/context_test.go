package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextAccessors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		ctx        *Context
		wantVer    string
		wantDate   string
		wantCommit string
	}{
		{"nil context", nil, UnknownValue, UnknownValue, UnknownValue},
		{"empty values", NewContext("", "", ""), UnknownValue, UnknownValue, UnknownValue},
		{"full", NewContext("1.2.0", "2026-01-02", "abc123"), "1.2.0", "2026-01-02", "abc123"},
		{"long commit is shortened", NewContext("1.2.0-rc.1", "", "0123456789abcdef"), "1.2.0-rc.1", UnknownValue, "0123456789ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantVer, tt.ctx.GetVersion())
			assert.Equal(t, tt.wantDate, tt.ctx.GetBuildDate())
			assert.Equal(t, tt.wantCommit, tt.ctx.GetCommit())
		})
	}
}

func TestContextString(t *testing.T) {
	t.Parallel()

	s := NewContext("1.0.0", "2026-01-02", "abc").String()
	assert.Contains(t, s, "1.0.0")
	assert.Contains(t, s, "commit abc")
	assert.Contains(t, s, GoVersion())
}
