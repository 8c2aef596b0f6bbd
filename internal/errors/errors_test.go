package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) { r.reported = append(r.reported, ee) }
func (r *recordingReporter) IsEnabled() bool               { return true }

func TestBuildDefaults(t *testing.T) {
	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.Timestamp.IsZero())
}

func TestBuildInheritsWrappedCategory(t *testing.T) {
	inner := Newf("species %s not found", "abc").Category(CategoryNotFound).Build()
	outer := New(fmt.Errorf("lookup: %w", inner)).Component("datastore").Build()

	assert.Equal(t, CategoryNotFound, outer.Category)
	assert.True(t, IsNotFound(outer))
	assert.True(t, Is(outer, inner))
}

func TestNotFoundHelper(t *testing.T) {
	err := NotFound("datastore", "image", "42")

	require.Error(t, err)
	assert.Equal(t, "image 42 not found", err.Error())
	assert.Equal(t, "42", err.GetContext()["id"])
	assert.Equal(t, CategoryNotFound, CategoryOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, CategoryGeneric, CategoryOf(fmt.Errorf("plain")))
}

func TestPriorityFallback(t *testing.T) {
	assert.Equal(t, PriorityHigh, New(fmt.Errorf("x")).Priority(PriorityHigh).Build().Priority)
	assert.Equal(t, PriorityMedium, New(fmt.Errorf("x")).Priority("urgent").Build().Priority)
	assert.Empty(t, New(fmt.Errorf("x")).Priority("").Build().Priority)
}

func TestTelemetryReporterReceivesErrors(t *testing.T) {
	rec := &recordingReporter{}
	SetTelemetryReporter(rec)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	_ = Newf("database down").Category(CategoryDatabase).Build()
	require.Len(t, rec.reported, 1)
	assert.Equal(t, CategoryDatabase, rec.reported[0].Category)

	SetTelemetryReporter(nil)
	_ = Newf("ignored").Build()
	assert.Len(t, rec.reported, 1)
}

func TestScrubMessageForPrivacy(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"url query", "GET https://api.unsplash.com/search/photos?query=robin&client_id=abc failed",
			"GET https://api.unsplash.com/search/photos?[REDACTED] failed"},
		{"bearer token", "auth header Bearer eyJhbGciOi rejected", "auth header [REDACTED] rejected"},
		{"unsplash client id", "Authorization: Client-ID abc123", "Authorization: [REDACTED]"},
		{"anthropic key", "key sk-ant-api03-xyz invalid", "key [REDACTED] invalid"},
		{"dsn credentials", "connect postgres://aves:secret@db:5432/aves", "connect [REDACTED]db:5432/aves"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, scrubMessageForPrivacy(tt.input))
		})
	}
}
