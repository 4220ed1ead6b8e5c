package callstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/phonehub/phonehub/pkg/callctx"
)

func TestFields_SkipsEmptyValues(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got := fields(Record{CallSID: "CA1", Status: "completed", Duration: "61"}, now)

	assert.Equal(t, map[string]interface{}{
		"updated_at": now,
		"status":     "completed",
		"duration":   "61",
	}, got)
}

func TestFields_Objectives(t *testing.T) {
	objectives := []callctx.Objective{{ID: "1", Task: "Confirm pickup"}}
	got := fields(Record{CallSID: "CA1", PersonaID: "school", Objectives: objectives}, time.Now())

	assert.Equal(t, objectives, got["objectives"])
	assert.Equal(t, "school", got["persona_id"])
	assert.NotContains(t, got, "call_sid", "the filter carries the call sid")
}
