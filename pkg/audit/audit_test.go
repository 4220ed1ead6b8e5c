package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memorySink struct {
	entries []Entry
	err     error
}

func (m *memorySink) Insert(ctx context.Context, e Entry) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("insert without deadline")
	}
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func TestTrail_Record(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		sink    *memorySink
		wantErr bool
		stored  int
	}{
		{name: "stored", sink: &memorySink{}, stored: 1},
		{name: "sink failure", sink: &memorySink{err: errors.New("down")}, wantErr: true},
		{name: "no sink", sink: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var trail *Trail
			if tt.sink != nil {
				trail = NewTrail(tt.sink, zap.NewNop())
			} else {
				trail = NewTrail(nil, zap.NewNop())
			}
			trail.now = func() time.Time { return fixed }

			err := trail.Record(context.Background(), Entry{
				OperatorID:   "ops@example.com",
				Action:       ActionPlaceCall,
				ResourceType: "call",
				ResourceID:   "CA123",
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.sink != nil {
				require.Len(t, tt.sink.entries, tt.stored)
				assert.Equal(t, fixed, tt.sink.entries[0].CreatedAt)
				assert.Equal(t, ActionPlaceCall, tt.sink.entries[0].Action)
			}
		})
	}
}
