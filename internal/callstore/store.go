// Package callstore keeps an audit record of every call the hub places or
// answers. Dialog state is never read back from it.
package callstore

import (
	"context"
	"fmt"
	"time"

	"github.com/phonehub/phonehub/pkg/callctx"
	"github.com/phonehub/phonehub/pkg/mongo"
)

const collection = "calls"

// Record is one call as last reported.
type Record struct {
	CallSID    string              `bson:"call_sid" json:"call_sid"`
	PersonaID  string              `bson:"persona_id,omitempty" json:"persona_id,omitempty"`
	Direction  string              `bson:"direction,omitempty" json:"direction,omitempty"`
	From       string              `bson:"from_number,omitempty" json:"from,omitempty"`
	To         string              `bson:"to_number,omitempty" json:"to,omitempty"`
	Status     string              `bson:"status,omitempty" json:"status,omitempty"`
	Duration   string              `bson:"duration,omitempty" json:"duration,omitempty"`
	Briefing   string              `bson:"briefing,omitempty" json:"briefing,omitempty"`
	Objectives []callctx.Objective `bson:"objectives,omitempty" json:"objectives,omitempty"`
	Summary    string              `bson:"summary,omitempty" json:"summary,omitempty"`
	Priority   string              `bson:"priority,omitempty" json:"priority,omitempty"`
	CreatedAt  time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time           `bson:"updated_at" json:"updated_at"`
}

// Store persists call records.
type Store interface {
	// Save merges the non-empty fields of r into the record for r.CallSID.
	Save(ctx context.Context, r Record) error
	// Get returns the record for sid, or nil if there is none.
	Get(ctx context.Context, sid string) (*Record, error)
}

// MongoStore keeps records in the calls collection.
type MongoStore struct {
	client *mongo.Client
	now    func() time.Time
}

// NewMongoStore creates a store backed by client.
func NewMongoStore(client *mongo.Client) *MongoStore {
	return &MongoStore{client: client, now: time.Now}
}

func (s *MongoStore) Save(ctx context.Context, r Record) error {
	if r.CallSID == "" {
		return fmt.Errorf("call record without call sid")
	}
	now := s.now().UTC()

	err := s.client.NewQuery(collection).
		Eq("call_sid", r.CallSID).
		Upsert(ctx, fields(r, now), map[string]interface{}{"created_at": now})
	if err != nil {
		return fmt.Errorf("failed to save call %s: %w", r.CallSID, err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, sid string) (*Record, error) {
	var r Record
	found, err := s.client.NewQuery(collection).Eq("call_sid", sid).FindOne(ctx, &r)
	if err != nil {
		return nil, fmt.Errorf("failed to load call %s: %w", sid, err)
	}
	if !found {
		return nil, nil
	}
	return &r, nil
}

// fields lists what Save writes: only fields that carry a value, so a late
// status callback does not wipe what the call initiation recorded.
func fields(r Record, now time.Time) map[string]interface{} {
	set := map[string]interface{}{"updated_at": now}
	put := func(key, value string) {
		if value != "" {
			set[key] = value
		}
	}
	put("persona_id", r.PersonaID)
	put("direction", r.Direction)
	put("from_number", r.From)
	put("to_number", r.To)
	put("status", r.Status)
	put("duration", r.Duration)
	put("briefing", r.Briefing)
	put("summary", r.Summary)
	put("priority", r.Priority)
	if len(r.Objectives) > 0 {
		set["objectives"] = r.Objectives
	}
	return set
}
