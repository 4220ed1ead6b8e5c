// Package audit records what operators did through the API.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/phonehub/phonehub/pkg/mongo"
)

const collection = "audit_log"

// Action is what an operator did.
type Action string

const (
	ActionPlaceCall   Action = "place_call"
	ActionPrepareCall Action = "prepare_call"
)

// Entry is one audited operator action.
type Entry struct {
	OperatorID   string                 `bson:"operator_id"`
	Role         string                 `bson:"role,omitempty"`
	Action       Action                 `bson:"action"`
	ResourceType string                 `bson:"resource_type"`
	ResourceID   string                 `bson:"resource_id,omitempty"`
	Metadata     map[string]interface{} `bson:"metadata,omitempty"`
	CreatedAt    time.Time              `bson:"created_at"`
}

// Sink stores entries.
type Sink interface {
	Insert(ctx context.Context, e Entry) error
}

// Trail writes entries to a sink and the log. With no sink entries are only
// logged.
type Trail struct {
	sink    Sink
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewTrail(sink Sink, logger *zap.Logger) *Trail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trail{sink: sink, logger: logger, timeout: 5 * time.Second, now: time.Now}
}

// Record stores e. Failures are logged and returned, never fatal to the
// action being audited.
func (t *Trail) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now().UTC()
	}
	t.logger.Info("Audit",
		zap.String("operator", e.OperatorID),
		zap.String("action", string(e.Action)),
		zap.String("resource_type", e.ResourceType),
		zap.String("resource_id", e.ResourceID),
	)
	if t.sink == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.sink.Insert(ctx, e); err != nil {
		t.logger.Error("Failed to log audit event",
			zap.Error(err),
			zap.String("action", string(e.Action)),
			zap.String("resource_type", e.ResourceType),
		)
		return err
	}
	return nil
}

// MongoSink stores entries in the audit_log collection.
type MongoSink struct {
	client *mongo.Client
}

func NewMongoSink(client *mongo.Client) *MongoSink {
	return &MongoSink{client: client}
}

func (s *MongoSink) Insert(ctx context.Context, e Entry) error {
	return s.client.NewQuery(collection).Insert(ctx, e)
}
