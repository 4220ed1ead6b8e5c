// Package outbound places calls on behalf of a persona with a briefing and
// objectives the assistant carries into the conversation.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/internal/callstore"
	"github.com/phonehub/phonehub/pkg/callctx"
	"github.com/phonehub/phonehub/pkg/logger"
	"github.com/phonehub/phonehub/pkg/metrics"
	"github.com/phonehub/phonehub/pkg/persona"
	"github.com/phonehub/phonehub/pkg/telephony"
	"github.com/phonehub/phonehub/pkg/validation"
)

var (
	// ErrInvalidRequest wraps every problem with the caller's input.
	ErrInvalidRequest = errors.New("invalid call request")
	// ErrDialFailed is returned when the telephony provider refused the call.
	ErrDialFailed = errors.New("telephony provider rejected the call")
)

// Request starts one outbound call.
type Request struct {
	To         string              `json:"to" binding:"required"`
	From       string              `json:"from"`
	Briefing   string              `json:"briefing"`
	Objectives []callctx.Objective `json:"objectives"`
	PersonaID  string              `json:"persona_id"`
}

// Result is what the caller of the API gets back.
type Result struct {
	CallSID    string              `json:"call_sid"`
	Status     string              `json:"status"`
	PersonaID  string              `json:"persona_id"`
	Objectives []callctx.Objective `json:"objectives"`
}

// Options configures a Service.
type Options struct {
	// BaseURL is the public origin of the webhooks.
	BaseURL    string
	VoicePath  string
	StatusPath string
	// RingTimeout is how long the callee's phone rings, in seconds.
	RingTimeout int
}

// Service is the call initiation service.
type Service struct {
	registry *persona.Registry
	codec    *callctx.Codec
	dialer   telephony.Dialer
	store    callstore.Store
	opts     Options
	logger   *zap.Logger
}

// NewService creates a service. store may be nil.
func NewService(registry *persona.Registry, codec *callctx.Codec, dialer telephony.Dialer, store callstore.Store, opts Options, logger *zap.Logger) *Service {
	if opts.VoicePath == "" {
		opts.VoicePath = "/twilio/voice"
	}
	if opts.StatusPath == "" {
		opts.StatusPath = "/twilio/voice/status"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: registry,
		codec:    codec,
		dialer:   dialer,
		store:    store,
		opts:     opts,
		logger:   logger,
	}
}

// Initiate validates req, encodes the seed context and asks the provider to
// place the call. The first webhook of the call receives the context in its URL.
func (s *Service) Initiate(ctx context.Context, req Request) (*Result, error) {
	to, err := validation.NormalizeE164(req.To)
	if err != nil {
		metrics.RecordOutboundCall("invalid")
		return nil, fmt.Errorf("%w: to: %v", ErrInvalidRequest, err)
	}

	p := s.registry.Default()
	if id := strings.TrimSpace(req.PersonaID); id != "" {
		var ok bool
		if p, ok = s.registry.Lookup(id); !ok {
			metrics.RecordOutboundCall("invalid")
			return nil, fmt.Errorf("%w: unknown persona %q", ErrInvalidRequest, id)
		}
	}

	from := p.RoutingNumber
	if strings.TrimSpace(req.From) != "" {
		if from, err = validation.NormalizeE164(req.From); err != nil {
			metrics.RecordOutboundCall("invalid")
			return nil, fmt.Errorf("%w: from: %v", ErrInvalidRequest, err)
		}
	}

	seed := callctx.CallContext{
		Briefing:   strings.TrimSpace(req.Briefing),
		Objectives: seedObjectives(req.Objectives),
		PersonaID:  p.ID,
		Outbound:   true,
	}
	token, err := s.codec.Encode(seed)
	if err != nil {
		metrics.RecordOutboundCall("invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	// What the call will actually see, after any trimming.
	seed = s.codec.Decode(token)

	log := s.logger.With(
		logger.MaskPhone("to", to),
		zap.String("persona", p.ID),
	)

	call, err := s.dialer.PlaceCall(ctx, telephony.CallRequest{
		To:             to,
		From:           from,
		URL:            s.opts.BaseURL + s.opts.VoicePath + "?data=" + token,
		StatusCallback: s.opts.BaseURL + s.opts.StatusPath,
		Timeout:        s.opts.RingTimeout,
	})
	if err != nil {
		metrics.RecordOutboundCall("failed")
		log.Error("Failed to initiate call", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrDialFailed, err)
	}
	metrics.RecordOutboundCall("placed")

	log.Info("Outbound call initiated",
		zap.String("call_sid", call.SID),
		zap.Int("objectives", len(seed.Objectives)),
		zap.Int("token_bytes", len(token)),
	)

	if s.store != nil {
		err := s.store.Save(ctx, callstore.Record{
			CallSID:    call.SID,
			PersonaID:  p.ID,
			Direction:  "outbound-api",
			From:       from,
			To:         to,
			Status:     call.Status,
			Briefing:   seed.Briefing,
			Objectives: seed.Objectives,
		})
		if err != nil {
			log.Warn("Failed to record outbound call", zap.String("call_sid", call.SID), zap.Error(err))
		}
	}

	return &Result{
		CallSID:    call.SID,
		Status:     call.Status,
		PersonaID:  p.ID,
		Objectives: seed.Objectives,
	}, nil
}

// seedObjectives drops blank tasks and gives every objective an id.
func seedObjectives(in []callctx.Objective) []callctx.Objective {
	out := make([]callctx.Objective, 0, len(in))
	for _, o := range in {
		o.Task = strings.TrimSpace(o.Task)
		if o.Task == "" {
			continue
		}
		if strings.TrimSpace(o.ID) == "" {
			o.ID = uuid.NewString()[:8]
		}
		out = append(out, o)
	}
	return out
}
