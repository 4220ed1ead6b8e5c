// Package dialog drives a call from greeting to hangup, one webhook at a time.
//
// Every webhook is handled in isolation: the state a turn needs arrives in
// the context token of the request, and the state the next turn needs leaves
// in the callback URL of the returned document.
package dialog

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/pkg/ai"
	"github.com/phonehub/phonehub/pkg/callctx"
	"github.com/phonehub/phonehub/pkg/closure"
	"github.com/phonehub/phonehub/pkg/metrics"
	"github.com/phonehub/phonehub/pkg/otel"
	"github.com/phonehub/phonehub/pkg/persona"
	"github.com/phonehub/phonehub/pkg/voice"
)

// TransferDigit is the keypad digit that asks for a human.
const TransferDigit = "0"

// Generator produces replies. *ai.Manager implements it.
type Generator interface {
	Generate(ctx context.Context, req *ai.DialogRequest) (string, error)
	Fallback(ctx context.Context, req *ai.DialogRequest, failed string) (string, error)
}

// Request is one webhook invocation as the provider described it.
type Request struct {
	CallSID string
	From    string
	To      string
	// Token is the context token from the callback URL, if any.
	Token  string
	Speech string
	Digits string
}

// Config bounds the engine.
type Config struct {
	// GenerationTimeout bounds a single generation attempt.
	GenerationTimeout time.Duration
	// TurnBudget bounds all generation work in one turn. A second attempt
	// is only made if a full GenerationTimeout still fits.
	TurnBudget time.Duration
	// MaxTurns ends the call after this many answered turns. Zero disables it.
	MaxTurns int
	// TransferEnabled honours the transfer digit.
	TransferEnabled bool
	Closure         closure.Policy
}

// Engine is the dialog turn controller.
type Engine struct {
	registry *persona.Registry
	codec    *callctx.Codec
	gen      Generator
	markup   *voice.Generator
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates an engine.
func NewEngine(registry *persona.Registry, codec *callctx.Codec, gen Generator, markup *voice.Generator, cfg Config, logger *zap.Logger) *Engine {
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 6 * time.Second
	}
	if cfg.TurnBudget < cfg.GenerationTimeout {
		cfg.TurnBudget = cfg.GenerationTimeout
	}
	if cfg.Closure.Phrases == nil {
		cfg.Closure = closure.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry: registry,
		codec:    codec,
		gen:      gen,
		markup:   markup,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Greet handles the entry webhook of a call. Calls placed by the hub carry
// a token naming their persona; inbound calls are routed by the dialed number.
func (e *Engine) Greet(ctx context.Context, req Request) (doc *voice.Document) {
	defer e.recoverTo(&doc, req)

	var (
		cc callctx.CallContext
		p  persona.Persona
	)
	if strings.TrimSpace(req.Token) != "" {
		cc = e.codec.Decode(req.Token)
		p = e.registry.ByID(cc.PersonaID)
	} else {
		p = e.registry.Resolve(req.To)
		cc = e.codec.Default()
	}
	cc.PersonaID = p.ID
	otel.Annotate(ctx,
		attribute.String("call.persona", p.ID),
		attribute.Bool("call.outbound", cc.Outbound),
	)

	e.logger.Info("Greeting caller",
		zap.String("call_sid", req.CallSID),
		zap.String("persona", p.ID),
		zap.Bool("outbound", cc.Outbound),
		zap.Int("objectives", len(cc.Pending())),
	)

	return e.render(voice.Outcome{Kind: voice.Greeting, Persona: &p, Context: cc})
}

// Turn handles the callback that follows every listen.
func (e *Engine) Turn(ctx context.Context, req Request) (doc *voice.Document) {
	defer e.recoverTo(&doc, req)

	cc := e.codec.Decode(req.Token)
	p := e.registry.ByID(cc.PersonaID)
	cc.PersonaID = p.ID
	otel.Annotate(ctx,
		attribute.String("call.persona", p.ID),
		attribute.Int("call.turn", cc.Turn),
	)

	log := e.logger.With(
		zap.String("call_sid", req.CallSID),
		zap.String("persona", p.ID),
		zap.Int("turn", cc.Turn),
	)

	if strings.TrimSpace(req.Digits) == TransferDigit && e.cfg.TransferEnabled {
		log.Info("Caller asked for a transfer")
		return e.render(voice.Outcome{Kind: voice.TransferRequested, Persona: &p, Context: cc})
	}

	utterance := strings.TrimSpace(req.Speech)
	if utterance == "" {
		if !cc.Reprompted {
			log.Info("No speech received, reprompting")
			return e.render(voice.Outcome{Kind: voice.Reprompt, Persona: &p, Context: cc.WithReprompt()})
		}
		log.Info("No speech received after reprompt, ending call")
		return e.render(voice.Outcome{Kind: voice.End, Persona: &p, Context: cc})
	}

	reply := e.reply(ctx, log, p, cc, utterance)

	if e.cfg.Closure.ShouldEnd(reply) {
		log.Info("Reply closes the call")
		return e.render(voice.Outcome{Kind: voice.End, Persona: &p, Context: cc, Text: reply})
	}

	next := cc.Advance(utterance, reply, e.codec.HistoryWindow())
	if e.cfg.MaxTurns > 0 && next.Turn >= e.cfg.MaxTurns {
		log.Info("Turn limit reached, ending call", zap.Int("max_turns", e.cfg.MaxTurns))
		return e.render(voice.Outcome{
			Kind:    voice.End,
			Persona: &p,
			Context: next,
			Text:    reply + " " + voice.ClosingLine(next.Outbound),
		})
	}

	return e.render(voice.Outcome{Kind: voice.Continue, Persona: &p, Context: next, Text: reply})
}

// reply generates the assistant line, spending at most one extra attempt on
// another provider, and falls back to a fixed line when nothing works.
func (e *Engine) reply(ctx context.Context, log *zap.Logger, p persona.Persona, cc callctx.CallContext, utterance string) string {
	start := e.now()

	history := make([]ai.Exchange, 0, len(cc.History))
	for _, ex := range cc.History {
		history = append(history, ai.Exchange{Caller: ex.Caller, Assistant: ex.Assistant})
	}
	req := &ai.DialogRequest{
		SystemInstruction: BuildInstruction(p, cc),
		History:           history,
		Utterance:         utterance,
	}

	text, err := e.attempt(ctx, func(ctx context.Context) (string, error) {
		return e.gen.Generate(ctx, req)
	})
	if err != nil {
		var genErr *ai.GenerationError
		failed := ""
		if errors.As(err, &genErr) && genErr.Provider != "none" {
			failed = genErr.Provider
		}

		elapsed := e.now().Sub(start)
		if ctx.Err() == nil && failed != "" && elapsed+e.cfg.GenerationTimeout <= e.cfg.TurnBudget {
			log.Warn("Generation failed, retrying once with the next provider",
				zap.String("failed_provider", failed),
				zap.Duration("elapsed", elapsed),
				zap.Error(err),
			)
			text, err = e.attempt(ctx, func(ctx context.Context) (string, error) {
				return e.gen.Fallback(ctx, req, failed)
			})
		}
	}

	if err != nil {
		kind := string(ai.KindUnknown)
		var genErr *ai.GenerationError
		if errors.As(err, &genErr) {
			kind = string(genErr.Kind)
		}
		metrics.RecordGenerationFallback(kind)
		log.Warn("Using fallback line",
			zap.String("kind", kind),
			zap.Duration("elapsed", e.now().Sub(start)),
			zap.Error(err),
		)
		return FallbackLine
	}

	return text
}

func (e *Engine) attempt(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
	defer cancel()

	text, err := fn(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", &ai.GenerationError{Kind: ai.KindMalformed, Err: errors.New("empty reply")}
	}
	return strings.TrimSpace(text), nil
}

func (e *Engine) render(o voice.Outcome) *voice.Document {
	doc := e.markup.Render(o)
	personaID := ""
	if o.Persona != nil {
		personaID = o.Persona.ID
	}
	outcome := doc.Kind.String()
	if doc.Fallback {
		outcome = "apology"
	}
	metrics.RecordTurn(personaID, outcome)
	return doc
}

// recoverTo turns a panic anywhere in a webhook into the apology document.
func (e *Engine) recoverTo(doc **voice.Document, req Request) {
	if r := recover(); r != nil {
		e.logger.Error("Panic in dialog engine",
			zap.String("call_sid", req.CallSID),
			zap.Any("panic", r),
			zap.Stack("stack"),
		)
		metrics.RecordTurn("", "apology")
		*doc = e.markup.Apology()
	}
}
