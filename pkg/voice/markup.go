// Package voice renders the TwiML documents the telephony provider executes.
package voice

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/pkg/callctx"
	"github.com/phonehub/phonehub/pkg/persona"
)

// Kind selects which document to render.
type Kind int

const (
	Greeting Kind = iota
	Continue
	End
	TransferRequested
	Reprompt
)

func (k Kind) String() string {
	switch k {
	case Greeting:
		return "greeting"
	case Continue:
		return "continue"
	case End:
		return "end"
	case TransferRequested:
		return "transfer"
	case Reprompt:
		return "reprompt"
	default:
		return "unknown"
	}
}

// Action is the one terminal thing a document makes the provider do.
type Action int

const (
	ActionListen Action = iota
	ActionHangup
	ActionTransfer
)

func (a Action) String() string {
	switch a {
	case ActionListen:
		return "listen"
	case ActionTransfer:
		return "transfer"
	default:
		return "hangup"
	}
}

// Spoken lines that do not come from a persona or the generator.
const (
	TransferLine       = "Connecting you now..."
	TransferFailedLine = "Sorry, I couldn't reach anyone. Please try again later."
	TransferHintLine   = "Press 0 at any time to speak directly with someone, or continue speaking with me."
	RepromptLine       = "I didn't catch that. Could you please repeat what you need help with?"
	ListeningLine      = "I'm listening."
	InboundClosing     = "Thank you for calling. Someone will get back to you. Goodbye!"
	OutboundClosing    = "Thank you for your time. Have a great day!"
	NoInputLine        = "I didn't hear anything."
	ApologyLine        = "I apologize, but I'm experiencing technical difficulties. I'll end the call now."
	DialFailedLine     = "Sorry, we cannot complete your call at this time."
)

// apologyXML is served when even the apology cannot be rendered.
const apologyXML = `<?xml version="1.0" encoding="UTF-8"?><Response><Say>` + ApologyLine + `</Say><Hangup/></Response>`

const maxSayRunes = 1200

// Outcome is everything a document depends on.
type Outcome struct {
	Kind    Kind
	Persona *persona.Persona
	// Context is encoded into the callback URL of listening documents.
	Context callctx.CallContext
	// Text is the line to speak for Continue and End.
	Text string
}

// Document is a rendered TwiML response.
type Document struct {
	Kind   Kind
	Action Action
	XML    string
	// Fallback is set when the requested document could not be built and
	// the apology was rendered instead.
	Fallback bool
}

// Options configures a Generator.
type Options struct {
	// BaseURL is the public origin of the webhooks, without trailing slash.
	BaseURL string
	// TurnPath is the path of the turn webhook.
	TurnPath        string
	Voice           string
	TransferNumber  string
	TransferTimeout int
	GatherTimeout   int
	SpeechTimeout   int
}

// Generator renders documents. It is safe for concurrent use.
type Generator struct {
	opts   Options
	codec  *callctx.Codec
	logger *zap.Logger
}

// NewGenerator creates a generator.
func NewGenerator(opts Options, codec *callctx.Codec, logger *zap.Logger) *Generator {
	if opts.TurnPath == "" {
		opts.TurnPath = "/twilio/voice/turn"
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = 30
	}
	if opts.GatherTimeout <= 0 {
		opts.GatherTimeout = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Generator{opts: opts, codec: codec, logger: logger}
}

// CallbackURL is the turn webhook address carrying cc.
func (g *Generator) CallbackURL(cc callctx.CallContext) (string, error) {
	token, err := g.codec.Encode(cc)
	if err != nil {
		return "", err
	}
	return g.opts.BaseURL + g.opts.TurnPath + "?data=" + token, nil
}

// Render builds the document for o. It never fails: any problem building
// the requested document yields the apology-and-hangup document.
func (g *Generator) Render(o Outcome) (doc *Document) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Panic while rendering voice document",
				zap.String("kind", o.Kind.String()),
				zap.Any("panic", r),
			)
			doc = g.Apology()
		}
	}()

	if o.Persona == nil {
		g.logger.Error("Voice document requested without persona", zap.String("kind", o.Kind.String()))
		return g.Apology()
	}

	var (
		verbs  []twiml.Element
		action Action
		err    error
	)
	switch o.Kind {
	case Greeting:
		verbs, err = g.greeting(o)
		action = ActionListen
	case Continue:
		verbs, err = g.continuation(o)
		action = ActionListen
	case Reprompt:
		verbs, err = g.reprompt(o)
		action = ActionListen
	case End:
		verbs = g.end(o)
		action = ActionHangup
	case TransferRequested:
		verbs, err = g.transfer(o)
		action = ActionTransfer
	default:
		err = fmt.Errorf("unknown outcome kind %d", o.Kind)
	}
	if err != nil {
		g.logger.Error("Failed to build voice document",
			zap.String("kind", o.Kind.String()),
			zap.Error(err),
		)
		return g.Apology()
	}

	xml, err := twiml.Voice(verbs)
	if err != nil {
		g.logger.Error("Failed to serialize voice document", zap.Error(err))
		return g.Apology()
	}
	return &Document{Kind: o.Kind, Action: action, XML: xml}
}

// Apology is the generic technical-difficulties document.
func (g *Generator) Apology() *Document {
	xml, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: ApologyLine, Voice: g.opts.Voice},
		&twiml.VoiceHangup{},
	})
	if err != nil {
		xml = apologyXML
	}
	return &Document{Kind: End, Action: ActionHangup, XML: xml, Fallback: true}
}

// DialOut connects a browser or app leg to the number to, presenting
// callerID. A missing number yields a spoken failure and a hangup.
func (g *Generator) DialOut(to, callerID string) *Document {
	var verbs []twiml.Element
	action := ActionTransfer
	if strings.TrimSpace(to) == "" {
		verbs = []twiml.Element{g.say(DialFailedLine, g.opts.Voice), &twiml.VoiceHangup{}}
		action = ActionHangup
	} else {
		verbs = []twiml.Element{&twiml.VoiceDial{
			CallerId:      callerID,
			InnerElements: []twiml.Element{&twiml.VoiceNumber{PhoneNumber: to}},
		}}
	}

	xml, err := twiml.Voice(verbs)
	if err != nil {
		g.logger.Error("Failed to serialize dial document", zap.Error(err))
		return g.Apology()
	}
	return &Document{Kind: TransferRequested, Action: action, XML: xml}
}

func (g *Generator) greeting(o Outcome) ([]twiml.Element, error) {
	gather, err := g.gather(o.Context)
	if err != nil {
		return nil, err
	}

	voice := g.voiceFor(o.Persona)
	verbs := []twiml.Element{&twiml.VoicePause{Length: "1"}}

	if o.Context.Outbound {
		intro := fmt.Sprintf("Hello, this is an AI assistant calling on behalf of %s.", o.Persona.DisplayName)
		if briefing := strings.TrimSpace(o.Context.Briefing); briefing != "" {
			intro += " " + briefing
		}
		verbs = append(verbs, g.say(intro, voice))
	} else {
		verbs = append(verbs, g.say(o.Persona.Welcome(), voice))
	}

	if line := objectivesLine(o.Context.Pending()); line != "" {
		verbs = append(verbs, g.say(line, voice))
	}
	if !o.Context.Outbound && g.opts.TransferNumber != "" {
		verbs = append(verbs, g.say(TransferHintLine, voice))
	}

	return append(verbs,
		gather,
		g.say(NoInputLine+" "+g.closing(o.Context), voice),
		&twiml.VoiceHangup{},
	), nil
}

func (g *Generator) continuation(o Outcome) ([]twiml.Element, error) {
	gather, err := g.gather(o.Context)
	if err != nil {
		return nil, err
	}
	voice := g.voiceFor(o.Persona)
	gather.InnerElements = []twiml.Element{g.say(o.Persona.FollowUp(), voice)}

	return []twiml.Element{
		g.say(o.Text, voice),
		gather,
		g.say(g.closing(o.Context), voice),
		&twiml.VoiceHangup{},
	}, nil
}

func (g *Generator) reprompt(o Outcome) ([]twiml.Element, error) {
	gather, err := g.gather(o.Context)
	if err != nil {
		return nil, err
	}
	voice := g.voiceFor(o.Persona)
	gather.InnerElements = []twiml.Element{g.say(ListeningLine, voice)}

	return []twiml.Element{
		g.say(RepromptLine, voice),
		gather,
		g.say(g.closing(o.Context), voice),
		&twiml.VoiceHangup{},
	}, nil
}

func (g *Generator) end(o Outcome) []twiml.Element {
	text := o.Text
	if strings.TrimSpace(text) == "" {
		text = g.closing(o.Context)
	}
	return []twiml.Element{
		g.say(text, g.voiceFor(o.Persona)),
		&twiml.VoiceHangup{},
	}
}

func (g *Generator) transfer(o Outcome) ([]twiml.Element, error) {
	if g.opts.TransferNumber == "" {
		return nil, fmt.Errorf("no transfer number configured")
	}
	voice := g.voiceFor(o.Persona)
	return []twiml.Element{
		g.say(TransferLine, voice),
		&twiml.VoiceDial{
			Number:  g.opts.TransferNumber,
			Timeout: strconv.Itoa(g.opts.TransferTimeout),
		},
		g.say(TransferFailedLine, voice),
		&twiml.VoiceHangup{},
	}, nil
}

// gather builds the listen verb whose callback carries cc. Silence still
// posts to the callback so the turn webhook decides what happens next.
func (g *Generator) gather(cc callctx.CallContext) (*twiml.VoiceGather, error) {
	action, err := g.CallbackURL(cc)
	if err != nil {
		return nil, fmt.Errorf("failed to build callback url: %w", err)
	}

	gather := &twiml.VoiceGather{
		Input:               "speech dtmf",
		Action:              action,
		Method:              "POST",
		Timeout:             strconv.Itoa(g.opts.GatherTimeout),
		NumDigits:           "1",
		ActionOnEmptyResult: "true",
	}
	if g.opts.SpeechTimeout > 0 {
		gather.SpeechTimeout = strconv.Itoa(g.opts.SpeechTimeout)
	} else {
		gather.SpeechTimeout = "auto"
	}
	return gather, nil
}

func (g *Generator) closing(cc callctx.CallContext) string {
	return ClosingLine(cc.Outbound)
}

// ClosingLine is the sign-off for a call in the given direction.
func ClosingLine(outbound bool) string {
	if outbound {
		return OutboundClosing
	}
	return InboundClosing
}

func (g *Generator) voiceFor(p *persona.Persona) string {
	if p != nil && p.Voice != "" {
		return p.Voice
	}
	return g.opts.Voice
}

func (g *Generator) say(text, voice string) *twiml.VoiceSay {
	return &twiml.VoiceSay{Message: speakable(text), Voice: voice}
}

// objectivesLine lists the open objectives in one sentence.
func objectivesLine(pending []callctx.Objective) string {
	tasks := make([]string, 0, len(pending))
	for _, o := range pending {
		tasks = append(tasks, strings.TrimRight(strings.TrimSpace(o.Task), ". "))
	}
	switch len(tasks) {
	case 0:
		return ""
	case 1:
		return "I'd like to go over one thing: " + tasks[0] + "."
	case 2:
		return "I'd like to go over a couple of things: " + tasks[0] + " and " + tasks[1] + "."
	default:
		return "I'd like to go over a few things: " + strings.Join(tasks[:len(tasks)-1], ", ") + ", and " + tasks[len(tasks)-1] + "."
	}
}

// speakable strips control characters and bounds the length of spoken text.
func speakable(text string) string {
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return ' '
		}
		if r < 0x20 || r == utf8.RuneError {
			return -1
		}
		return r
	}, text)
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) > maxSayRunes {
		text = string([]rune(text)[:maxSayRunes])
	}
	return text
}
