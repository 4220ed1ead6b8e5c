package voice

import (
	"encoding/xml"
	"math/rand"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/pkg/callctx"
	"github.com/phonehub/phonehub/pkg/persona"
)

func newTestGenerator(transfer string, maxBytes int) (*Generator, *callctx.Codec) {
	codec := callctx.NewCodec("personal", maxBytes, 3, zap.NewNop())
	return NewGenerator(Options{
		BaseURL:        "https://hub.example.com/",
		Voice:          "Polly.Joanna",
		TransferNumber: transfer,
		GatherTimeout:  10,
		SpeechTimeout:  3,
	}, codec, zap.NewNop()), codec
}

var triton = &persona.Persona{
	ID:                 "triton",
	DisplayName:        "Triton Handyman",
	DialogInstructions: "Be helpful.",
	WelcomeLine:        "Hello, thank you for calling Triton Handyman Services.",
}

// verbCounts counts top-level and nested verbs of a document.
func verbCounts(t *testing.T, doc string) map[string]int {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader(doc))
	counts := map[string]int{}
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if se, ok := tok.(xml.StartElement); ok {
			counts[se.Name.Local]++
		}
	}
	require.Equal(t, 1, counts["Response"], "document must have a Response root: %s", doc)
	return counts
}

// gatherAction extracts the action URL of the first Gather.
func gatherAction(t *testing.T, doc string) string {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		tok, err := dec.Token()
		if err != nil {
			t.Fatalf("no Gather in %s", doc)
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "Gather" {
			for _, a := range se.Attr {
				if a.Name.Local == "action" {
					return a.Value
				}
			}
		}
	}
}

func TestRender_Totality(t *testing.T) {
	g, _ := newTestGenerator("+15551234567", callctx.DefaultMaxBytes)
	cc := callctx.CallContext{Objectives: []callctx.Objective{}, PersonaID: "triton"}

	tests := []struct {
		name       string
		outcome    Outcome
		wantAction Action
		gathers    int
		dials      int
		hangups    int
	}{
		{"greeting", Outcome{Kind: Greeting, Persona: triton, Context: cc}, ActionListen, 1, 0, 1},
		{"continue", Outcome{Kind: Continue, Persona: triton, Context: cc, Text: "Sure."}, ActionListen, 1, 0, 1},
		{"reprompt", Outcome{Kind: Reprompt, Persona: triton, Context: cc}, ActionListen, 1, 0, 1},
		{"end", Outcome{Kind: End, Persona: triton, Context: cc, Text: "Goodbye!"}, ActionHangup, 0, 0, 1},
		{"transfer", Outcome{Kind: TransferRequested, Persona: triton, Context: cc}, ActionTransfer, 0, 1, 1},
		{"unknown kind", Outcome{Kind: Kind(99), Persona: triton, Context: cc}, ActionHangup, 0, 0, 1},
		{"missing persona", Outcome{Kind: Continue, Context: cc, Text: "x"}, ActionHangup, 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := g.Render(tt.outcome)
			require.NotNil(t, doc)
			assert.Equal(t, tt.wantAction, doc.Action)

			counts := verbCounts(t, doc.XML)
			assert.Equal(t, tt.gathers, counts["Gather"], "Gather count")
			assert.Equal(t, tt.dials, counts["Dial"], "Dial count")
			assert.Equal(t, tt.hangups, counts["Hangup"], "Hangup count")
		})
	}
}

func TestRender_GreetingCarriesContext(t *testing.T) {
	g, codec := newTestGenerator("+15551234567", callctx.DefaultMaxBytes)
	cc := callctx.CallContext{
		Briefing:   "Confirming the Tuesday appointment.",
		Objectives: []callctx.Objective{{ID: "1", Task: "Confirm the time"}, {ID: "2", Task: "Done already", Completed: true}},
		PersonaID:  "triton",
		Outbound:   true,
	}

	doc := g.Render(Outcome{Kind: Greeting, Persona: triton, Context: cc})
	require.False(t, doc.Fallback)

	assert.Contains(t, doc.XML, "calling on behalf of Triton Handyman. Confirming the Tuesday appointment.")
	assert.Contains(t, doc.XML, "Confirm the time")
	assert.NotContains(t, doc.XML, "Done already", "completed objectives are not spoken")
	assert.NotContains(t, doc.XML, TransferHintLine, "outbound calls do not offer a transfer")

	action := gatherAction(t, doc.XML)
	u, err := url.Parse(action)
	require.NoError(t, err)
	assert.Equal(t, "hub.example.com", u.Host)
	assert.Equal(t, "/twilio/voice/turn", u.Path)
	assert.Equal(t, cc, codec.Decode(u.Query().Get("data")))
}

func TestRender_InboundGreeting(t *testing.T) {
	g, _ := newTestGenerator("+15551234567", callctx.DefaultMaxBytes)
	doc := g.Render(Outcome{Kind: Greeting, Persona: triton, Context: callctx.CallContext{PersonaID: "triton", Objectives: []callctx.Objective{}}})

	assert.Contains(t, doc.XML, "Hello, thank you for calling Triton Handyman Services.")
	assert.Contains(t, doc.XML, "Press 0 at any time")
	assert.Contains(t, doc.XML, `voice="Polly.Joanna"`)
	assert.Contains(t, doc.XML, `actionOnEmptyResult="true"`)
}

func TestRender_ContinueEscapesGeneratedText(t *testing.T) {
	g, _ := newTestGenerator("", callctx.DefaultMaxBytes)
	doc := g.Render(Outcome{
		Kind:    Continue,
		Persona: triton,
		Context: callctx.CallContext{PersonaID: "triton", Objectives: []callctx.Objective{}},
		Text:    "Prices are <b>low</b> & fair\nright now.",
	})

	require.False(t, doc.Fallback)
	verbCounts(t, doc.XML)
	assert.NotContains(t, doc.XML, "<b>")
	assert.Contains(t, doc.XML, "Please continue.")
}

func TestRender_TransferWithoutNumberFallsBack(t *testing.T) {
	g, _ := newTestGenerator("", callctx.DefaultMaxBytes)
	doc := g.Render(Outcome{Kind: TransferRequested, Persona: triton})

	assert.True(t, doc.Fallback)
	assert.Equal(t, ActionHangup, doc.Action)
	assert.Contains(t, doc.XML, "experiencing technical difficulties")
}

func TestRender_EncoderFailureFallsBack(t *testing.T) {
	g, _ := newTestGenerator("", callctx.MinMaxBytes)
	// A persona id no trimming step can shorten and deflate cannot shrink.
	rng := rand.New(rand.NewSource(7))
	id := make([]byte, 2000)
	for i := range id {
		id[i] = byte('a' + rng.Intn(26))
	}
	doc := g.Render(Outcome{
		Kind:    Continue,
		Persona: triton,
		Context: callctx.CallContext{PersonaID: string(id)},
		Text:    "Sure.",
	})

	assert.True(t, doc.Fallback)
	assert.Equal(t, ActionHangup, doc.Action)
	assert.Equal(t, 0, verbCounts(t, doc.XML)["Gather"])
}

func TestRender_EndUsesClosingWhenTextEmpty(t *testing.T) {
	g, _ := newTestGenerator("", callctx.DefaultMaxBytes)

	inbound := g.Render(Outcome{Kind: End, Persona: triton})
	assert.Contains(t, inbound.XML, "Someone will get back to you")

	outbound := g.Render(Outcome{Kind: End, Persona: triton, Context: callctx.CallContext{Outbound: true}})
	assert.Contains(t, outbound.XML, OutboundClosing)
}

func TestObjectivesLine(t *testing.T) {
	obj := func(tasks ...string) []callctx.Objective {
		out := make([]callctx.Objective, 0, len(tasks))
		for _, task := range tasks {
			out = append(out, callctx.Objective{Task: task})
		}
		return out
	}

	assert.Equal(t, "", objectivesLine(nil))
	assert.Equal(t, "I'd like to go over one thing: confirm pickup.", objectivesLine(obj("confirm pickup.")))
	assert.Equal(t, "I'd like to go over a couple of things: a and b.", objectivesLine(obj("a", "b")))
	assert.Equal(t, "I'd like to go over a few things: a, b, and c.", objectivesLine(obj("a", "b", "c")))
}

func TestDialOut(t *testing.T) {
	g, _ := newTestGenerator("", callctx.DefaultMaxBytes)

	doc := g.DialOut("+15125550100", "+18305005485")
	counts := verbCounts(t, doc.XML)
	assert.Equal(t, 1, counts["Dial"])
	assert.Equal(t, 1, counts["Number"])
	assert.Contains(t, doc.XML, `callerId="+18305005485"`)
	assert.Contains(t, doc.XML, "+15125550100")
	assert.Equal(t, ActionTransfer, doc.Action)

	missing := g.DialOut("", "+18305005485")
	assert.Equal(t, ActionHangup, missing.Action)
	assert.Contains(t, missing.XML, DialFailedLine)
	assert.Equal(t, 0, verbCounts(t, missing.XML)["Dial"])
}
