package callctx

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/flate"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/pkg/metrics"
)

const (
	plainPrefix      = "j."
	compressedPrefix = "z."

	// DefaultMaxBytes keeps the token well inside the provider's URL limit
	// once the base URL and path are added.
	DefaultMaxBytes = 1800

	// MinMaxBytes is the smallest budget a codec accepts. Below it even a
	// bare context with a short briefing cannot be encoded.
	MinMaxBytes = 256

	// DefaultHistoryWindow is how many exchanges a token remembers.
	DefaultHistoryWindow = 3

	// maxInflated caps decompression so a crafted token cannot balloon.
	maxInflated = 64 << 10

	minBriefingRunes = 40
)

// ErrTooLarge is returned by Encode when even a fully trimmed context does
// not fit the byte budget.
var ErrTooLarge = errors.New("call context does not fit token budget")

// Codec turns a CallContext into a URL-safe token and back.
type Codec struct {
	defaultPersona string
	maxBytes       int
	window         int
	logger         *zap.Logger
}

// NewCodec creates a codec. maxBytes and window fall back to the defaults
// when not positive; a positive maxBytes below MinMaxBytes is raised to it.
func NewCodec(defaultPersonaID string, maxBytes, window int, logger *zap.Logger) *Codec {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case maxBytes <= 0:
		maxBytes = DefaultMaxBytes
	case maxBytes < MinMaxBytes:
		logger.Warn("Context token budget too small, raising it",
			zap.Int("max_bytes", maxBytes),
			zap.Int("min_bytes", MinMaxBytes),
		)
		maxBytes = MinMaxBytes
	}
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &Codec{
		defaultPersona: defaultPersonaID,
		maxBytes:       maxBytes,
		window:         window,
		logger:         logger,
	}
}

// Default is the context of a call that carries no token.
func (c *Codec) Default() CallContext {
	return CallContext{Objectives: []Objective{}, PersonaID: c.defaultPersona}
}

// HistoryWindow is the number of exchanges a token keeps.
func (c *Codec) HistoryWindow() int {
	return c.window
}

// Normalize returns cc in the form Decode would produce.
func (c *Codec) Normalize(cc CallContext) CallContext {
	return cc.normalize(c.defaultPersona, c.window)
}

// Encode returns a URL-query-safe token for cc. Contexts that do not fit
// are compressed and, if still too large, trimmed: history first, then
// completed objectives, then the briefing, then trailing objectives.
func (c *Codec) Encode(cc CallContext) (string, error) {
	cc = c.Normalize(cc)

	token, err := c.pack(cc)
	if err != nil {
		return "", err
	}
	if len(token) <= c.maxBytes {
		return token, nil
	}

	trimmed, dropped := cc, []string{}
	for _, step := range []func(CallContext) (CallContext, string, bool){
		dropOldestExchange,
		dropCompletedObjective,
		shortenBriefing,
		dropLastObjective,
	} {
		for {
			next, what, ok := step(trimmed)
			if !ok {
				break
			}
			trimmed = next
			dropped = append(dropped, what)

			token, err = c.pack(trimmed)
			if err != nil {
				return "", err
			}
			if len(token) <= c.maxBytes {
				metrics.RecordContextTruncation()
				c.logger.Warn("Call context truncated to fit token budget",
					zap.Int("max_bytes", c.maxBytes),
					zap.Int("token_bytes", len(token)),
					zap.Strings("dropped", dropped),
				)
				return token, nil
			}
		}
	}

	return "", fmt.Errorf("%w: %d bytes after trimming, budget %d", ErrTooLarge, len(token), c.maxBytes)
}

// pack serializes cc, compressing only when the plain form is over budget.
func (c *Codec) pack(cc CallContext) (string, error) {
	raw, err := json.Marshal(cc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal call context: %w", err)
	}

	plain := plainPrefix + base64.RawURLEncoding.EncodeToString(raw)
	if len(plain) <= c.maxBytes {
		return plain, nil
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("failed to create compressor: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("failed to compress call context: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to compress call context: %w", err)
	}

	compressed := compressedPrefix + base64.RawURLEncoding.EncodeToString(buf.Bytes())
	if len(compressed) < len(plain) {
		return compressed, nil
	}
	return plain, nil
}

// Decode never fails. A missing, truncated, malformed or oversized token
// yields Default().
func (c *Codec) Decode(token string) CallContext {
	cc, err := c.decode(token)
	if err != nil {
		metrics.RecordContextDecodeFailure()
		c.logger.Warn("Unreadable call context, using default",
			zap.Int("token_bytes", len(token)),
			zap.Error(err),
		)
		return c.Default()
	}
	return cc
}

// DecodeStrict is Decode without the fallback; an empty token is not an error.
func (c *Codec) DecodeStrict(token string) (CallContext, error) {
	return c.decode(token)
}

func (c *Codec) decode(token string) (CallContext, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return c.Default(), nil
	}
	// Legacy tokens were raw JSON and could be far larger than ours.
	if len(token) > 4*c.maxBytes {
		return CallContext{}, fmt.Errorf("token of %d bytes exceeds limit", len(token))
	}

	var raw []byte
	switch {
	case strings.HasPrefix(token, plainPrefix):
		b, err := base64.RawURLEncoding.DecodeString(token[len(plainPrefix):])
		if err != nil {
			return CallContext{}, fmt.Errorf("failed to decode token: %w", err)
		}
		raw = b
	case strings.HasPrefix(token, compressedPrefix):
		b, err := base64.RawURLEncoding.DecodeString(token[len(compressedPrefix):])
		if err != nil {
			return CallContext{}, fmt.Errorf("failed to decode token: %w", err)
		}
		r := flate.NewReader(bytes.NewReader(b))
		defer r.Close()
		raw, err = io.ReadAll(io.LimitReader(r, maxInflated+1))
		if err != nil {
			return CallContext{}, fmt.Errorf("failed to inflate token: %w", err)
		}
		if len(raw) > maxInflated {
			return CallContext{}, errors.New("inflated token exceeds limit")
		}
	case strings.HasPrefix(token, "{"):
		raw = []byte(token)
	case strings.HasPrefix(token, "%7B"), strings.HasPrefix(token, "%7b"):
		unescaped, err := url.QueryUnescape(token)
		if err != nil {
			return CallContext{}, fmt.Errorf("failed to unescape token: %w", err)
		}
		raw = []byte(unescaped)
	default:
		return CallContext{}, errors.New("unrecognized token format")
	}

	if !utf8.Valid(raw) {
		return CallContext{}, errors.New("token is not valid UTF-8")
	}

	var cc CallContext
	if err := json.Unmarshal(raw, &cc); err != nil {
		return CallContext{}, fmt.Errorf("failed to unmarshal call context: %w", err)
	}
	return c.Normalize(cc), nil
}

func dropOldestExchange(cc CallContext) (CallContext, string, bool) {
	if len(cc.History) == 0 {
		return cc, "", false
	}
	next := cc.clone()
	next.History = next.History[1:]
	if len(next.History) == 0 {
		next.History = nil
	}
	return next, "history", true
}

func dropCompletedObjective(cc CallContext) (CallContext, string, bool) {
	for i := len(cc.Objectives) - 1; i >= 0; i-- {
		if cc.Objectives[i].Completed {
			next := cc.clone()
			next.Objectives = append(next.Objectives[:i], next.Objectives[i+1:]...)
			return next, "completed_objective", true
		}
	}
	return cc, "", false
}

func shortenBriefing(cc CallContext) (CallContext, string, bool) {
	n := utf8.RuneCountInString(cc.Briefing)
	if n <= minBriefingRunes {
		return cc, "", false
	}
	next := cc.clone()
	next.Briefing = clip(cc.Briefing, max(minBriefingRunes, n*3/4))
	return next, "briefing", true
}

func dropLastObjective(cc CallContext) (CallContext, string, bool) {
	if len(cc.Objectives) == 0 {
		return cc, "", false
	}
	next := cc.clone()
	next.Objectives = next.Objectives[:len(next.Objectives)-1]
	return next, "objective", true
}
