// Package telephony places and inspects calls through the Twilio REST API.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/pkg/circuitbreaker"
	"github.com/phonehub/phonehub/pkg/logger"
	"github.com/phonehub/phonehub/pkg/metrics"
	"github.com/phonehub/phonehub/pkg/otel"
	"github.com/phonehub/phonehub/pkg/utils"
)

// ErrNotConfigured is returned when no Twilio credentials are set.
var ErrNotConfigured = errors.New("twilio credentials not configured")

// StatusEvents are the call progress events the status webhook receives.
var StatusEvents = []string{"initiated", "ringing", "answered", "completed"}

// Dialer places outbound calls.
type Dialer interface {
	PlaceCall(ctx context.Context, req CallRequest) (*CallResult, error)
}

// CallRequest describes one outbound call.
type CallRequest struct {
	To string
	// From overrides the client's default caller id.
	From string
	// URL is fetched by Twilio once the call is answered.
	URL            string
	StatusCallback string
	// Timeout is how long to let the callee's phone ring, in seconds.
	Timeout int
}

// CallResult is what Twilio reported when accepting a call.
type CallResult struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// CallStatus is a snapshot of an existing call.
type CallStatus struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
	From      string `json:"from"`
	To        string `json:"to"`
	Duration  string `json:"duration"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

// callsAPI is the part of the Twilio API service the client uses.
type callsAPI interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
	FetchCall(sid string, params *twilioApi.FetchCallParams) (*twilioApi.ApiV2010Call, error)
}

// Client is a Twilio voice client.
type Client struct {
	api     callsAPI
	from    string
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates a client. It returns a client whose calls all fail with
// ErrNotConfigured when accountSID or authToken is empty.
func NewClient(accountSID, authToken, from string, logger *zap.Logger) *Client {
	var api callsAPI
	if accountSID != "" && authToken != "" {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		})
		api = rest.Api
	}
	return newClient(api, from, logger)
}

func newClient(api callsAPI, from string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := circuitbreaker.New(circuitbreaker.DefaultConfig())
	cb.OnStateChange(func(_, to circuitbreaker.State) {
		metrics.UpdateCircuitBreaker("twilio", int(to))
	})
	return &Client{api: api, from: from, breaker: cb, logger: logger}
}

// Configured reports whether the client has credentials.
func (c *Client) Configured() bool {
	return c.api != nil
}

// PlaceCall asks Twilio to dial req.To and fetch req.URL when answered.
func (c *Client) PlaceCall(ctx context.Context, req CallRequest) (*CallResult, error) {
	if c.api == nil {
		return nil, ErrNotConfigured
	}
	from := req.From
	if from == "" {
		from = c.from
	}
	if from == "" {
		return nil, errors.New("no caller id configured")
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(from)
	params.SetUrl(req.URL)
	params.SetMethod(http.MethodPost)
	if req.StatusCallback != "" {
		params.SetStatusCallback(req.StatusCallback)
		params.SetStatusCallbackEvent(StatusEvents)
		params.SetStatusCallbackMethod(http.MethodPost)
	}
	if req.Timeout > 0 {
		params.SetTimeout(req.Timeout)
	}

	var call *twilioApi.ApiV2010Call
	start := time.Now()
	err := otel.Trace(ctx, "twilio.create_call", []attribute.KeyValue{
		attribute.String("call.to", utils.MaskPhoneNumber(req.To)),
	}, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func() error {
			var err error
			call, err = c.api.CreateCall(params)
			return err
		})
	})
	metrics.RecordServiceCall("twilio", err == nil, time.Since(start))

	if err != nil {
		c.logger.Error("Failed to place call",
			logger.MaskPhone("to", req.To),
			zap.Int("twilio_status", StatusOf(err)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to create call: %w", err)
	}

	result := &CallResult{SID: deref(call.Sid), Status: deref(call.Status)}
	c.logger.Info("Call placed",
		zap.String("call_sid", result.SID),
		zap.String("status", result.Status),
		logger.MaskPhone("to", req.To),
	)
	return result, nil
}

// FetchCall returns the current state of a call.
func (c *Client) FetchCall(ctx context.Context, sid string) (*CallStatus, error) {
	if c.api == nil {
		return nil, ErrNotConfigured
	}

	var call *twilioApi.ApiV2010Call
	err := otel.Trace(ctx, "twilio.fetch_call", []attribute.KeyValue{
		attribute.String("call.sid", sid),
	}, func(ctx context.Context) error {
		var err error
		call, err = c.api.FetchCall(sid, &twilioApi.FetchCallParams{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch call %s: %w", sid, err)
	}

	return &CallStatus{
		SID:       deref(call.Sid),
		Status:    deref(call.Status),
		Direction: deref(call.Direction),
		From:      deref(call.From),
		To:        deref(call.To),
		Duration:  deref(call.Duration),
		StartTime: deref(call.StartTime),
		EndTime:   deref(call.EndTime),
	}, nil
}

// Stats reports the breaker guarding the Twilio API.
func (c *Client) Stats() circuitbreaker.Stats {
	return c.breaker.GetStats()
}

// StatusOf returns the HTTP status of a Twilio API error, or 0.
func StatusOf(err error) int {
	var restErr *twclient.TwilioRestError
	if errors.As(err, &restErr) {
		return restErr.Status
	}
	return 0
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
