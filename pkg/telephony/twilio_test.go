package telephony

import (
	"context"
	"errors"
	"testing"

	twclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCalls struct {
	created *twilioApi.CreateCallParams
	err     error
}

func (f *fakeCalls) CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error) {
	f.created = params
	if f.err != nil {
		return nil, f.err
	}
	sid, status := "CA0123456789", "queued"
	return &twilioApi.ApiV2010Call{Sid: &sid, Status: &status}, nil
}

func (f *fakeCalls) FetchCall(sid string, _ *twilioApi.FetchCallParams) (*twilioApi.ApiV2010Call, error) {
	if f.err != nil {
		return nil, f.err
	}
	status, duration := "completed", "42"
	return &twilioApi.ApiV2010Call{Sid: &sid, Status: &status, Duration: &duration}, nil
}

func TestPlaceCall(t *testing.T) {
	api := &fakeCalls{}
	c := newClient(api, "+18305005485", zap.NewNop())

	res, err := c.PlaceCall(context.Background(), CallRequest{
		To:             "+12125550100",
		URL:            "https://hub.example.com/twilio/voice?data=j.e30",
		StatusCallback: "https://hub.example.com/twilio/voice/status",
		Timeout:        25,
	})
	require.NoError(t, err)
	assert.Equal(t, "CA0123456789", res.SID)
	assert.Equal(t, "queued", res.Status)

	p := api.created
	require.NotNil(t, p)
	assert.Equal(t, "+12125550100", *p.To)
	assert.Equal(t, "+18305005485", *p.From)
	assert.Equal(t, "https://hub.example.com/twilio/voice?data=j.e30", *p.Url)
	assert.Equal(t, "POST", *p.Method)
	assert.Equal(t, "https://hub.example.com/twilio/voice/status", *p.StatusCallback)
	assert.Equal(t, StatusEvents, *p.StatusCallbackEvent)
	assert.Equal(t, 25, *p.Timeout)
}

func TestPlaceCall_FromOverride(t *testing.T) {
	api := &fakeCalls{}
	c := newClient(api, "+18305005485", zap.NewNop())

	_, err := c.PlaceCall(context.Background(), CallRequest{To: "+12125550100", From: "+14155550123", URL: "https://x"})
	require.NoError(t, err)
	assert.Equal(t, "+14155550123", *api.created.From)
	assert.Nil(t, api.created.StatusCallback)
}

func TestPlaceCall_Errors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		c := NewClient("", "", "+18305005485", zap.NewNop())
		assert.False(t, c.Configured())
		_, err := c.PlaceCall(context.Background(), CallRequest{To: "+12125550100"})
		assert.ErrorIs(t, err, ErrNotConfigured)
	})

	t.Run("no caller id", func(t *testing.T) {
		c := newClient(&fakeCalls{}, "", zap.NewNop())
		_, err := c.PlaceCall(context.Background(), CallRequest{To: "+12125550100"})
		assert.Error(t, err)
	})

	t.Run("api error", func(t *testing.T) {
		restErr := &twclient.TwilioRestError{Status: 400, Code: 21211, Message: "Invalid 'To' Phone Number"}
		c := newClient(&fakeCalls{err: restErr}, "+18305005485", zap.NewNop())
		_, err := c.PlaceCall(context.Background(), CallRequest{To: "+12125550100"})
		require.Error(t, err)
		assert.Equal(t, 400, StatusOf(err))
	})

	t.Run("transport error", func(t *testing.T) {
		assert.Equal(t, 0, StatusOf(errors.New("dial tcp: timeout")))
	})
}

func TestFetchCall(t *testing.T) {
	c := newClient(&fakeCalls{}, "+18305005485", zap.NewNop())

	st, err := c.FetchCall(context.Background(), "CA42")
	require.NoError(t, err)
	assert.Equal(t, "CA42", st.SID)
	assert.Equal(t, "completed", st.Status)
	assert.Equal(t, "42", st.Duration)
}
