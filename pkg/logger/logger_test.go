package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  string
	}{
		{"e164", "+18305005485", "+1830•••5485"},
		{"short digits", "12345", "•2345"},
		{"anonymous caller", "anonymous", "anonymous"},
		{"client identity", " client:alice ", "client:alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field := MaskPhone("to", tt.phone)
			assert.Equal(t, "to", field.Key)
			assert.Equal(t, tt.want, field.String)
		})
	}
}

func TestMaskPhoneIfPresent_SkipsBlank(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := zap.New(core)

	log.Info("inbound call",
		MaskPhoneIfPresent("from", "  "),
		MaskPhoneIfPresent("to", "+18305005485"),
	)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.NotContains(t, fields, "from")
	assert.Equal(t, "+1830•••5485", fields["to"])
}

func TestNew_LevelsAndService(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{level: "debug", wantDebug: true, wantInfo: true},
		{level: "warn", wantDebug: false, wantInfo: false},
		{level: "verbose", wantDebug: false, wantInfo: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			log, err := New(Options{Level: tt.level, Env: "production", Service: "dialer", Tee: []zapcore.Core{core}})
			require.NoError(t, err)

			assert.Equal(t, tt.wantDebug, log.Core().Enabled(zapcore.DebugLevel))
			assert.Equal(t, tt.wantInfo, log.Core().Enabled(zapcore.InfoLevel))

			log.Error("turn failed")
			require.Equal(t, 1, logs.Len())
			assert.Equal(t, "dialer", logs.All()[0].ContextMap()["service"])
		})
	}
}

func TestInit_ReplacesNopLogger(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	require.NoError(t, Init("error", "development"))
	assert.NotSame(t, prev, Log)
	assert.False(t, Log.Core().Enabled(zapcore.WarnLevel))
	Sync()
}
