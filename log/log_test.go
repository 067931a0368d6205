package log

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/memexchange/internal/wasmcontext"
	"github.com/reglet-dev/memexchange/wireformat"
)

func TestToLogAttrWire(t *testing.T) {
	tests := []struct {
		name     string
		attr     slog.Attr
		wantType string
		wantVal  string
	}{
		{
			name:     "string",
			attr:     slog.String("key", "value"),
			wantType: "string",
			wantVal:  "value",
		},
		{
			name:     "int64",
			attr:     slog.Int64("key", 123),
			wantType: "int64",
			wantVal:  "123",
		},
		{
			name:     "bool",
			attr:     slog.Bool("key", true),
			wantType: "bool",
			wantVal:  "true",
		},
		{
			name:     "float64",
			attr:     slog.Float64("key", 1.23),
			wantType: "float64",
			wantVal:  "1.230000",
		},
		{
			name:     "time",
			attr:     slog.Time("key", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
			wantType: "time",
			wantVal:  "2024-01-01T00:00:00Z",
		},
		{
			name:     "duration",
			attr:     slog.Duration("key", 1*time.Hour),
			wantType: "duration",
			wantVal:  "1h0m0s",
		},
		{
			name:     "error",
			attr:     slog.Any("key", errors.New("test error")),
			wantType: "error",
			wantVal:  "test error",
		},
		{
			name:     "nil",
			attr:     slog.Any("key", nil),
			wantType: "any",
			wantVal:  "<nil>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := toLogAttrWire(tt.attr)
			assert.Equal(t, tt.attr.Key, wire.Key)
			assert.Equal(t, tt.wantType, wire.Type)
			assert.Equal(t, tt.wantVal, wire.Value)
		})
	}
}

func TestToLogAttrWire_JSON(t *testing.T) {
	// Test structured object that should be serialized as JSON
	type MyStruct struct {
		Field string `json:"field"`
	}
	obj := MyStruct{Field: "data"}
	attr := slog.Any("key", obj)

	wire := toLogAttrWire(attr)
	assert.Equal(t, "key", wire.Key)
	assert.Equal(t, "json", wire.Type)

	var decoded MyStruct
	err := json.Unmarshal([]byte(wire.Value), &decoded)
	require.NoError(t, err)
	assert.Equal(t, obj, decoded)
}

func TestToLogAttrWire_LogValuer(t *testing.T) {
	// Test types that implement LogValuer
	attr := slog.Any("key", logValuer{val: "resolved"})
	wire := toLogAttrWire(attr)

	assert.Equal(t, "key", wire.Key)
	assert.Equal(t, "string", wire.Type)
	assert.Equal(t, "resolved", wire.Value)
}

type logValuer struct {
	val string
}

func (l logValuer) LogValue() slog.Value {
	return slog.StringValue(l.val)
}

func TestNewHandler_Defaults(t *testing.T) {
	h := NewHandler()
	assert.NotNil(t, h)
	// Check default level via Enabled
	assert.True(t, h.Enabled(context.TODO(), slog.LevelInfo))
	assert.False(t, h.Enabled(context.TODO(), slog.LevelDebug))
}

func TestNewHandler_Options(t *testing.T) {
	h := NewHandler(
		WithLevel(slog.LevelDebug),
		WithSource(true),
	)
	assert.NotNil(t, h)
	assert.True(t, h.Enabled(context.TODO(), slog.LevelDebug))
	assert.True(t, h.opts.addSource)
}

// captureSink collects decoded records.
type captureSink struct {
	records []wireformat.LogMessageWire
}

func (c *captureSink) sink(_ context.Context, data []byte) error {
	var msg wireformat.LogMessageWire
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.records = append(c.records, msg)
	return nil
}

func TestHandler_SerializesRecord(t *testing.T) {
	capture := &captureSink{}
	logger := slog.New(NewHandler(WithLevel(slog.LevelDebug), WithSink(capture.sink)))

	ctx := wasmcontext.WithRequestID(context.Background(), "conv-7")
	logger.With("instance", "g1").WithGroup("conv").DebugContext(ctx, "conversation state", "to", "decoded")

	require.Len(t, capture.records, 1)
	msg := capture.records[0]
	assert.Equal(t, "DEBUG", msg.Level)
	assert.Equal(t, "conversation state", msg.Message)
	assert.Equal(t, "conv-7", msg.Context.RequestID)
	assert.Equal(t, []wireformat.LogAttrWire{
		{Key: "instance", Type: "string", Value: "g1"},
		{Key: "conv.to", Type: "string", Value: "decoded"},
	}, msg.Attrs)
}

func TestHandler_FiltersLevel(t *testing.T) {
	capture := &captureSink{}
	logger := slog.New(NewHandler(WithSink(capture.sink)))

	logger.Debug("dropped")
	logger.Info("kept")

	require.Len(t, capture.records, 1)
	assert.Equal(t, "kept", capture.records[0].Message)
}

func TestHandler_SinkError(t *testing.T) {
	h := NewHandler(WithSink(func(context.Context, []byte) error { return errors.New("no memory") }))
	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "x", 0))
	assert.EqualError(t, err, "no memory")
}

func TestFromWire(t *testing.T) {
	msg := wireformat.LogMessageWire{
		Level:   "WARN",
		Message: "guest export failed",
		Context: wireformat.ContextWireFormat{RequestID: "conv-9"},
		Attrs: []wireformat.LogAttrWire{
			{Key: "status", Type: "string", Value: "double_free"},
			{Key: "ref", Type: "json", Value: `{"ptr":1024,"len":8}`},
		},
	}

	ctx, cancel, level, attrs := FromWire(context.Background(), msg)
	defer cancel()

	assert.Equal(t, slog.LevelWarn, level)
	id, ok := wasmcontext.RequestID(ctx)
	require.True(t, ok)
	assert.Equal(t, "conv-9", id)

	require.Len(t, attrs, 3)
	assert.Equal(t, "request_id", attrs[0].Key)
	assert.Equal(t, "double_free", attrs[1].Value.String())
	assert.Equal(t, json.RawMessage(`{"ptr":1024,"len":8}`), attrs[2].Value.Any())

	_, cancel2, level, _ := FromWire(context.Background(), wireformat.LogMessageWire{Level: "bogus"})
	defer cancel2()
	assert.Equal(t, slog.LevelInfo, level)
}
