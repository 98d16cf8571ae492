package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mau.fi/whatsmeow/types/events"
)

func kinds(sigs []Signal) []SignalKind {
	out := make([]SignalKind, 0, len(sigs))
	for _, s := range sigs {
		out = append(out, s.Kind)
	}
	return out
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name   string
		evt    interface{}
		paired bool
		want   []SignalKind
	}{
		{name: "pair success", evt: &events.PairSuccess{}, want: []SignalKind{SignalAuthenticated}},
		{name: "connected after pairing", evt: &events.Connected{}, paired: true, want: []SignalKind{SignalReady}},
		{name: "connected from stored session", evt: &events.Connected{}, want: []SignalKind{SignalAuthenticated, SignalReady}},
		{name: "logged out on connect", evt: &events.LoggedOut{OnConnect: true}, want: []SignalKind{SignalAuthFailure}},
		{name: "logged out while running", evt: &events.LoggedOut{}, want: []SignalKind{SignalDisconnected}},
		{name: "connect failure", evt: &events.ConnectFailure{}, want: []SignalKind{SignalAuthFailure}},
		{name: "disconnected", evt: &events.Disconnected{}, want: []SignalKind{SignalDisconnected}},
		{name: "stream replaced", evt: &events.StreamReplaced{}, want: []SignalKind{SignalDisconnected}},
		{name: "stream error", evt: &events.StreamError{Code: "503"}, want: []SignalKind{SignalError}},
		{name: "keepalive timeout", evt: &events.KeepAliveTimeout{ErrorCount: 3}, want: []SignalKind{SignalError}},
		{name: "client outdated", evt: &events.ClientOutdated{}, want: []SignalKind{SignalError}},
		{name: "unrelated event", evt: &events.Receipt{}, want: []SignalKind{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, kinds(translate(tt.evt, tt.paired)))
		})
	}
}

func TestTranslatePayloads(t *testing.T) {
	sigs := translate(&events.LoggedOut{}, false)
	assert.Equal(t, "LOGOUT", sigs[0].Payload)

	sigs = translate(&events.StreamReplaced{}, false)
	assert.Equal(t, "CONFLICT", sigs[0].Payload)

	sigs = translate(&events.StreamError{Code: "503"}, false)
	assert.Equal(t, "stream error 503", sigs[0].ErrorText())
}

func TestWALoggerSub(t *testing.T) {
	l := newWALogger("client", false).Sub("socket")
	wl, ok := l.(*waLogger)
	if assert.True(t, ok) {
		assert.Equal(t, "whatsmeow/client/socket", wl.component)
		assert.False(t, wl.debug)
	}
}
