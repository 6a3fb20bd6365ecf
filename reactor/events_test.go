package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-nio/api"
)

func TestEventsFor(t *testing.T) {
	cases := []struct {
		name    string
		ready   Readiness
		applied api.Interest
		want    []api.IOEvent
	}{
		{"read", ReadyRead, api.InterestRead, []api.IOEvent{api.EventRead}},
		{"read and write", ReadyRead | ReadyWrite, api.InterestRead | api.InterestWrite, []api.IOEvent{api.EventRead, api.EventWrite}},
		{"accept", ReadyRead, api.InterestAccept, []api.IOEvent{api.EventAccepted}},
		{"connect", ReadyWrite, api.InterestConnect, []api.IOEvent{api.EventConnected}},
		{"connect error", ReadyError, api.InterestConnect, []api.IOEvent{api.EventConnected}},
		{"hangup reads", ReadyHangup, api.InterestRead, []api.IOEvent{api.EventRead}},
		{"hangup no interest", ReadyHangup, 0, []api.IOEvent{api.EventClosed}},
		{"hangup while read paused", ReadyHangup | ReadyWrite, api.InterestWrite, []api.IOEvent{api.EventWrite}},
		{"error write only", ReadyError, api.InterestWrite, []api.IOEvent{api.EventClosed}},
		{"write not wanted", ReadyWrite, api.InterestRead, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := eventsFor(tc.ready, tc.applied, nil)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReadinessString(t *testing.T) {
	assert.Equal(t, "NONE", Readiness(0).String())
	assert.Equal(t, "R|HUP", (ReadyRead | ReadyHangup).String())
}
