package events_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duskwire/duskwire/internal/events"
)

func TestSyncFunc_Notify(t *testing.T) {
	var got events.Event
	sink := events.SyncFunc(func(e events.Event) { got = e })

	sink.Notify(events.Event{Kind: events.KindMessage, Peer: "alice", Text: "hi"})

	assert.Equal(t, events.KindMessage, got.Kind)
	assert.Equal(t, "alice", got.Peer)
}

func TestAsyncFunc_NotifyAsync(t *testing.T) {
	var got events.Event
	sink := events.AsyncFunc(func(_ context.Context, e events.Event) error {
		got = e
		return nil
	})

	err := sink.NotifyAsync(context.Background(), events.Event{Kind: events.KindHandshakeSuccess, Peer: "bob"})

	assert.NoError(t, err)
	assert.Equal(t, "bob", got.Peer)
}
