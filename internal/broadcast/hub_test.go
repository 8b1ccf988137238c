package broadcast

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, subscriber *Subscriber) Envelope {
	t.Helper()
	select {
	case envelope := <-subscriber.Stream():
		return envelope
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for envelope on %s", subscriber.ID())
		return Envelope{}
	}
}

func assertSilent(t *testing.T, subscriber *Subscriber) {
	t.Helper()
	select {
	case envelope := <-subscriber.Stream():
		t.Fatalf("unexpected envelope for %s: %+v", subscriber.ID(), envelope)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishReachesOnlyRoomMembers(t *testing.T) {
	hub := NewHub(HubConfig{})
	onBoard := NewSubscriber("conn-1", 4)
	elsewhere := NewSubscriber("conn-2", 4)
	hub.Subscribe(BoardRoom(7), onBoard)
	hub.Subscribe(BoardRoom(8), elsewhere)

	err := hub.Publish(context.Background(), BoardRoom(7), EventPresence, map[string]any{"boardId": 7, "users": []string{"alice"}})
	require.NoError(t, err)

	envelope := receive(t, onBoard)
	assert.Equal(t, "board:7", envelope.Room)
	assert.Equal(t, EventPresence, envelope.Type)
	assert.JSONEq(t, `{"boardId":7,"users":["alice"]}`, string(envelope.Payload))
	assertSilent(t, elsewhere)
}

func TestPublishRejectsMissingRoom(t *testing.T) {
	hub := NewHub(HubConfig{})
	assert.Error(t, hub.Publish(context.Background(), "", EventPresence, nil))
	assert.Error(t, hub.Publish(context.Background(), UserRoom("alice"), "", nil))
}

func TestFullSubscriberDoesNotBlockPublisher(t *testing.T) {
	hub := NewHub(HubConfig{})
	slow := NewSubscriber("slow", 1)
	hub.Subscribe(UserRoom("bob"), slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 10 {
			_ = hub.Publish(context.Background(), UserRoom("bob"), EventNotification, map[string]string{"kind": "H24"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
	assert.Len(t, slow.Stream(), 1)
}

func TestUnsubscribeAllLeavesEveryRoom(t *testing.T) {
	hub := NewHub(HubConfig{})
	subscriber := NewSubscriber("conn-1", 4)
	hub.Subscribe(UserRoom("alice"), subscriber)
	hub.Subscribe(BoardRoom(1), subscriber)
	hub.Subscribe(BoardRoom(2), subscriber)
	hub.Subscribe(BoardRoom(2), subscriber)

	left := hub.UnsubscribeAll("conn-1")
	sort.Strings(left)

	assert.Equal(t, []string{"board:1", "board:2", "user:alice"}, left)
	assert.Empty(t, hub.UnsubscribeAll("conn-1"))

	require.NoError(t, hub.Publish(context.Background(), BoardRoom(1), EventEditApplied, struct{}{}))
	require.NoError(t, hub.Publish(context.Background(), BoardRoom(2), EventEditApplied, struct{}{}))
	assertSilent(t, subscriber)
}

func TestUnsubscribeSingleRoom(t *testing.T) {
	hub := NewHub(HubConfig{})
	subscriber := NewSubscriber("conn-1", 4)
	hub.Subscribe(BoardRoom(1), subscriber)
	hub.Subscribe(BoardRoom(2), subscriber)

	hub.Unsubscribe(BoardRoom(1), "conn-1")

	require.NoError(t, hub.Publish(context.Background(), BoardRoom(1), EventPresence, struct{}{}))
	assertSilent(t, subscriber)
	require.NoError(t, hub.Publish(context.Background(), BoardRoom(2), EventPresence, struct{}{}))
	assert.Equal(t, "board:2", receive(t, subscriber).Room)
}

func TestConcurrentPublishers(t *testing.T) {
	hub := NewHub(HubConfig{})
	subscriber := NewSubscriber("reader", 512)
	hub.Subscribe(BoardRoom(3), subscriber)

	var wg sync.WaitGroup
	for publisher := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sequence := range 50 {
				_ = hub.Publish(context.Background(), BoardRoom(3), EventReactionsChanged, []int{publisher, sequence})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, subscriber.Stream(), 400)
}

func TestStartWithoutRelayIsNoop(t *testing.T) {
	hub := NewHub(HubConfig{})
	done, err := hub.Start(context.Background())
	require.NoError(t, err)
	_, open := <-done
	assert.False(t, open)
}

func TestRoomHelpers(t *testing.T) {
	assert.Equal(t, "board:42", BoardRoom(42))
	assert.Equal(t, "user:u-1", UserRoom("u-1"))

	raw, err := json.Marshal(Envelope{Room: "board:1", Type: EventPresence, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"room":"board:1","type":"presence","payload":{}}`, string(raw))
}
