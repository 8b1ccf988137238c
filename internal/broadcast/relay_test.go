package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

// exerciseRelayPair checks that two hubs on the same relay both deliver a
// publish exactly once, the origin included.
func exerciseRelayPair(t *testing.T, origin, peer Relay) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	originHub := NewHub(HubConfig{Relay: origin})
	peerHub := NewHub(HubConfig{Relay: peer})
	_, err := originHub.Start(ctx)
	require.NoError(t, err)
	_, err = peerHub.Start(ctx)
	require.NoError(t, err)

	local := NewSubscriber("local", 4)
	remote := NewSubscriber("remote", 4)
	originHub.Subscribe(BoardRoom(7), local)
	peerHub.Subscribe(BoardRoom(7), remote)

	require.NoError(t, originHub.Publish(ctx, BoardRoom(7), EventEditApplied, map[string]any{"version": 4}))

	for _, subscriber := range []*Subscriber{local, remote} {
		envelope := receive(t, subscriber)
		assert.Equal(t, EventEditApplied, envelope.Type)
		assert.JSONEq(t, `{"version":4}`, string(envelope.Payload))
		assertSilent(t, subscriber)
	}
}

func TestRedisRelayDeliversAcrossHubs(t *testing.T) {
	mr := miniredis.RunT(t)

	origin := NewRedisRelay(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test.broadcast", zap.NewNop())
	defer origin.Close()
	peer := NewRedisRelay(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test.broadcast", zap.NewNop())
	defer peer.Close()

	exerciseRelayPair(t, origin, peer)
}

func TestRedisRelayCancelClosesStream(t *testing.T) {
	mr := miniredis.RunT(t)
	relay := NewRedisRelay(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "", nil)
	defer relay.Close()

	stream, cancel, err := relay.Subscribe(context.Background())
	require.NoError(t, err)
	cancel()
	cancel()

	select {
	case _, open := <-stream:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
}

func TestNATSRelayDeliversAcrossHubs(t *testing.T) {
	url := startTestNATS(t)

	origin, err := NewNATSRelay(url, "test.broadcast", zap.NewNop())
	require.NoError(t, err)
	defer origin.Close()
	peer, err := NewNATSRelay(url, "test.broadcast", zap.NewNop())
	require.NoError(t, err)
	defer peer.Close()

	exerciseRelayPair(t, origin, peer)
}

func TestOpenRelaySelectsBackend(t *testing.T) {
	ctx := context.Background()

	relay, err := OpenRelay(ctx, RelayConfig{Backend: BackendLocal}, nil)
	require.NoError(t, err)
	assert.Nil(t, relay)

	mr := miniredis.RunT(t)
	relay, err = OpenRelay(ctx, RelayConfig{Backend: "Redis", RedisAddr: mr.Addr()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisRelay{}, relay)
	require.NoError(t, relay.Close())

	relay, err = OpenRelay(ctx, RelayConfig{Backend: BackendNATS, NATSURL: startTestNATS(t)}, nil)
	require.NoError(t, err)
	assert.IsType(t, &NATSRelay{}, relay)
	require.NoError(t, relay.Close())

	_, err = OpenRelay(ctx, RelayConfig{Backend: "kafka"}, nil)
	assert.Error(t, err)
}
