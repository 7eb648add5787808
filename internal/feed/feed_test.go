package feed

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/occupancy.report/internal/counting"
)

func recv(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "subscriber channel closed")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return Update{}
	}
}

func TestOccupancyPercent(t *testing.T) {
	tests := []struct {
		occupied, capacity int
		want               float64
	}{
		{0, 100, 0},
		{1, 3, 33.3},
		{2, 3, 66.7},
		{150, 100, 150},
		{5, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OccupancyPercent(tt.occupied, tt.capacity), "%d/%d", tt.occupied, tt.capacity)
	}
}

func TestUpdateStruct(t *testing.T) {
	u := Update{
		Timestamp: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Stats:     counting.Stats{CurrentCount: 3, TotalEntries: 5, TotalExits: 2, TrackedObjects: 1},
		Capacity:  10,
		Event:     &counting.Event{Type: counting.EventEntry, VehicleID: 7, Count: 3, Size: 5200, SizeChangePct: 42.5},
	}
	s, err := u.Struct()
	require.NoError(t, err)

	m := s.AsMap()
	assert.Equal(t, "2026-03-14T09:30:00Z", m["timestamp"])
	assert.Equal(t, float64(3), m["current_count"])
	assert.Equal(t, float64(10), m["max_capacity"])
	assert.Equal(t, 30.0, m["occupancy_percent"])

	ev := m["event"].(map[string]any)
	assert.Equal(t, "entry", ev["type"])
	assert.Equal(t, float64(7), ev["vehicle_id"])
	assert.Equal(t, float64(5200), ev["size"])
	assert.Equal(t, 42.5, ev["size_change_pct"])

	u.Event = nil
	s, err = u.Struct()
	require.NoError(t, err)
	assert.NotContains(t, s.AsMap(), "event")
}

func TestHub_PublishNotRunning(t *testing.T) {
	h := NewHub()
	ch, cancel, err := h.Subscribe(1)
	require.NoError(t, err)
	defer cancel()

	h.Publish(Update{Capacity: 1})
	assert.Equal(t, uint64(0), h.Stats().Published)
	select {
	case <-ch:
		t.Fatal("stopped hub delivered an update")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_Broadcast(t *testing.T) {
	h := NewHub()
	h.Start()
	defer h.Stop()

	a, cancelA, err := h.Subscribe(4)
	require.NoError(t, err)
	defer cancelA()
	b, cancelB, err := h.Subscribe(4)
	require.NoError(t, err)
	defer cancelB()

	h.Publish(Update{Capacity: 42})
	assert.Equal(t, 42, recv(t, a).Capacity)
	assert.Equal(t, 42, recv(t, b).Capacity)

	stats := h.Stats()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, 2, stats.Subscribers)
	assert.True(t, stats.Running)
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	h := NewHub()
	h.Start()
	defer h.Stop()

	slow, cancel, err := h.Subscribe(1)
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 5; i++ {
		h.Publish(Update{Capacity: i + 1})
	}
	require.Eventually(t, func() bool { return h.Stats().Dropped >= 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, recv(t, slow).Capacity)
}

func TestHub_CancelAndLimit(t *testing.T) {
	h := NewHub()
	h.MaxSubscribers = 1

	ch, cancel, err := h.Subscribe(0)
	require.NoError(t, err)

	_, _, err = h.Subscribe(0)
	assert.ErrorIs(t, err, ErrTooManySubscribers)

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	_, cancel2, err := h.Subscribe(0)
	require.NoError(t, err)
	cancel2()
}

func TestHub_StopClosesSubscribers(t *testing.T) {
	h := NewHub()
	h.Start()
	ch, cancel, err := h.Subscribe(0)
	require.NoError(t, err)

	h.Stop()
	_, ok := <-ch
	assert.False(t, ok)
	cancel()
	assert.Equal(t, 0, h.Stats().Subscribers)
}

func startBufconn(t *testing.T, cfg Config) (*Hub, *grpc.ClientConn) {
	t.Helper()
	hub := NewHub()
	hub.Start()
	pub := NewPublisher(cfg, hub)

	lis := bufconn.Listen(1 << 20)
	require.NoError(t, pub.Serve(lis))

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		pub.Stop()
		hub.Stop()
	})
	return hub, conn
}

func TestPublisher_Watch(t *testing.T) {
	hub, conn := startBufconn(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := Watch(ctx, conn)
	require.NoError(t, err)

	// The server subscribes asynchronously; publish until the first update
	// gets through.
	got := make(chan map[string]any, 1)
	go func() {
		msg, err := stream.Recv()
		if err == nil {
			got <- msg.AsMap()
		}
		close(got)
	}()

	ev := &counting.Event{Type: counting.EventExit, VehicleID: 4, Count: 0}
	var m map[string]any
	require.Eventually(t, func() bool {
		hub.Publish(Update{Timestamp: time.Now(), Capacity: 50, Event: ev})
		select {
		case m = <-got:
			return true
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	require.NotNil(t, m)
	assert.Equal(t, float64(50), m["max_capacity"])
	assert.Equal(t, "exit", m["event"].(map[string]any)["type"])
}

func TestPublisher_DoubleStart(t *testing.T) {
	pub := NewPublisher(DefaultConfig(), NewHub())
	lis := bufconn.Listen(1 << 10)
	require.NoError(t, pub.Serve(lis))
	defer pub.Stop()

	assert.Error(t, pub.Serve(bufconn.Listen(1<<10)))
	assert.Error(t, pub.Start())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:50061", cfg.ListenAddr)
	assert.Equal(t, 8, cfg.MaxClients)
}
