package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/okdaichi/overlaysync/internal/document"
	"github.com/okdaichi/overlaysync/internal/protocol"
	"github.com/okdaichi/overlaysync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDoc(t *testing.T, raw string) document.Document {
	t.Helper()
	doc, err := document.Parse([]byte(raw))
	require.NoError(t, err)
	return doc
}

// drain returns every frame queued to p.
func drain(t *testing.T, p *Peer) []protocol.Frame {
	t.Helper()
	var frames []protocol.Frame
	for {
		select {
		case data := <-p.send:
			f, err := protocol.Decode(data)
			require.NoError(t, err)
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestHub_JoinSendsCurrentDocument(t *testing.T) {
	st := store.New()
	st.Replace(mustDoc(t, `{"text":"HELLO"}`))
	hub := NewHub(st, nil)

	p := newPeer(nil, "test", 4)
	hub.Join(p)

	frames := drain(t, p)
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.TypeUpdate, frames[0].Type)
	assert.JSONEq(t, `{"text":"HELLO"}`, string(frames[0].Config))
	assert.Equal(t, 1, hub.Count())
}

func TestHub_JoinEmptyStore(t *testing.T) {
	hub := NewHub(nil, nil)

	p := newPeer(nil, "test", 4)
	hub.Join(p)

	assert.Empty(t, drain(t, p))
	_, ok := hub.Current()
	assert.False(t, ok)
}

func TestHub_PublishEcho(t *testing.T) {
	tests := map[string]struct {
		cfg        *Config
		senderGets int
	}{
		"echo by default": {cfg: nil, senderGets: 1},
		"no echo":         {cfg: &Config{NoEcho: true}, senderGets: 0},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			hub := NewHub(nil, tt.cfg)
			sender := newPeer(nil, "a", 4)
			other := newPeer(nil, "b", 4)
			hub.Join(sender)
			hub.Join(other)

			doc, err := hub.Publish(context.Background(), sender, []byte(`{"text":"X","fontSize":48}`), "ws")
			require.NoError(t, err)
			assert.Equal(t, "X", doc.Config().Text)

			assert.Len(t, drain(t, sender), tt.senderGets)
			frames := drain(t, other)
			require.Len(t, frames, 1)
			assert.JSONEq(t, `{"text":"X","fontSize":48}`, string(frames[0].Config))
		})
	}
}

func TestHub_PublishInvalidKeepsPrior(t *testing.T) {
	hub := NewHub(nil, nil)
	sender := newPeer(nil, "a", 4)
	other := newPeer(nil, "b", 4)
	hub.Join(sender)
	hub.Join(other)

	_, err := hub.Publish(context.Background(), nil, []byte(`{"text":"A"}`), "http")
	require.NoError(t, err)
	drain(t, sender)
	drain(t, other)

	_, err = hub.Publish(context.Background(), sender, []byte(`{"fontSize":"big"`), "ws")
	assert.ErrorIs(t, err, document.ErrInvalid)

	frames := drain(t, sender)
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.TypeError, frames[0].Type)
	assert.NotEmpty(t, frames[0].Error)
	assert.Empty(t, drain(t, other), "errors go to the originating peer only")

	current, ok := hub.Current()
	require.True(t, ok)
	assert.Equal(t, "A", current.Config().Text)
}

func TestHub_LastWriteWins(t *testing.T) {
	hub := NewHub(nil, nil)
	p := newPeer(nil, "a", 8)
	hub.Join(p)

	_, err := hub.Publish(context.Background(), nil, []byte(`{"text":"A"}`), "http")
	require.NoError(t, err)
	_, err = hub.Publish(context.Background(), nil, []byte(`{"text":"B"}`), "http")
	require.NoError(t, err)

	frames := drain(t, p)
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"text":"A"}`, string(frames[0].Config))
	assert.JSONEq(t, `{"text":"B"}`, string(frames[1].Config))

	current, _ := hub.Current()
	assert.Equal(t, "B", current.Config().Text)
}

func TestHub_DropsForFullQueue(t *testing.T) {
	hub := NewHub(nil, nil)
	slow := newPeer(nil, "slow", 1)
	fast := newPeer(nil, "fast", 8)
	hub.Join(slow)
	hub.Join(fast)

	for i := 0; i < 3; i++ {
		_, err := hub.Publish(context.Background(), nil, []byte(fmt.Sprintf(`{"text":"%d"}`, i)), "http")
		require.NoError(t, err)
	}

	assert.Len(t, drain(t, slow), 1)
	assert.Len(t, drain(t, fast), 3)
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	hub := NewHub(nil, nil)
	p := newPeer(nil, "a", 4)
	hub.Join(p)
	hub.Leave(p)
	hub.Leave(p)

	_, err := hub.Publish(context.Background(), nil, []byte(`{"text":"A"}`), "http")
	require.NoError(t, err)

	assert.Empty(t, drain(t, p))
	assert.Equal(t, 0, hub.Count())
}

func TestHub_CloseAll(t *testing.T) {
	hub := NewHub(nil, nil)
	peers := []*Peer{newPeer(nil, "a", 1), newPeer(nil, "b", 1)}
	for _, p := range peers {
		hub.Join(p)
	}

	hub.CloseAll()

	assert.Equal(t, 0, hub.Count())
	for _, p := range peers {
		assert.False(t, p.enqueue([]byte("x")), "closed peer accepts no frames")
	}
}

// Peers joining while publishes are in flight must end on the stored
// document.
func TestHub_LateJoinConverges(t *testing.T) {
	hub := NewHub(nil, nil)
	const publishes = 100

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		peers []*Peer
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < publishes; i++ {
			_, _ = hub.Publish(context.Background(), nil, []byte(fmt.Sprintf(`{"text":"%d"}`, i)), "http")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			p := newPeer(nil, "late", publishes+1)
			hub.Join(p)
			mu.Lock()
			peers = append(peers, p)
			mu.Unlock()
		}
	}()
	wg.Wait()

	final, ok := hub.Current()
	require.True(t, ok)

	for _, p := range peers {
		frames := drain(t, p)
		if len(frames) == 0 {
			t.Fatal("peer joined after the first publish yet received nothing")
		}
		last, err := frames[len(frames)-1].Document()
		require.NoError(t, err)
		assert.True(t, final.Equal(last), "peer ended on %s, store holds %s",
			last.Config().Text, final.Config().Text)
	}
}
