package cli

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okdaichi/overlaysync/internal/client"
	"github.com/okdaichi/overlaysync/internal/document"
	"github.com/okdaichi/overlaysync/internal/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func currentText(t *testing.T, base string) string {
	t.Helper()
	resp, err := http.Get(base + "/config")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Config *struct {
			Text string `json:"text"`
		} `json:"config"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	if body.Config == nil {
		return ""
	}
	return body.Config.Text
}

// closedURL returns a relay URL nothing listens on.
func closedURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return "http://" + addr
}

func TestReadDocument(t *testing.T) {
	doc, err := readDocument(strings.NewReader(`{"text":"HELLO","fontSize":48}`))
	require.NoError(t, err)
	assert.Equal(t, "HELLO", doc.Config().Text)

	_, err = readDocument(strings.NewReader(""))
	assert.ErrorIs(t, err, errNoDocument)

	_, err = readDocument(strings.NewReader("not json"))
	assert.ErrorIs(t, err, document.ErrInvalid)
}

func TestPublish_Live(t *testing.T) {
	base, _ := startRelay(t, &config{})
	cfg := &config{RelayURL: base, HTTPFallback: true}

	route, err := publish(context.Background(), cfg, strings.NewReader(`{"text":"HELLO"}`), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, client.RouteLive, route)

	assert.Eventually(t, func() bool {
		return currentText(t, base) == "HELLO"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPublish_HTTPFallback(t *testing.T) {
	base, _ := startRelay(t, &config{})
	cfg := &config{RelayURL: base, HTTPFallback: true}

	// no time to connect: the request/response path is used
	route, err := publish(context.Background(), cfg, strings.NewReader(`{"text":"via http"}`), 0)
	require.NoError(t, err)
	assert.Contains(t, []client.Route{client.RouteLive, client.RouteHTTP}, route)
	assert.Eventually(t, func() bool {
		return currentText(t, base) == "via http"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPublish_LocalFallback(t *testing.T) {
	slotPath := filepath.Join(t.TempDir(), "outputConfig.json")
	cfg := &config{
		RelayURL:     closedURL(t),
		HTTPFallback: true,
		Fallback:     true,
		Slot:         local.SlotConfig{Kind: "file", Path: slotPath},
	}

	route, err := publish(context.Background(), cfg, strings.NewReader(`{"text":"offline"}`), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, client.RouteLocal, route)
	assert.True(t, route.Degraded())

	doc, ok, err := local.NewFileSlot(slotPath).Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "offline", doc.Config().Text)
}

func TestPublish_Undelivered(t *testing.T) {
	cfg := &config{RelayURL: closedURL(t)}

	_, err := publish(context.Background(), cfg, strings.NewReader(`{"text":"lost"}`), 50*time.Millisecond)
	assert.ErrorIs(t, err, client.ErrUndelivered)
}

func TestPublish_InvalidDocument(t *testing.T) {
	cfg := &config{RelayURL: closedURL(t)}

	_, err := publish(context.Background(), cfg, strings.NewReader(`[1,2]`), 0)
	assert.ErrorIs(t, err, document.ErrInvalid)
}
