package recordclient

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectSSEDeliversEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		_, _ = w.Write([]byte(`data: {"type":"breadcrumb.created","breadcrumb_id":"b1","schema_name":"order.created"}` + "\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: not-json-garbage\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte(`data: {"type":"breadcrumb.updated","breadcrumb_id":"b2"}` + "\n\n"))
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := New(Config{BaseURL: server.URL}, staticTokens("tok"))
	events, err := client.ConnectSSE(ctx)
	require.NoError(t, err)

	first := <-events
	require.Equal(t, "b1", first.BreadcrumbID)

	second := <-events
	require.Equal(t, "b2", second.BreadcrumbID)
}

func TestConnectSSENonOKStatusIsClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL}, staticTokens("tok"))
	_, err := client.ConnectSSE(context.Background())
	require.Error(t, err)
}

func TestDecodeEventLenientDropsMalformedFrames(t *testing.T) {
	_, ok := decodeEventLenient("")
	require.False(t, ok)

	_, ok = decodeEventLenient("{not json")
	require.False(t, ok)

	_, ok = decodeEventLenient(`{"breadcrumb_id":"no-type"}`)
	require.False(t, ok)

	ev, ok := decodeEventLenient(`{"type":"ping"}`)
	require.True(t, ok)
	require.Equal(t, "ping", string(ev.Type))
}

func TestDecodeEventLenientRepairsTrailingAndDuplicateCommas(t *testing.T) {
	ev, ok := decodeEventLenient(`{"type":"breadcrumb.created","breadcrumb_id":"b1",,}`)
	require.True(t, ok)
	require.Equal(t, "b1", ev.BreadcrumbID)

	ev, ok = decodeEventLenient(`{"type":"breadcrumb.updated","breadcrumb_id":"b2",}`)
	require.True(t, ok)
	require.Equal(t, "b2", ev.BreadcrumbID)
}

func TestDecodeEventLenientRepairsUnterminatedTrailingString(t *testing.T) {
	ev, ok := decodeEventLenient(`{"type":"breadcrumb.created","breadcrumb_id":"b1","schema_name":"order.created`)
	require.True(t, ok)
	require.Equal(t, "b1", ev.BreadcrumbID)
	require.Equal(t, "order.created", ev.SchemaName)
}

func TestConnectSSEChannelClosesOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		bw := bufio.NewWriter(w)
		_, _ = bw.WriteString("data: {\"type\":\"ping\"}\n\n")
		bw.Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := New(Config{BaseURL: server.URL}, staticTokens("tok"))
	events, err := client.ConnectSSE(ctx)
	require.NoError(t, err)

	<-events
	cancel()

	select {
	case _, open := <-events:
		require.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel did not close after cancel")
	}
}
