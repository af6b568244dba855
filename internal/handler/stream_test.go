package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetflow/broker-comms/internal/model"
)

type sseEvent struct {
	name string
	data string
}

type sseReader struct {
	scanner *bufio.Scanner
}

func (r *sseReader) next(t *testing.T) sseEvent {
	t.Helper()
	var ev sseEvent
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, r.scanner.Err())
	t.Fatal("stream closed before next event")
	return ev
}

func openStream(t *testing.T, f *apiFixture, query string) *sseReader {
	t.Helper()
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/threads/thread_walmart_001/stream"+query, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, testBroker))

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	return &sseReader{scanner: bufio.NewScanner(resp.Body)}
}

func TestStream_LiveEvents(t *testing.T) {
	f := newAPIFixture(t, nil, nil)
	stream := openStream(t, f, "")

	connected := stream.next(t)
	assert.Equal(t, "connected", connected.name)
	assert.JSONEq(t, `{"thread_id":"thread_walmart_001"}`, connected.data)

	require.NoError(t, f.svc.Hub.Publish(context.Background(), &model.ThreadEvent{
		ID:       "live-1",
		Type:     model.EventMessageSent,
		ThreadID: "thread_walmart_001",
		BrokerID: testBroker,
	}))

	ev := stream.next(t)
	require.Equal(t, "event", ev.name)
	var got model.ThreadEvent
	require.NoError(t, json.Unmarshal([]byte(ev.data), &got))
	assert.Equal(t, "live-1", got.ID)
	assert.Equal(t, model.EventMessageSent, got.Type)
}

func TestStream_ReplayThenLive(t *testing.T) {
	replay := &fakeReplay{events: []model.ThreadEvent{
		{ID: "old-1", Sequence: 1, Type: model.EventMessageSent},
		{ID: "old-2", Sequence: 2, Type: model.EventMessageStatus},
	}}
	f := newAPIFixture(t, replay, nil)
	stream := openStream(t, f, "?after_sequence=0")

	assert.Equal(t, "connected", stream.next(t).name)
	assert.Contains(t, stream.next(t).data, `"old-1"`)
	assert.Contains(t, stream.next(t).data, `"old-2"`)

	done := stream.next(t)
	require.Equal(t, "replay_complete", done.name)
	assert.JSONEq(t, `{"last_sequence":2,"event_count":2}`, done.data)

	// A replayed event seen again on the live path is dropped.
	ctx := context.Background()
	require.NoError(t, f.svc.Hub.Publish(ctx, &model.ThreadEvent{ID: "old-2", ThreadID: "thread_walmart_001"}))
	require.NoError(t, f.svc.Hub.Publish(ctx, &model.ThreadEvent{ID: "new-1", ThreadID: "thread_walmart_001"}))

	ev := stream.next(t)
	assert.Equal(t, "event", ev.name)
	assert.Contains(t, ev.data, `"new-1"`)
}

func TestStream_OtherBrokerGets404(t *testing.T) {
	f := newAPIFixture(t, nil, nil)
	rec := f.do(t, http.MethodGet, "/api/v1/threads/thread_walmart_001/stream", token(t, "broker_002"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
