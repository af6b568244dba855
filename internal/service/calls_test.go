package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetflow/broker-comms/internal/model"
)

type stubSummarizer struct {
	summary string
	err     error
	seen    string
}

func (s *stubSummarizer) Summarize(_ context.Context, transcript string) (string, error) {
	s.seen = transcript
	return s.summary, s.err
}

type stubArchive struct {
	stored []string
	err    error
}

func (a *stubArchive) Store(_ context.Context, call *model.VoiceCall) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.stored = append(a.stored, call.ID)
	return "s3://recordings/" + call.ID + ".txt", nil
}

func newTestRecorder(t *testing.T, c *testCore, summarizer Summarizer, archive RecordingArchive) *CallRecorder {
	t.Helper()
	r := NewCallRecorder(c.threads, c.events, c.persister, summarizer, archive, c.clock, nil, CallRecorderConfig{
		Duration: func() time.Duration { return 245 * time.Second },
	})
	t.Cleanup(r.Close)
	return r
}

func TestCallRecorder_MakeCallIsProvisional(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(newTestThread("a", "broker_1"))
	r := newTestRecorder(t, c, nil, nil)

	call, err := r.MakeCall(context.Background(), "a", "+1-555-0199", "")
	require.NoError(t, err)

	assert.Equal(t, model.CallInitiated, call.Status)
	assert.Equal(t, BrokerCallerID, call.From)
	assert.Equal(t, "+1-555-0199", call.To)
	assert.Zero(t, call.Duration)
	assert.Equal(t, "Initiating call...", call.Summary)
	assert.Empty(t, call.FollowUpActions)

	th, _ := c.threads.Get("a")
	assert.Empty(t, th.Messages)
	assert.Contains(t, c.persister.calls, call.ID)
}

func TestCallRecorder_CompletesAfterDelay(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(newTestThread("a", "broker_1"))
	r := newTestRecorder(t, c, nil, nil)

	call, err := r.MakeCall(context.Background(), "a", "+1-555-0199", "")
	require.NoError(t, err)

	c.clock.Advance(2 * time.Second)
	got, err := r.GetCall(call.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallInitiated, got.Status)

	c.clock.Advance(time.Second)
	got, err = r.GetCall(call.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CallCompleted, got.Status)
	assert.Equal(t, 245, got.Duration)
	assert.Equal(t, DefaultCallSummary, got.Summary)
	assert.Equal(t, defaultFollowUpActions, got.FollowUpActions)
	assert.Contains(t, got.Transcript, "Broker: Hello, this is Broker broker_1 from FleetFlow regarding load LOAD-a.")
	assert.Contains(t, got.Transcript, "[Call started - 3:00:00 PM]")
	assert.Contains(t, got.Transcript, "[Call ended - 3:04:05 PM]")

	th, _ := c.threads.Get("a")
	require.Len(t, th.Messages, 1)
	msg := th.Messages[0]
	assert.Equal(t, model.ChannelVoiceCall, msg.Channel)
	assert.Equal(t, model.DirectionOutbound, msg.Direction)
	assert.Equal(t, model.StatusDelivered, msg.Status)
	assert.Equal(t, "Voice call completed (4:05)\n\nSummary: "+DefaultCallSummary, msg.Content)
	assert.Equal(t, 245, msg.Metadata.CallDuration)
	assert.Equal(t, "+1-555-0199", msg.To.Contact)
	assert.Equal(t, testNow.Add(3*time.Second), th.UpdatedAt)
	// Calls do not flip the thread into pending_response.
	assert.Equal(t, model.ThreadActive, th.Status)

	completed := c.events.ofType(model.EventCallCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, call.ID, completed[0].CallID)
	assert.Equal(t, model.CallCompleted, c.persister.calls[call.ID].Status)
}

func TestCallRecorder_CompletionMessageFollowsEarlierSends(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(newTestThread("a", "broker_1"))
	r := newTestRecorder(t, c, nil, nil)

	call, err := r.MakeCall(context.Background(), "a", "+1-555-0199", "")
	require.NoError(t, err)

	c.clock.Advance(time.Second)
	_, err = c.dispatcher.Send(context.Background(), "a", model.ChannelSMS, "Sending the rate con now", "")
	require.NoError(t, err)

	c.clock.Advance(2 * time.Second)

	th, _ := c.threads.Get("a")
	require.Len(t, th.Messages, 2)
	assert.Equal(t, model.ChannelSMS, th.Messages[0].Channel)
	assert.Equal(t, model.ChannelVoiceCall, th.Messages[1].Channel)
	for i := 1; i < len(th.Messages); i++ {
		assert.False(t, th.Messages[i].Timestamp.Before(th.Messages[i-1].Timestamp),
			"message %d is stamped before message %d", i, i-1)
	}
	assert.Equal(t, testNow.Add(3*time.Second), th.Messages[1].Timestamp)

	got, err := r.GetCall(call.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow, got.Timestamp)
}

func TestCallRecorder_UsesSummarizerAndScript(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(newTestThread("a", "broker_1"))
	summarizer := &stubSummarizer{summary: "  Shipper agreed to $2,400.  "}
	r := newTestRecorder(t, c, summarizer, nil)

	call, err := r.MakeCall(context.Background(), "a", "+1-555-0199", "Calling about your Chicago lane.")
	require.NoError(t, err)
	c.clock.Advance(3 * time.Second)

	got, _ := r.GetCall(call.ID)
	assert.Equal(t, "Shipper agreed to $2,400.", got.Summary)
	assert.Contains(t, summarizer.seen, "Broker: Calling about your Chicago lane.")
	assert.NotContains(t, got.Transcript, "We're very competitive")
}

func TestCallRecorder_SummarizerFailureFallsBack(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(newTestThread("a", "broker_1"))
	r := newTestRecorder(t, c, &stubSummarizer{err: errStub}, nil)

	call, err := r.MakeCall(context.Background(), "a", "+1-555-0199", "")
	require.NoError(t, err)
	c.clock.Advance(3 * time.Second)

	got, _ := r.GetCall(call.ID)
	assert.Equal(t, DefaultCallSummary, got.Summary)
}

func TestCallRecorder_ArchivesRecording(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(newTestThread("a", "broker_1"))
	archive := &stubArchive{}
	r := newTestRecorder(t, c, nil, archive)

	call, err := r.MakeCall(context.Background(), "a", "+1-555-0199", "")
	require.NoError(t, err)
	c.clock.Advance(3 * time.Second)

	got, _ := r.GetCall(call.ID)
	assert.Equal(t, "s3://recordings/"+call.ID+".txt", got.Recording)
	assert.Equal(t, []string{call.ID}, archive.stored)
}

func TestCallRecorder_ArchiveFailureStillCompletes(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(newTestThread("a", "broker_1"))
	r := newTestRecorder(t, c, nil, &stubArchive{err: errStub})

	call, err := r.MakeCall(context.Background(), "a", "+1-555-0199", "")
	require.NoError(t, err)
	c.clock.Advance(3 * time.Second)

	got, _ := r.GetCall(call.ID)
	assert.Equal(t, model.CallCompleted, got.Status)
	assert.Empty(t, got.Recording)
}

func TestCallRecorder_UnknownThreadAndCall(t *testing.T) {
	c := newTestCore(t)
	r := newTestRecorder(t, c, nil, nil)

	_, err := r.MakeCall(context.Background(), "missing", "+1", "")
	assert.True(t, errors.Is(err, model.ErrThreadNotFound))

	_, err = r.GetCall("missing")
	assert.True(t, errors.Is(err, model.ErrCallNotFound))
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestCallRecorder_ListCalls(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(newTestThread("a", "broker_1"))
	c.threads.Add(newTestThread("b", "broker_1"))
	r := newTestRecorder(t, c, nil, nil)

	first, err := r.MakeCall(context.Background(), "a", "+1", "")
	require.NoError(t, err)
	c.clock.Advance(time.Minute)
	second, err := r.MakeCall(context.Background(), "a", "+2", "")
	require.NoError(t, err)
	_, err = r.MakeCall(context.Background(), "b", "+3", "")
	require.NoError(t, err)

	calls := r.ListCalls("a")
	require.Len(t, calls, 2)
	assert.Equal(t, first.ID, calls[0].ID)
	assert.Equal(t, second.ID, calls[1].ID)
	assert.Empty(t, r.ListCalls("nobody"))
}

func TestCallRecorder_CloseCancelsCompletion(t *testing.T) {
	c := newTestCore(t)
	c.threads.Add(newTestThread("a", "broker_1"))
	r := newTestRecorder(t, c, nil, nil)

	call, err := r.MakeCall(context.Background(), "a", "+1", "")
	require.NoError(t, err)
	r.Close()
	c.clock.Advance(time.Minute)

	got, _ := r.GetCall(call.ID)
	assert.Equal(t, model.CallInitiated, got.Status)
}

func TestCallTranscriptWithoutLoad(t *testing.T) {
	th := newTestThread("a", "broker_1")
	th.LoadID = ""

	out := CallTranscript(th, "", testNow, testNow.Add(time.Minute))
	assert.Contains(t, out, "regarding your shipment.")
	assert.True(t, strings.HasSuffix(out, "[Call ended - 3:01:00 PM]"))
}
