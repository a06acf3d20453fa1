package webrtc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheWiseOptimist/ShootOFF/internal/metrics"
	"github.com/TheWiseOptimist/ShootOFF/internal/webmonitor"
)

var _ webmonitor.OfferHandler = (*Server)(nil)

// newOffer builds a browser-like offer with the event data channel.
func newOffer(t *testing.T) []byte {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	_, err = pc.CreateDataChannel(EventChannelLabel, nil)
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	gathered := webrtc.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(offer))
	<-gathered

	data, err := json.Marshal(pc.LocalDescription())
	require.NoError(t, err)
	return data
}

func TestHandleOfferRejectsBadJSON(t *testing.T) {
	s := NewServer(nil, 2, nil)
	_, err := s.HandleOffer([]byte("{not json"))
	assert.Error(t, err)
	assert.Zero(t, s.GetClientCount())
}

func TestHandleOfferAnswersDataChannel(t *testing.T) {
	m := metrics.New()
	s := NewServer(nil, 2, m)
	defer s.Close()

	answerJSON, err := s.HandleOffer(newOffer(t))
	require.NoError(t, err)

	var answer webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(answerJSON, &answer))
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Contains(t, answer.SDP, "m=application")

	assert.Equal(t, 1, s.GetClientCount())
	assert.Equal(t, int64(1), m.WebRTCClients.Load())

	stats := s.GetClientStats()
	require.Len(t, stats, 1)
	for id, st := range stats {
		assert.Zero(t, st["messages_sent"])
		s.RemoveClient(id)
	}
	assert.Zero(t, s.GetClientCount())
	assert.Zero(t, m.WebRTCClients.Load())
}

func TestHandleOfferEnforcesMaxClients(t *testing.T) {
	s := NewServer(nil, 1, nil)
	defer s.Close()

	_, err := s.HandleOffer(newOffer(t))
	require.NoError(t, err)

	_, err = s.HandleOffer(newOffer(t))
	assert.ErrorIs(t, err, ErrTooManyClients)
	assert.Equal(t, 1, s.GetClientCount())
}

func TestCloseRemovesAllClients(t *testing.T) {
	s := NewServer(nil, 3, nil)
	for i := 0; i < 2; i++ {
		_, err := s.HandleOffer(newOffer(t))
		require.NoError(t, err)
	}
	require.Equal(t, 2, s.GetClientCount())

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Zero(t, s.GetClientCount())
}

func TestRelayStopsWithContext(t *testing.T) {
	s := NewServer(nil, 1, nil)
	events := webmonitor.NewEventBroadcaster(4, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Relay(ctx, events)
		close(done)
	}()

	events.Publish(webmonitor.Event{Type: "shot"})
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Relay did not return")
	}
}
