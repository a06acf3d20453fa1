// Package webrtc pushes monitor events to browsers over a WebRTC data
// channel.
package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
	"github.com/TheWiseOptimist/ShootOFF/internal/metrics"
	"github.com/TheWiseOptimist/ShootOFF/internal/webmonitor"
)

const (
	// EventChannelLabel is the data channel browsers open for the feed.
	EventChannelLabel = "events"

	clientBuffer = 64
)

// ErrTooManyClients is returned when maxClients peers are connected.
var ErrTooManyClients = errors.New("maximum clients reached")

// Client represents a connected WebRTC peer.
type Client struct {
	id       string
	peerConn *webrtc.PeerConnection

	mu      sync.Mutex
	channel *webrtc.DataChannel

	sendChan    chan []byte
	closeChan   chan struct{}
	closeOnce   sync.Once
	msgsSent    uint64
	msgsDropped uint64
}

// Server manages WebRTC connections.
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics
}

// NewServer creates a server. With no STUN servers only host candidates
// are gathered.
func NewServer(stunServers []string, maxClients int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		metrics:    m,
	}
}

// HandleOffer handles a WebRTC offer and returns the answer with all ICE
// candidates included.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}

	if s.GetClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        uuid.NewString(),
		peerConn:  peerConn,
		sendChan:  make(chan []byte, clientBuffer),
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != EventChannelLabel {
			logger.Debug("WebRTC", "Client %s opened unexpected channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			client.mu.Lock()
			client.channel = dc
			client.mu.Unlock()
			logger.Info("WebRTC", "Client %s event channel open", client.id)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			go s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, errors.New("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()
	if s.metrics != nil {
		s.metrics.WebRTCClients.Add(1)
	}

	go s.sendMessages(client)

	logger.Info("WebRTC", "Client %s connected", client.id)
	return answerJSON, nil
}

// Broadcast queues msg for every connected client. Clients whose queue is
// full miss the message.
func (s *Server) Broadcast(msg []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.sendChan <- msg:
		default:
			client.mu.Lock()
			client.msgsDropped++
			client.mu.Unlock()
		}
	}
}

// Relay forwards monitor events to all data channel clients until ctx is
// done.
func (s *Server) Relay(ctx context.Context, events *webmonitor.EventBroadcaster) {
	id, ch := events.Subscribe()
	defer events.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.Broadcast(ev.JSONData)
		}
	}
}

func (s *Server) sendMessages(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return

		case msg := <-client.sendChan:
			client.mu.Lock()
			dc := client.channel
			client.mu.Unlock()
			if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
				client.mu.Lock()
				client.msgsDropped++
				client.mu.Unlock()
				continue
			}
			if err := dc.SendText(string(msg)); err != nil {
				logger.Warn("WebRTC", "Error sending to client %s: %v", client.id, err)
				continue
			}
			client.mu.Lock()
			client.msgsSent++
			client.mu.Unlock()
		}
	}
}

// RemoveClient closes and forgets a client.
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()
	if !exists {
		return
	}

	client.close()
	if s.metrics != nil {
		s.metrics.WebRTCClients.Add(-1)
	}

	client.mu.Lock()
	sent, dropped := client.msgsSent, client.msgsDropped
	client.mu.Unlock()
	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)", clientID, sent, dropped)
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		if err := c.peerConn.Close(); err != nil {
			logger.Debug("WebRTC", "Client %s close: %v", c.id, err)
		}
	})
}

// GetClientCount returns the number of connected clients.
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetClientStats returns stats for all clients.
func (s *Server) GetClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		client.mu.Lock()
		stats[id] = map[string]uint64{
			"messages_sent":    client.msgsSent,
			"messages_dropped": client.msgsDropped,
		}
		client.mu.Unlock()
	}
	return stats
}

// Close closes all client connections.
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
