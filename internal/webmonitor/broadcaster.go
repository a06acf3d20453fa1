package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"image"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/TheWiseOptimist/ShootOFF/internal/logger"
	"github.com/TheWiseOptimist/ShootOFF/internal/metrics"
)

// FrameBroadcaster renders the latest camera frame at a fixed rate and fans
// the JPEG out to preview clients.
type FrameBroadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan []byte
	nextID   int
	latest   *image.RGBA
	fresh    bool
	render   func(*image.RGBA) []byte
	interval time.Duration
	metrics  *metrics.Metrics
	stop     chan struct{}
	stopped  bool
}

// NewFrameBroadcaster creates a broadcaster. render turns a frame into the
// JPEG sent to clients; a nil result skips the frame.
func NewFrameBroadcaster(interval time.Duration, render func(*image.RGBA) []byte, m *metrics.Metrics) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients:  make(map[int]chan []byte),
		render:   render,
		interval: interval,
		metrics:  m,
		stop:     make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2)
	fb.clients[id] = ch
	if fb.metrics != nil {
		fb.metrics.StreamClients.Add(1)
	}

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.removeLocked(id)
}

func (fb *FrameBroadcaster) removeLocked(id int) {
	ch, ok := fb.clients[id]
	if !ok {
		return
	}
	close(ch)
	delete(fb.clients, id)
	if fb.metrics != nil {
		fb.metrics.StreamClients.Add(-1)
	}
	logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
}

// ClientCount returns the number of preview clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Publish replaces the frame rendered on the next tick.
func (fb *FrameBroadcaster) Publish(img *image.RGBA) {
	fb.mu.Lock()
	fb.latest = img
	fb.fresh = true
	fb.mu.Unlock()
}

// Start begins the render and broadcast loop.
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the broadcaster and disconnects all clients.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.stopped {
		return
	}
	close(fb.stop)
	fb.stopped = true
	for id := range fb.clients {
		fb.removeLocked(id)
	}
}

func (fb *FrameBroadcaster) run() {
	ticker := time.NewTicker(fb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-fb.stop:
			return
		case <-ticker.C:
		}
		fb.tick()
	}
}

func (fb *FrameBroadcaster) tick() {
	fb.mu.Lock()
	if len(fb.clients) == 0 || !fb.fresh {
		fb.mu.Unlock()
		return
	}
	img := fb.latest
	fb.fresh = false
	fb.mu.Unlock()

	data := fb.render(img)
	if data == nil {
		return
	}
	fb.broadcast(data)
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
		}
	}
}

// Event is one entry of the monitor event feed.
type Event struct {
	Type      string
	Timestamp time.Time
	Fields    map[string]any
}

// SerializedEvent holds an event encoded once for every client format.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // base64 of a google.protobuf.Struct
}

func serializeEvent(ev Event) (*SerializedEvent, error) {
	payload := make(map[string]any, len(ev.Fields)+2)
	for k, v := range ev.Fields {
		payload[k] = v
	}
	payload["type"] = ev.Type
	payload["timestamp"] = float64(ev.Timestamp.UnixMilli()) / 1000

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	st, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, err
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// EventBroadcaster fans monitor events out to SSE and data channel clients.
type EventBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	buffer  int
	dropped uint64
	metrics *metrics.Metrics
}

// NewEventBroadcaster creates a broadcaster with per-client buffers of the
// given size.
func NewEventBroadcaster(buffer int, m *metrics.Metrics) *EventBroadcaster {
	if buffer <= 0 {
		buffer = 1
	}
	return &EventBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
		buffer:  buffer,
		metrics: m,
	}
}

func (eb *EventBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	ch := make(chan *SerializedEvent, eb.buffer)
	eb.clients[id] = ch
	if eb.metrics != nil {
		eb.metrics.EventClients.Add(1)
	}

	logger.Debug("EventBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(eb.clients))
	return id, ch
}

func (eb *EventBroadcaster) Unsubscribe(id int) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if ch, ok := eb.clients[id]; ok {
		close(ch)
		delete(eb.clients, id)
		if eb.metrics != nil {
			eb.metrics.EventClients.Add(-1)
		}
		logger.Debug("EventBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(eb.clients))
	}
}

// Publish serializes ev and queues it for every client. Slow clients miss
// events rather than stalling the publisher.
func (eb *EventBroadcaster) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := serializeEvent(ev)
	if err != nil {
		logger.Error("EventBroadcaster", "Serialize %s event: %v", ev.Type, err)
		return
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	for _, ch := range eb.clients {
		select {
		case ch <- data:
		default:
			eb.dropped++
		}
	}
}

// Dropped returns the number of events skipped for full clients.
func (eb *EventBroadcaster) Dropped() uint64 {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return eb.dropped
}
