// Package live streams control samples to websocket clients.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/airfryer/pkg/samplelog"
)

// DefaultBacklog is the number of samples queued for a slow client before
// samples are dropped for it.
const DefaultBacklog = 16

// Path is where the stream is mounted on the HTTP server.
const Path = "/samples"

// Hub fans samples out to the connected clients. It implements the sample
// publisher of the control loop and never blocks it.
type Hub struct {
	Backlog int

	lock    sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	ch chan []byte
}

// NewHub creates a Hub.
func NewHub() *Hub {
	return &Hub{Backlog: DefaultBacklog, clients: make(map[*client]struct{})}
}

// Name implements framework.Named.
func (h *Hub) Name() string {
	return "live"
}

// Run implements framework.Runnable. It disconnects all clients once ctx
// is done.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.Close()
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// PublishSample sends the sample as JSON to every client.
func (h *Hub) PublishSample(s samplelog.Sample) {
	data, err := json.Marshal(s)
	if err != nil {
		glog.Errorf("live: encode sample: %v", err)
		return
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	for c := range h.clients {
		select {
		case c.ch <- data:
		default:
			glog.V(2).Info("live: client behind, sample dropped")
		}
	}
}

// Close disconnects all clients and rejects new ones.
func (h *Hub) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.ch)
		delete(h.clients, c)
	}
}

// Handler returns the websocket handler serving the stream.
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(h.serve)
}

func (h *Hub) serve(ws *websocket.Conn) {
	c := h.add()
	if c == nil {
		return
	}
	defer h.remove(c)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		var discard []byte
		for websocket.Message.Receive(ws, &discard) == nil {
		}
	}()

	for {
		select {
		case data, ok := <-c.ch:
			if !ok {
				return
			}
			if err := websocket.Message.Send(ws, string(data)); err != nil {
				glog.V(1).Infof("live: %s: %v", ws.Request().RemoteAddr, err)
				return
			}
		case <-gone:
			return
		}
	}
}

func (h *Hub) add() *client {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed {
		return nil
	}
	backlog := h.Backlog
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	c := &client{ch: make(chan []byte, backlog)}
	h.clients[c] = struct{}{}
	return c
}

func (h *Hub) remove(c *client) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.ch)
	}
}
