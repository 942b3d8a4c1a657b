package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/logging"
	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/internal/pipeline"
)

// Client represents a WebSocket client
type Client struct {
	VideoID string
	Conn    *websocket.Conn
	Send    chan []byte
}

// Hub fans pipeline events out to the WebSocket clients watching a video.
// It implements pipeline.Observer; OnEvent never blocks the pipeline.
type Hub struct {
	// Clients grouped by video ID, owned by the Run goroutine
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	direct     chan *directMessage
	// done is closed when Run returns; sends to the loop give up after it.
	done chan struct{}

	logger zerolog.Logger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	VideoID string
	Message []byte
}

type directMessage struct {
	client  *Client
	message []byte
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		direct:     make(chan *directMessage, 64),
		done:       make(chan struct{}),
		logger:     logging.Component(logger, "ws_hub"),
	}
}

// Run starts the hub's main loop and returns when ctx is done. It must be
// called at most once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.clients {
				for client := range clients {
					close(client.Send)
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			return

		case client := <-h.register:
			if h.clients[client.VideoID] == nil {
				h.clients[client.VideoID] = make(map[*Client]bool)
			}
			h.clients[client.VideoID][client] = true
			h.logger.Debug().Str("video_id", client.VideoID).Msg("client registered")

		case client := <-h.unregister:
			h.drop(client)
			h.logger.Debug().Str("video_id", client.VideoID).Msg("client unregistered")

		case msg := <-h.broadcast:
			for client := range h.clients[msg.VideoID] {
				h.deliver(client, msg.Message)
			}

		case msg := <-h.direct:
			if h.clients[msg.client.VideoID][msg.client] {
				h.deliver(msg.client, msg.message)
			}
		}
	}
}

// deliver drops clients that cannot keep up.
func (h *Hub) deliver(client *Client, message []byte) {
	select {
	case client.Send <- message:
	default:
		h.logger.Warn().Str("video_id", client.VideoID).Msg("dropping slow client")
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	clients, ok := h.clients[client.VideoID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.VideoID)
	}
}

// OnEvent converts a pipeline event into the matching client message.
func (h *Hub) OnEvent(e pipeline.Event) {
	var msg interface{}
	switch e.Type {
	case pipeline.EventStageStarted, pipeline.EventStageCompleted:
		msg = model.WSProgressMessage{
			Type:     model.WSMessageTypeProgress,
			VideoID:  e.JobID,
			Stage:    e.Record.Stage,
			Progress: e.Record.Progress,
		}
	case pipeline.EventJobCompleted:
		rec := e.Record.Clone()
		msg = model.WSCompleteMessage{
			Type:    model.WSMessageTypeComplete,
			VideoID: e.JobID,
			Result:  &rec,
		}
	case pipeline.EventJobFailed:
		msg = model.WSErrorMessage{
			Type:    model.WSMessageTypeError,
			VideoID: e.JobID,
			Error: model.WSError{
				Code:    e.Record.ErrorKind,
				Message: e.Record.Error,
			},
		}
	default:
		return
	}
	h.publish(e.JobID, msg)
}

func (h *Hub) publish(videoID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal websocket message")
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{VideoID: videoID, Message: data}:
	default:
		h.logger.Warn().Str("video_id", videoID).Msg("broadcast queue full, dropping message")
	}
}

// HandleConnection serves one client until it disconnects. The current
// record, when given, is sent first so late subscribers start in sync.
func (h *Hub) HandleConnection(c *websocket.Conn, videoID string, current *model.ProgressRecord) {
	client := &Client{
		VideoID: videoID,
		Conn:    c,
		Send:    make(chan []byte, 256),
	}

	if !h.attach(client) {
		return
	}
	defer h.detach(client)

	if current != nil {
		data, err := json.Marshal(model.WSProgressMessage{
			Type:     model.WSMessageTypeProgress,
			VideoID:  videoID,
			Stage:    current.Stage,
			Progress: current.Progress,
		})
		if err == nil {
			h.sendDirect(client, data)
		}
	}

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					_ = c.Close()
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("video_id", videoID).Msg("websocket error")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			h.sendDirect(client, data)
		}
	}
}

// attach registers client, reporting false once the hub has stopped.
func (h *Hub) attach(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) sendDirect(client *Client, data []byte) {
	select {
	case h.direct <- &directMessage{client: client, message: data}:
	case <-h.done:
	}
}
