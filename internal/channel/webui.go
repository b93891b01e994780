package channel

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/theamal11z/Rex68/internal/bus"
	"github.com/theamal11z/Rex68/internal/config"
)

//go:embed static
var staticFiles embed.FS

const (
	webUIChannelName = "webui"
	wsWriteTimeout   = 5 * time.Second
)

type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	UserID  string `json:"userId,omitempty"`
	Trigger string `json:"trigger,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	id   string
}

// WebUIChannel serves the chat page and a websocket endpoint. It does not
// own a listener; the gateway mounts Handler on its HTTP server.
type WebUIChannel struct {
	BaseChannel
	clients sync.Map
	nextID  atomic.Int64
	closed  atomic.Bool
}

func NewWebUIChannel(cfg config.WebUIConfig, b *bus.MessageBus) *WebUIChannel {
	return &WebUIChannel{BaseChannel: NewBaseChannel(webUIChannelName, b, cfg.AllowFrom)}
}

func (w *WebUIChannel) Start(ctx context.Context) error {
	w.closed.Store(false)
	log.Printf("[webui] ready")
	return nil
}

// Handler serves the static page at / and the websocket at /ws.
func (w *WebUIChannel) Handler() http.Handler {
	mux := http.NewServeMux()
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Printf("[webui] embed static fs: %v", err)
	} else {
		mux.Handle("/", http.FileServer(http.FS(staticFS)))
	}
	mux.HandleFunc("/ws", w.handleWS)
	return mux
}

func (w *WebUIChannel) handleWS(wr http.ResponseWriter, r *http.Request) {
	if w.closed.Load() {
		http.Error(wr, "webui stopped", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(wr, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Printf("[webui] websocket accept error: %v", err)
		return
	}

	clientID := fmt.Sprintf("webui-%d", w.nextID.Add(1))
	w.clients.Store(clientID, &wsClient{conn: conn, id: clientID})
	log.Printf("[webui] client connected: %s", clientID)

	defer func() {
		w.clients.Delete(clientID)
		conn.CloseNow()
		log.Printf("[webui] client disconnected: %s", clientID)
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if msg.Type != "message" || content == "" {
			continue
		}

		userID := strings.TrimSpace(msg.UserID)
		if userID == "" {
			userID = clientID
		}
		if !w.IsAllowed(userID) {
			log.Printf("[webui] rejected message from %s", userID)
			continue
		}

		metadata := map[string]any{"user_id": userID}
		if t := strings.TrimSpace(msg.Trigger); t != "" {
			metadata["trigger"] = t
		}
		w.bus.Inbound <- bus.InboundMessage{
			Channel:   webUIChannelName,
			SenderID:  userID,
			ChatID:    clientID,
			Content:   content,
			Timestamp: time.Now(),
			Metadata:  metadata,
		}
	}
}

// Send writes to the addressed client, or to every client when the chat id
// is unknown.
func (w *WebUIChannel) Send(msg bus.OutboundMessage) error {
	data, err := json.Marshal(wsMessage{Type: "message", Content: msg.Content})
	if err != nil {
		return err
	}

	if client, ok := w.clients.Load(msg.ChatID); ok {
		return writeClient(client.(*wsClient), data)
	}
	w.clients.Range(func(_, value any) bool {
		if err := writeClient(value.(*wsClient), data); err != nil {
			log.Printf("[webui] broadcast to %s failed: %v", value.(*wsClient).id, err)
		}
		return true
	})
	return nil
}

func writeClient(c *wsClient, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (w *WebUIChannel) Stop() error {
	w.closed.Store(true)
	w.clients.Range(func(key, value any) bool {
		value.(*wsClient).conn.CloseNow()
		w.clients.Delete(key)
		return true
	})
	log.Printf("[webui] stopped")
	return nil
}

func (w *WebUIChannel) clientCount() int {
	n := 0
	w.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
