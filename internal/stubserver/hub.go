package stubserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"remessa-import/internal/logger"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type subscriber struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	empresas map[string]bool
}

// Hub pushes change notifications to subscribed websocket clients. A
// client with an empty subscription set receives every notification.
type Hub struct {
	log        zerolog.Logger
	pascalCase bool

	mu      sync.RWMutex
	clients map[*subscriber]bool
}

func NewHub(pascalCase bool) *Hub {
	return &Hub{
		log:        logger.Get(),
		pascalCase: pascalCase,
		clients:    make(map[*subscriber]bool),
	}
}

type subscribeFrame struct {
	Action   string   `json:"action"`
	Empresas []string `json:"empresas"`
}

// Handle upgrades the request and serves the connection until the client
// goes away. Subscribe frames replace the connection's tenant set.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}

	sub := &subscriber{conn: conn, empresas: make(map[string]bool)}

	h.mu.Lock()
	h.clients[sub] = true
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Int("total", total).Msg("Websocket client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, sub)
		remaining := len(h.clients)
		h.mu.Unlock()
		conn.Close()
		h.log.Debug().Int("remaining", remaining).Msg("Websocket client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Msg("Websocket read error")
			}
			return
		}

		var frame subscribeFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Action != "subscribe" {
			continue
		}

		empresas := make(map[string]bool, len(frame.Empresas))
		for _, id := range frame.Empresas {
			empresas[id] = true
		}
		h.mu.Lock()
		sub.empresas = empresas
		h.mu.Unlock()
		h.log.Debug().Int("empresas", len(empresas)).Msg("Subscription updated")
	}
}

// NotifyJob broadcasts a change notification for jobID to every client
// subscribed to cedenteID (or subscribed to nothing in particular).
func (h *Hub) NotifyJob(jobID, cedenteID string) {
	key := "importacaoId"
	if h.pascalCase {
		key = "ImportacaoId"
	}
	data, err := json.Marshal(map[string]string{key: jobID})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal change notification")
		return
	}

	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.clients))
	for sub := range h.clients {
		if len(sub.empresas) == 0 || sub.empresas[cedenteID] {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		sub.writeMu.Lock()
		err := sub.conn.WriteMessage(websocket.TextMessage, data)
		sub.writeMu.Unlock()
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to push change notification")
		}
	}
}
