package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/ruxplay/rulet-front-sub000/internal/middleware"
	"github.com/ruxplay/rulet-front-sub000/internal/models"
	"github.com/ruxplay/rulet-front-sub000/internal/models/mesa"
	"github.com/ruxplay/rulet-front-sub000/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Exported global instance of the WebSocket service
var MesaWS *MesaWebsocketService

// MesaWebsocketService fans mesa events out to WebSocket subscribers.
// Every client has its own buffered send channel; a slow or dead client
// drops messages instead of stalling the engine.
type MesaWebsocketService struct {
	mu      sync.Mutex
	clients map[*MesaClient]struct{}
}

// MesaClient receives events only for the tiers it has been activated
// for; tiers is guarded by the hub mutex.
type MesaClient struct {
	username string
	tiers    map[mesa.Tier]bool
	conn     *websocket.Conn
	hub      *MesaWebsocketService
	send     chan []byte
	once     sync.Once
}

func NewMesaWebsocketService() *MesaWebsocketService {
	return &MesaWebsocketService{
		clients: make(map[*MesaClient]struct{}),
	}
}

// Publish implements mesa.EventSink. It is called while the engine holds
// the tier lock, so it only enqueues and never blocks.
func (ws *MesaWebsocketService) Publish(ev mesa.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error("failed to marshal mesa event %s: %v", ev.Type, err)
		return
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()

	for c := range ws.clients {
		if !c.tiers[ev.Tier] {
			continue
		}
		if ev.Username != "" && ev.Username != c.username {
			continue
		}
		select {
		case c.send <- payload:
		default:
			logger.Warn("dropping %s event for slow subscriber %s", ev.Type, c.username)
		}
	}
}

// register subscribes the client to the given tiers. Each tier is
// activated under that tier's engine lock, with the current snapshot
// enqueued in the same critical section, so the snapshot always precedes
// every live event of the tier on the client's channel.
func (ws *MesaWebsocketService) register(c *MesaClient, tiers []mesa.Tier) {
	ws.mu.Lock()
	ws.clients[c] = struct{}{}
	ws.mu.Unlock()

	for _, tier := range tiers {
		tier := tier
		MesaEngine.Attach(tier, func(snap *mesa.Snapshot) {
			ws.mu.Lock()
			defer ws.mu.Unlock()
			if _, ok := ws.clients[c]; !ok {
				return // client already gone
			}
			if snap != nil {
				ev := mesa.Event{Type: mesa.EventSnapshot, Tier: tier, MesaID: snap.ID, Mesa: snap}
				if payload, err := json.Marshal(ev); err == nil {
					select {
					case c.send <- payload:
					default:
					}
				}
			}
			c.tiers[tier] = true
		})
	}
}

func (ws *MesaWebsocketService) addClient(c *MesaClient, tiers []mesa.Tier) {
	ws.register(c, tiers)

	go c.writePump()
	go c.readPump()
}

func (ws *MesaWebsocketService) removeClient(c *MesaClient) {
	ws.mu.Lock()
	if _, ok := ws.clients[c]; ok {
		delete(ws.clients, c)
	}
	ws.mu.Unlock()
	c.Close()
}

func (c *MesaClient) Close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

func (c *MesaClient) readPump() {
	defer c.hub.removeClient(c)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("subscriber %s read error: %v", c.username, err)
			}
			return
		}
	}
}

func (c *MesaClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// LiveMesaWebsocketHandler upgrades the connection and subscribes the
// caller to mesa events, optionally scoped to one tier via ?tier=.
func (ws *MesaWebsocketService) LiveMesaWebsocketHandler(c *gin.Context) {
	userID, err := middleware.GetUserIDFromGinContext(c)
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}
	user, err := models.GetUserByID(userID)
	if err != nil {
		logger.Error("%v", err)
		c.Status(500)
		return
	}

	tiers := mesa.Tiers()
	if q := c.Query("tier"); q != "" {
		tier, err := mesa.ParseTier(q)
		if err != nil {
			c.JSON(400, gin.H{"error": "unknown tier"})
			return
		}
		tiers = []mesa.Tier{tier}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("%v", err)
		return
	}

	client := &MesaClient{
		username: user.Nickname,
		tiers:    make(map[mesa.Tier]bool),
		conn:     conn,
		hub:      ws,
		send:     make(chan []byte, 32),
	}
	ws.addClient(client, tiers)
}
