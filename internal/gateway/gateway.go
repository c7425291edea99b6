package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"callsight/internal/hub"
	"callsight/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	readWait       = 60 * time.Second
	maxMessageSize = 1024
)

// CredentialVerifier authenticates a websocket credential before the
// connection is admitted to the hub.
type CredentialVerifier interface {
	VerifyCredential(token string) (userID, role string, err error)
}

// Gateway owns the websocket endpoint: it authenticates the caller, upgrades
// the connection, registers it with the hub and then serves the subscription
// protocol until the peer goes away. A connection that fails authentication
// is refused before the upgrade and leaves no subscription state behind.
type Gateway struct {
	verifier CredentialVerifier
	hub      *hub.Hub
	log      *slog.Logger
	metrics  *observability.Metrics
	buffer   int
	upgrader websocket.Upgrader
}

func New(verifier CredentialVerifier, h *hub.Hub, log *slog.Logger, metrics *observability.Metrics, buffer int) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		verifier: verifier,
		hub:      h,
		log:      log,
		metrics:  metrics,
		buffer:   buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The browser dashboard is served from a different origin than
			// the API. Identity comes from the verified credential, not the
			// Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS is the gin handler for GET /ws. The credential travels in the
// Authorization header or, for browser websocket clients, the "token" query
// parameter.
func (g *Gateway) HandleWS(c *gin.Context) {
	token := credentialFrom(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credential"})
		return
	}

	userID, role, err := g.verifier.VerifyCredential(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the handshake error response.
		g.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := hub.NewClient(uuid.NewString(), userID, conn, g.buffer)
	g.hub.Register(client)
	g.metrics.SetConnectedClients(g.hub.ClientCount())
	g.log.Info("viewer connected", "conn_id", client.ID, "user_id", userID, "role", role)

	go client.WritePump(g.log)

	g.sendEvent(client, "connected", map[string]string{"conn_id": client.ID})
	g.readLoop(client, conn)

	g.hub.Unregister(client)
	g.metrics.SetConnectedClients(g.hub.ClientCount())
	g.log.Info("viewer disconnected", "conn_id", client.ID, "user_id", userID)
}

func (g *Gateway) readLoop(client *hub.Client, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Debug("websocket read failed", "conn_id", client.ID, "err", err)
			}
			return
		}

		msg, err := ParseClientMessage(raw)
		if err != nil {
			g.sendEvent(client, "error", map[string]string{"reason": "bad message"})
			continue
		}

		switch msg.Action {
		case ActionPing:
			g.sendEvent(client, "pong", nil)
		case ActionSubscribe:
			topics := topicsFor(msg)
			for _, tp := range topics {
				g.hub.Subscribe(client, tp)
			}
			g.sendEvent(client, "subscribed", subscriptionAck{CallID: msg.CallID, Topics: topics})
		case ActionUnsubscribe:
			topics := topicsFor(msg)
			for _, tp := range topics {
				g.hub.Unsubscribe(client, tp)
			}
			g.sendEvent(client, "unsubscribed", subscriptionAck{CallID: msg.CallID, Topics: topics})
		}
	}
}

type subscriptionAck struct {
	CallID string   `json:"call_id,omitempty"`
	Topics []string `json:"topics"`
}

// topicsFor resolves a client message to hub topics. Subscribing by call id
// joins both the call-state topic and its strategy topic.
func topicsFor(msg ClientMessage) []string {
	if msg.Topic != "" {
		return []string{msg.Topic}
	}
	return []string{hub.TopicCall(msg.CallID), hub.TopicStrategy(msg.CallID)}
}

// sendEvent writes a control event directly to one client. Control events use
// the same envelope as fanned-out topic events so clients need a single
// decoder.
func (g *Gateway) sendEvent(client *hub.Client, event string, payload any) {
	raw, err := json.Marshal(hub.Envelope{
		Event:     event,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if !client.Send(raw) {
		g.log.Debug("control event dropped", "conn_id", client.ID, "event", event)
	}
}

func credentialFrom(c *gin.Context) string {
	const bearerPrefix = "Bearer "
	raw := c.GetHeader("Authorization")
	if len(raw) > len(bearerPrefix) && raw[:len(bearerPrefix)] == bearerPrefix {
		return raw[len(bearerPrefix):]
	}
	return c.Query("token")
}
