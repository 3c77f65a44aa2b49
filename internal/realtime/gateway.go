package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smallbiznis/tableside/internal/config"
	"github.com/smallbiznis/tableside/internal/observability/logger"
	"github.com/smallbiznis/tableside/internal/observability/metrics"
	"github.com/smallbiznis/tableside/internal/restaurantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type GatewayParams struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	Realtime *config.RealtimeConfigHolder `optional:"true"`
	Registry *Registry
	Bus      *Bus
	Metrics  *metrics.RealtimeMetrics `optional:"true"`
}

// Gateway upgrades HTTP requests to sockets and runs one reader and one
// writer goroutine per connection.
type Gateway struct {
	log      *zap.Logger
	settings *config.RealtimeConfigHolder
	registry *Registry
	bus      *Bus
	metrics  *metrics.RealtimeMetrics
	upgrader websocket.Upgrader
}

func NewGateway(p GatewayParams) *Gateway {
	cfg := p.Config
	return &Gateway{
		log:      p.Log.Named("realtime.gateway"),
		settings: p.Realtime,
		registry: p.Registry,
		bus:      p.Bus,
		metrics:  p.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || cfg.OriginAllowed(origin)
			},
		},
	}
}

// ServeHTTP expects the restaurant and actor to already be on the request
// context.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := restaurantctx.RestaurantIDFromContext(r.Context())
	if !ok {
		http.Error(w, ErrUnauthenticated.Error(), http.StatusUnauthorized)
		return
	}
	actor, ok := restaurantctx.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, ErrUnauthenticated.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	settings := g.settings.Get()
	userID := ""
	if actor.Role == restaurantctx.RoleCustomer {
		userID = actor.UserID
	}
	session := NewSession(restaurantID, userID, actor.Role, settings.SendBuffer)
	log := logger.WithSession(g.log, session.ID, restaurantID.String(), string(actor.Role))

	g.registry.Register(session)
	g.metrics.SessionOpened()
	defer func() {
		g.registry.Disconnect(session.ID)
		g.metrics.SessionClosed()
		log.Debug("socket closed")
	}()

	for _, target := range DefaultRooms(session) {
		if err := g.registry.Join(session.ID, target); err != nil {
			log.Warn("auto join failed", zap.String("room", target.Name()), zap.Error(err))
			continue
		}
		_ = g.bus.SendTo(session, ControlReply{Event: EventRoomJoined, Room: target.LocalName(), SessionID: session.ID})
	}
	log.Debug("socket opened")

	go g.writeLoop(conn, session, settings, log)
	g.readLoop(conn, session, settings, log)
}

func (g *Gateway) readLoop(conn *websocket.Conn, session *Session, settings config.RealtimeConfig, log *zap.Logger) {
	defer conn.Close()

	if settings.MaxMessageSize > 0 {
		conn.SetReadLimit(settings.MaxMessageSize)
	}
	_ = conn.SetReadDeadline(time.Now().Add(settings.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(settings.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug("socket read failed", zap.Error(err))
			}
			return
		}
		g.handleControl(session, data, log)
	}
}

func (g *Gateway) handleControl(session *Session, data []byte, log *zap.Logger) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = g.bus.SendTo(session, ControlReply{Event: EventError, Code: "invalid_message"})
		return
	}

	switch msg.Type {
	case ControlJoinRoom, ControlLeaveRoom:
	default:
		_ = g.bus.SendTo(session, ControlReply{Event: EventError, Code: "unknown_type"})
		return
	}

	target, err := ParseLocalRoom(session.RestaurantID, msg.Room)
	if err != nil {
		_ = g.bus.SendTo(session, ControlReply{Event: EventError, Code: ErrUnknownRoom.Error(), Room: msg.Room})
		return
	}

	if msg.Type == ControlLeaveRoom {
		g.registry.Leave(session.ID, target)
		_ = g.bus.SendTo(session, ControlReply{Event: EventRoomLeft, Room: target.LocalName(), SessionID: session.ID})
		return
	}

	if err := g.registry.Join(session.ID, target); err != nil {
		log.Info("room join refused", zap.String("room", target.Name()), zap.Error(err))
		_ = g.bus.SendTo(session, ControlReply{Event: EventError, Code: err.Error(), Room: msg.Room})
		return
	}
	_ = g.bus.SendTo(session, ControlReply{Event: EventRoomJoined, Room: target.LocalName(), SessionID: session.ID})
}

// writeLoop owns all writes on conn. It exits when the session closes or a
// write fails; closing conn then unblocks the reader.
func (g *Gateway) writeLoop(conn *websocket.Conn, session *Session, settings config.RealtimeConfig, log *zap.Logger) {
	ticker := time.NewTicker(settings.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-session.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(settings.WriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				g.metrics.IncWriteFailure("write")
				log.Debug("socket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(settings.WriteWait)); err != nil {
				log.Debug("socket ping failed", zap.Error(err))
				return
			}
		}
	}
}
