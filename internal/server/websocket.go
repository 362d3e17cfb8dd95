package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/relay"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // rooms are unauthenticated
	},
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	member, err := s.hub.Join(r.Context(), roomID)
	if err != nil {
		s.logger.Error("joining room", zap.String("room", roomID), zap.Error(err))
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "relay unavailable")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return
	}
	defer s.hub.Leave(member)

	if s.store != nil {
		if _, err := s.store.TouchRoom(r.Context(), roomID); err != nil {
			s.logger.Warn("recording join", zap.String("room", roomID), zap.Error(err))
		}
	}

	go s.writePump(conn, member)

	// Read loop
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", zap.String("room", roomID), zap.Error(err))
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		if err := s.hub.Broadcast(r.Context(), member, data); err != nil {
			s.logger.Warn("broadcast failed", zap.String("room", roomID), zap.Error(err))
		}
	}
}

// writePump forwards frames queued for member. A failed write drops the
// member; closing the connection ends the read loop.
func (s *Server) writePump(conn *websocket.Conn, member *relay.Member) {
	defer conn.Close()
	for data := range member.Outbound() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debug("websocket write failed", zap.String("room", member.Room), zap.Error(err))
			s.hub.Leave(member)
			return
		}
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
