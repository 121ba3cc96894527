package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stevemurr/agentbench/dal"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type frame map[string]any

type outgoing struct {
	frame frame
	last  bool
}

// subscriber is the sending side of one websocket stream. send blocks until
// the frame is queued or the stream is gone.
type subscriber struct {
	ctx context.Context
	out chan outgoing
}

func (s *subscriber) send(f frame, last bool) {
	select {
	case s.out <- outgoing{frame: f, last: last}:
	case <-s.ctx.Done():
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, dal.ErrNotFound)
}

// stream upgrades the request to a websocket and forwards the frames the
// subscription sends until the client goes away or a last frame is written.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, subscribe func(*subscriber) dal.Unsubscribe) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Str("path", r.URL.Path).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s := &subscriber{ctx: ctx, out: make(chan outgoing, 8)}
	unsubscribe := subscribe(s)
	defer unsubscribe()

	// The read loop only watches for the client closing the socket.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case o := <-s.out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(o.frame); err != nil {
				h.log.Debug().Err(err).Str("path", r.URL.Path).Msg("websocket write failed")
				return
			}
			if o.last {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
		}
	}
}
