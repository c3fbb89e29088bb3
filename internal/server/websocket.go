package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/michaelbrown/labforge/internal/lab"
	"github.com/michaelbrown/labforge/internal/sandbox"
)

const (
	// wsWriteWait bounds a single write to a client that stopped reading.
	wsWriteWait = 10 * time.Second

	// wsMaxMessage leaves room for the JSON envelope around the code.
	wsMaxMessage = maxCodeBytes + 4<<10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the gateway handles auth
	},
}

// wsIncoming is a message from the client.
type wsIncoming struct {
	Type  string `json:"type"` // "submit" or "cancel"
	Code  string `json:"code"`
	RunID string `json:"run_id"`
}

// wsOutgoing is a message to the client.
type wsOutgoing struct {
	Type    string          `json:"type"`
	RunID   string          `json:"run_id,omitempty"`
	Stream  string          `json:"stream,omitempty"`
	Content string          `json:"content,omitempty"`
	Result  *submitResponse `json:"result,omitempty"`
}

// wsConn serializes writes; output lines arrive from two goroutines.
// After a failed write the connection is closed and later sends are dropped,
// which also ends the read loop and cancels any active run.
type wsConn struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	server    *Server
	writeWait time.Duration
	dead      bool
}

func (c *wsConn) send(v wsOutgoing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.server.logger.Error("websocket marshal error", "error", err)
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.server.logger.Debug("websocket write error", "error", err)
		c.dead = true
		c.conn.Close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Verify lab exists
	l := s.lookupLab(w, r)
	if l == nil {
		return
	}
	submitter := submitterFrom(r.Context())

	// Upgrade to WebSocket
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", "error", err)
		return
	}
	defer raw.Close()
	raw.SetReadLimit(wsMaxMessage)
	conn := &wsConn{conn: raw, server: s, writeWait: s.wsWriteWait}

	stop := make(chan struct{})
	defer close(stop)
	incoming := make(chan wsIncoming)
	gone := make(chan struct{})

	// Read loop; a read error means the client went away.
	go func() {
		defer close(gone)
		for {
			var msg wsIncoming
			if err := raw.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("websocket read error", "error", err)
				}
				return
			}
			select {
			case incoming <- msg:
			case <-stop:
				return
			}
		}
	}()

	var (
		active  *ActiveRun
		results chan lab.Result
	)
	for {
		select {
		case <-gone:
			if active != nil {
				active.cancel()
				<-results
			}
			return

		case res := <-results:
			resp := newSubmitResponse(res, active.ID)
			conn.send(wsOutgoing{Type: "result", RunID: active.ID, Result: &resp})
			active, results = nil, nil

		case msg := <-incoming:
			switch {
			case msg.Type == "cancel":
				if active != nil {
					active.cancel()
				}
			case msg.Type == "submit" && active != nil:
				conn.send(wsOutgoing{Type: "error", Content: ErrRunExists.Error()})
			case msg.Type == "submit" && msg.Code != "":
				run, ctx, err := s.runs.Start(context.Background(), msg.RunID, l.ID, submitter)
				if err != nil {
					conn.send(wsOutgoing{Type: "error", Content: err.Error()})
					continue
				}
				active, results = run, make(chan lab.Result, 1)
				conn.send(wsOutgoing{Type: "started", RunID: run.ID})
				go s.streamRun(ctx, conn, run, msg.Code, results)
			default:
				conn.send(wsOutgoing{Type: "error", Content: "invalid message"})
			}
		}
	}
}

// streamRun executes one submission, forwarding output lines as they arrive.
func (s *Server) streamRun(ctx context.Context, conn *wsConn, run *ActiveRun, code string, results chan<- lab.Result) {
	res := s.runner.RunLabStreaming(ctx, run.LabID, code, run.SubmitterID, func(line sandbox.Line) {
		conn.send(wsOutgoing{Type: "output", RunID: run.ID, Stream: line.Stream, Content: line.Text})
	})
	// Release the run ID before the client can see the result and reuse it.
	s.runs.Finish(run)
	results <- res
}
