package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/recap/logger"
	"github.com/teranos/recap/pulse/async"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Clients only send control frames
	maxMessageSize = 4096
)

// statusPollPeriod bounds how long a stream stays open after a dropped update
var statusPollPeriod = 2 * time.Second

// jobMessage is one pushed snapshot
type jobMessage struct {
	Type string      `json:"type"`
	Job  JobResponse `json:"job"`
}

// HandleJobStream handles GET /api/summary/jobs/{id}/ws.
// It sends the current snapshot, every change after it, and closes once the job is terminal.
func (s *Server) HandleJobStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Subscribe before the first snapshot so no transition falls in between
	updates := s.manager.Subscribe()
	defer s.manager.Unsubscribe(updates)

	// Resolve before upgrading so unknown ids get a plain 404
	job, err := s.manager.Status(r.Context(), id)
	if err != nil {
		writeServiceError(w, s.logger, err, "failed to get job")
		return
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", logger.FieldJobID, id, "error", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	closed := make(chan struct{})
	go s.drainReads(conn, closed)

	s.streamJob(conn, job, updates, closed)
}

// drainReads consumes control frames so pongs and close frames are processed
func (s *Server) drainReads(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) streamJob(conn *websocket.Conn, job *async.Job, updates <-chan *async.Job, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	poll := time.NewTicker(statusPollPeriod)
	defer func() {
		ticker.Stop()
		poll.Stop()
		conn.Close()
	}()

	send := func(j *async.Job) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(jobMessage{Type: "job_update", Job: toJobResponse(j)}); err != nil {
			s.logger.Debugw("Job stream write error", logger.FieldJobID, j.ID, "error", err)
			return false
		}
		return true
	}
	finish := func() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
	}

	if !send(job) {
		return
	}
	if job.Status.IsTerminal() {
		finish()
		return
	}
	last := job

	for {
		select {
		case <-s.ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-closed:
			return
		case j := <-updates:
			if j.ID != job.ID {
				continue
			}
			if !send(j) {
				return
			}
			last = j
			if j.Status.IsTerminal() {
				finish()
				return
			}
		case <-poll.C:
			// updates are dropped for slow subscribers; the manager's view is authoritative
			j, err := s.manager.Status(s.ctx, job.ID)
			if err != nil {
				s.logger.Debugw("Job stream status poll failed", logger.FieldJobID, job.ID, "error", err)
				continue
			}
			if j.Status == last.Status && j.Progress == last.Progress {
				continue
			}
			if !send(j) {
				return
			}
			last = j
			if j.Status.IsTerminal() {
				finish()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
