package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"taskboard/backend/internal/realtime"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

// Subscriber is a websocket client that joins board rooms and feeds the
// frames it receives into a Board.
type Subscriber struct {
	conn  *websocket.Conn
	board *Board

	writeMu sync.Mutex

	mu      sync.Mutex
	joined  map[uint]chan struct{}
	lastErr error
}

// Dial connects to a /ws endpoint. Frames are applied to board once Run
// is started.
func Dial(ctx context.Context, url string, header http.Header, board *Board) (*Subscriber, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Subscriber{
		conn:   conn,
		board:  board,
		joined: make(map[uint]chan struct{}),
	}, nil
}

func (s *Subscriber) Join(boardID uint, token string) error {
	s.mu.Lock()
	if _, ok := s.joined[boardID]; !ok {
		s.joined[boardID] = make(chan struct{})
	}
	s.mu.Unlock()
	return s.send(realtime.ClientMessage{Type: realtime.MsgJoinBoard, BoardID: boardID, Token: token})
}

func (s *Subscriber) Leave(boardID uint) error {
	return s.send(realtime.ClientMessage{Type: realtime.MsgLeaveBoard, BoardID: boardID})
}

// WaitJoined blocks until the server confirms the join requested with
// Join, or returns the error frame it sent instead.
func (s *Subscriber) WaitJoined(ctx context.Context, boardID uint) error {
	s.mu.Lock()
	ch, ok := s.joined[boardID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("board %d was never joined", boardID)
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			s.mu.Lock()
			err := s.lastErr
			s.mu.Unlock()
			if err != nil {
				return err
			}
			return ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			err := s.lastErr
			s.mu.Unlock()
			if err != nil {
				return err
			}
		}
	}
}

// Run reads frames until the connection closes or ctx is cancelled.
// Pings are answered with pongs.
func (s *Subscriber) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		var frame realtime.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.WithError(err).Warn("dropping malformed frame")
			continue
		}
		s.handle(frame)
	}
}

func (s *Subscriber) handle(frame realtime.Frame) {
	switch frame.Event {
	case realtime.EventPing:
		if err := s.send(realtime.ClientMessage{Type: realtime.MsgPong}); err != nil {
			log.WithError(err).Debug("pong failed")
		}
	case realtime.EventJoined:
		s.mu.Lock()
		if ch, ok := s.joined[frame.BoardID]; ok {
			select {
			case <-ch:
			default:
				close(ch)
			}
		}
		s.lastErr = nil
		s.mu.Unlock()
	case realtime.EventLeft:
		s.mu.Lock()
		delete(s.joined, frame.BoardID)
		s.mu.Unlock()
	case realtime.EventError:
		var body struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(frame.Data, &body)
		s.mu.Lock()
		s.lastErr = errors.New(body.Message)
		s.mu.Unlock()
		log.WithField("board_id", frame.BoardID).Warn("server rejected message: " + body.Message)
	default:
		if err := s.board.Apply(frame); err != nil {
			log.WithError(err).WithField("event", frame.Event).Warn("frame not applied")
		}
	}
}

func (s *Subscriber) send(msg realtime.ClientMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

func (s *Subscriber) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.writeMu.Unlock()
	return s.conn.Close()
}
