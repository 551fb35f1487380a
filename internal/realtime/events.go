// Package realtime fans committed board mutations out to websocket
// clients joined to the board's room, optionally through Redis so every
// process serves every room.
package realtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	EventListCreated    = "listCreated"
	EventListUpdated    = "listUpdated"
	EventListDeleted    = "listDeleted"
	EventTaskCreated    = "taskCreated"
	EventTasksUpdated   = "tasksUpdated"
	EventTaskDeleted    = "taskDeleted"
	EventCommentCreated = "commentCreated"
	EventBoardUpdated   = "boardUpdated"
	EventBoardDeleted   = "boardDeleted"
	EventMemberJoined   = "memberJoined"

	// Connection-level frames, never broadcast to a room.
	EventJoined = "joinedBoard"
	EventLeft   = "leftBoard"
	EventPing   = "ping"
	EventError  = "error"
)

const (
	MsgJoinBoard  = "joinBoard"
	MsgLeaveBoard = "leaveBoard"
	MsgPong       = "pong"
)

const roomPrefix = "board_"

// Frame is the server-to-client envelope.
type Frame struct {
	Event   string          `json:"event"`
	BoardID uint            `json:"boardId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is the client-to-server envelope.
type ClientMessage struct {
	Type    string `json:"type"`
	BoardID uint   `json:"boardId"`
	Token   string `json:"token,omitempty"`
}

func EncodeFrame(boardID uint, event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		data = raw
	}
	return json.Marshal(Frame{Event: event, BoardID: boardID, Data: data})
}

func RoomName(boardID uint) string {
	return roomPrefix + strconv.FormatUint(uint64(boardID), 10)
}

func ParseRoom(room string) (uint, bool) {
	if !strings.HasPrefix(room, roomPrefix) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(room, roomPrefix), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
