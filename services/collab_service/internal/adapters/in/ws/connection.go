package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
)

const (
	// 写超时
	writeWait = 10 * time.Second
	// Pong等待时间
	pongWait = 60 * time.Second
	// Ping周期（必须小于pongWait）
	pingPeriod = 30 * time.Second
	// 最大消息大小
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var (
	errConnClosed = errors.New("connection closed")
	errSendFull   = errors.New("send buffer full")
)

// Connection 单条 WebSocket 连接，同一用户可以有多条
type Connection struct {
	id          string
	conn        *websocket.Conn
	user        entity.Participant
	hub         *Hub
	send        chan []byte
	connectedAt time.Time

	// 保护 send 的关闭
	mu     sync.Mutex
	closed bool

	// 只在 hub.mu 下访问
	channels map[uint64]struct{}
	rooms    map[uint64]struct{}
}

func newConnection(conn *websocket.Conn, user entity.Participant, hub *Hub) *Connection {
	return &Connection{
		id:          uuid.NewString(),
		conn:        conn,
		user:        user,
		hub:         hub,
		send:        make(chan []byte, sendBufferSize),
		connectedAt: time.Now(),
		channels:    make(map[uint64]struct{}),
		rooms:       make(map[uint64]struct{}),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) User() entity.Participant { return c.user }

// Send 非阻塞写入发送队列
func (c *Connection) Send(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- message:
		return nil
	default:
		return errSendFull
	}
}

// Close 关闭发送队列，WritePump 随后关闭底层连接
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump 读取消息，返回时注销连接
func (c *Connection) ReadPump() {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.hub.touch(c)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				zap.L().Warn("WebSocket error", zap.Uint64("userID", c.user.ID), zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

// WritePump 写出消息并定时 ping
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				zap.L().Warn("Write error", zap.Uint64("userID", c.user.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid message format")
		return
	}

	ctx := context.Background()

	switch msg.Type {
	case MsgTypePing:
		c.hub.touch(c)
		c.sendJSON(WSMessage{Type: MsgTypePong, ID: msg.ID, Ts: time.Now().UnixMilli()})

	case MsgTypeActivity:
		c.hub.touch(c)
		c.sendOK(msg.ID)

	case MsgTypePresenceSubscribe, MsgTypePresenceUnsubscribe:
		c.handlePresenceSubscription(msg)

	case MsgTypeJoinChannel, MsgTypeLeaveChannel, MsgTypeJoinRoom, MsgTypeLeaveRoom:
		c.handleMembership(msg)

	case MsgTypeScreenShareSignal:
		c.handleSignal(ctx, msg)

	case MsgTypeRemoteInput:
		c.handleRemoteInput(ctx, msg)

	default:
		c.sendError(msg.ID, "unknown message type")
	}
}

func (c *Connection) handlePresenceSubscription(msg WSMessage) {
	var data PresenceSubscribeData
	if err := json.Unmarshal(msg.Data, &data); err != nil || len(data.UserIDs) == 0 {
		c.sendError(msg.ID, "invalid presence subscription")
		return
	}

	presence := c.hub.presence
	if presence == nil {
		c.sendError(msg.ID, "presence service unavailable")
		return
	}

	if msg.Type == MsgTypePresenceUnsubscribe {
		for _, target := range data.UserIDs {
			presence.UnsubscribeFromUser(target, c.user.ID)
		}
		c.sendOK(msg.ID)
		return
	}

	for _, target := range data.UserIDs {
		presence.SubscribeToUser(target, c.user.ID)
	}
	// 订阅后立即回一份当前状态
	statuses, _ := json.Marshal(presence.GetBulkStatus(data.UserIDs))
	c.sendJSON(WSMessage{Type: MsgTypeNotify, ID: msg.ID, Data: statuses, Ts: time.Now().UnixMilli()})
}

func (c *Connection) handleMembership(msg WSMessage) {
	var data MembershipData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		c.sendError(msg.ID, "invalid membership data")
		return
	}

	switch msg.Type {
	case MsgTypeJoinChannel:
		c.hub.JoinChannel(c, data.ChannelID)
	case MsgTypeLeaveChannel:
		c.hub.LeaveChannel(c, data.ChannelID)
	case MsgTypeJoinRoom:
		if data.RoomID == 0 {
			c.sendError(msg.ID, "roomId is required")
			return
		}
		c.hub.JoinRoom(c, data.RoomID)
	case MsgTypeLeaveRoom:
		c.hub.LeaveRoom(c, data.RoomID)
	}
	c.sendOK(msg.ID)
}

func (c *Connection) handleSignal(ctx context.Context, msg WSMessage) {
	var data SignalData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.SessionID == "" {
		c.sendError(msg.ID, "invalid signaling data")
		return
	}
	if c.hub.screenShare == nil {
		c.sendError(msg.ID, "screen share service unavailable")
		return
	}

	if err := c.hub.screenShare.HandleSignaling(ctx, data.SessionID, c.user, data.Signal); err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}
	c.sendOK(msg.ID)
}

func (c *Connection) handleRemoteInput(ctx context.Context, msg WSMessage) {
	var data RemoteInputData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.SessionID == "" {
		c.sendError(msg.ID, "invalid remote input")
		return
	}
	if c.hub.screenShare == nil {
		c.sendError(msg.ID, "screen share service unavailable")
		return
	}

	if err := c.hub.screenShare.SendRemoteInput(ctx, data.SessionID, data.Input); err != nil {
		c.sendError(msg.ID, err.Error())
	}
}

func (c *Connection) sendJSON(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = c.Send(data)
}

func (c *Connection) sendOK(msgID string) {
	c.sendJSON(WSMessage{
		Type: MsgTypeNotify,
		ID:   msgID,
		Data: json.RawMessage(`{"status":"ok"}`),
		Ts:   time.Now().UnixMilli(),
	})
}

func (c *Connection) sendError(msgID, errMsg string) {
	errData, _ := json.Marshal(map[string]string{"error": errMsg})
	c.sendJSON(WSMessage{
		Type: MsgTypeError,
		ID:   msgID,
		Data: errData,
		Ts:   time.Now().UnixMilli(),
	})
}
