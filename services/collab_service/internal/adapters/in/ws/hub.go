package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/in"
	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/out"
)

// Hub 本节点的连接管理，同时是本地投递的 Broadcaster
type Hub struct {
	users    map[uint64]map[string]*Connection // userID -> connID -> connection
	channels map[uint64]map[string]*Connection // channelID -> connID -> connection
	rooms    map[uint64]map[string]*Connection // roomID -> connID -> connection
	mu       sync.RWMutex

	presence    in.PresenceUseCase
	screenShare in.ScreenShareUseCase
	upgrader    websocket.Upgrader

	// 统计
	totalConns int64
	totalMsgs  int64
}

// NewHub 创建连接管理器
func NewHub() *Hub {
	return &Hub{
		users:    make(map[uint64]map[string]*Connection),
		channels: make(map[uint64]map[string]*Connection),
		rooms:    make(map[uint64]map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // 由网关校验 Origin
			},
		},
	}
}

// SetUseCases 注入用例，presence 依赖 hub 投递，所以不能放在构造函数里
func (h *Hub) SetUseCases(presence in.PresenceUseCase, screenShare in.ScreenShareUseCase) {
	h.presence = presence
	h.screenShare = screenShare
}

var _ out.Broadcaster = (*Hub)(nil)

// HandleConnection 升级连接并启动读写协程
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request, user entity.Participant) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("WebSocket upgrade error", zap.Error(err))
		return
	}

	c := newConnection(conn, user, h)
	h.Register(r.Context(), c)

	go c.WritePump()
	go c.ReadPump()

	welcomeData, _ := json.Marshal(map[string]interface{}{
		"status":       "connected",
		"userId":       user.ID,
		"userType":     user.Type,
		"connectionId": c.id,
		"serverTime":   time.Now().UnixMilli(),
	})
	c.sendJSON(WSMessage{
		Type: MsgTypeNotify,
		Data: welcomeData,
		Ts:   time.Now().UnixMilli(),
	})
}

// Register 登记连接并上线
func (h *Hub) Register(ctx context.Context, c *Connection) {
	h.mu.Lock()
	devices, ok := h.users[c.user.ID]
	if !ok {
		devices = make(map[string]*Connection)
		h.users[c.user.ID] = devices
	}
	devices[c.id] = c
	h.mu.Unlock()
	total := atomic.AddInt64(&h.totalConns, 1)

	if h.presence != nil {
		h.presence.SetOnline(ctx, c.user.ID, c.user.Type)
	}

	zap.L().Info("Connection registered",
		zap.Uint64("userID", c.user.ID),
		zap.String("connID", c.id),
		zap.Int64("totalConns", total))
}

// Unregister 注销连接，清理频道/房间成员关系并下线
// 最后一条连接断开时取消该用户的全部在线状态订阅
func (h *Hub) Unregister(c *Connection) {
	h.mu.Lock()
	devices, ok := h.users[c.user.ID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := devices[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(devices, c.id)
	lastConn := len(devices) == 0
	if lastConn {
		delete(h.users, c.user.ID)
	}
	for channelID := range c.channels {
		removeMember(h.channels, channelID, c.id)
	}
	for roomID := range c.rooms {
		removeMember(h.rooms, roomID, c.id)
	}
	c.channels = map[uint64]struct{}{}
	c.rooms = map[uint64]struct{}{}
	h.mu.Unlock()

	c.Close()
	total := atomic.AddInt64(&h.totalConns, -1)

	if h.presence != nil {
		ctx := context.Background()
		h.presence.SetOffline(ctx, c.user.ID)
		if lastConn {
			h.presence.UnsubscribeAll(c.user.ID)
		}
	}

	zap.L().Info("Connection unregistered",
		zap.Uint64("userID", c.user.ID),
		zap.String("connID", c.id),
		zap.Int64("totalConns", total))
}

func (h *Hub) JoinChannel(c *Connection, channelID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	addMember(h.channels, channelID, c)
	c.channels[channelID] = struct{}{}
}

func (h *Hub) LeaveChannel(c *Connection, channelID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	removeMember(h.channels, channelID, c.id)
	delete(c.channels, channelID)
}

func (h *Hub) JoinRoom(c *Connection, roomID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	addMember(h.rooms, roomID, c)
	c.rooms[roomID] = struct{}{}
}

func (h *Hub) LeaveRoom(c *Connection, roomID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	removeMember(h.rooms, roomID, c.id)
	delete(c.rooms, roomID)
}

func (h *Hub) BroadcastToChannel(ctx context.Context, channelID uint64, event *entity.Event) error {
	return h.deliver(h.channels, channelID, event)
}

func (h *Hub) BroadcastToRoom(ctx context.Context, roomID uint64, event *entity.Event) error {
	return h.deliver(h.rooms, roomID, event)
}

// SendToUser 投递给用户的所有设备，用户不在本节点时什么也不做
func (h *Hub) SendToUser(ctx context.Context, userID uint64, event *entity.Event) error {
	return h.deliver(h.users, userID, event)
}

func (h *Hub) deliver(index map[uint64]map[string]*Connection, id uint64, event *entity.Event) error {
	h.mu.RLock()
	members := make([]*Connection, 0, len(index[id]))
	for _, c := range index[id] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	if len(members) == 0 {
		return nil
	}

	message, err := encodeEvent(event)
	if err != nil {
		return err
	}
	for _, c := range members {
		if err := c.Send(message); err != nil {
			zap.L().Warn("Failed to send event to connection",
				zap.Uint64("userID", c.user.ID),
				zap.String("event", string(event.Type)),
				zap.Error(err))
		}
	}
	atomic.AddInt64(&h.totalMsgs, int64(len(members)))
	return nil
}

func (h *Hub) touch(c *Connection) {
	if h.presence != nil {
		h.presence.UpdateActivity(context.Background(), c.user.ID)
	}
}

// CloseAll 关闭全部连接，进程退出时调用
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var conns []*Connection
	for _, devices := range h.users {
		for _, c := range devices {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}

// GetStats 获取统计信息
func (h *Hub) GetStats() map[string]int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]int64{
		"total_connections": atomic.LoadInt64(&h.totalConns),
		"total_messages":    atomic.LoadInt64(&h.totalMsgs),
		"online_users":      int64(len(h.users)),
		"channels":          int64(len(h.channels)),
		"rooms":             int64(len(h.rooms)),
	}
}

func addMember(index map[uint64]map[string]*Connection, id uint64, c *Connection) {
	members, ok := index[id]
	if !ok {
		members = make(map[string]*Connection)
		index[id] = members
	}
	members[c.id] = c
}

func removeMember(index map[uint64]map[string]*Connection, id uint64, connID string) {
	members, ok := index[id]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(index, id)
	}
}
