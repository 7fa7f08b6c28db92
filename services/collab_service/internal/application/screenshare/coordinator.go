package screenshare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/EthanQC/hrportal/pkg/zlog"
	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/sharing"
	"github.com/EthanQC/hrportal/services/collab_service/internal/metrics"
	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/in"
	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/out"
	collaberr "github.com/EthanQC/hrportal/services/collab_service/pkg/errors"
)

const (
	defaultStoreTimeout = 5 * time.Second
	// 共享超过该时长视为遗留会话
	defaultStaleAfter   = 24 * time.Hour
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Config 协调器配置
type Config struct {
	StoreTimeout time.Duration
	StaleAfter   time.Duration
	HistoryLimit int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		StoreTimeout: defaultStoreTimeout,
		StaleAfter:   defaultStaleAfter,
		HistoryLimit: defaultHistoryLimit,
	}
}

// sessionEntry 内存中的进行中会话，mu 串行化观看者变更与人数广播
type sessionEntry struct {
	session   *entity.ScreenShareSession
	viewers   []entity.Viewer
	lifecycle *sharing.Lifecycle
	mu        sync.Mutex
}

// Coordinator 屏幕共享协调器，存储为准，内存只是进行中会话的缓存
type Coordinator struct {
	cfg         Config
	repo        out.ScreenShareRepository
	broadcaster out.Broadcaster
	validate    *validator.Validate

	sessions    map[string]*sessionEntry // sessionID -> entry
	mu          sync.RWMutex
	targetLocks *keyedMutex

	now   func() time.Time
	newID func() string

	reaper *Reaper
}

// Option 可选配置
type Option func(*Coordinator)

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithIDGenerator 替换会话ID生成
func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

// NewCoordinator 创建协调器
func NewCoordinator(repo out.ScreenShareRepository, broadcaster out.Broadcaster, cfg Config, opts ...Option) *Coordinator {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.HistoryLimit <= 0 || cfg.HistoryLimit > maxHistoryLimit {
		cfg.HistoryLimit = defaultHistoryLimit
	}

	c := &Coordinator{
		cfg:         cfg,
		repo:        repo,
		broadcaster: broadcaster,
		validate:    validator.New(),
		sessions:    make(map[string]*sessionEntry),
		targetLocks: newKeyedMutex(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ in.ScreenShareUseCase = (*Coordinator)(nil)

// Rehydrate 启动时从存储恢复进行中会话和未离开的观看者，返回恢复的会话数
func (c *Coordinator) Rehydrate(ctx context.Context) (int, error) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()

	sessions, err := c.repo.ListActive(sctx)
	if err != nil {
		return 0, storeErr("list active sessions", err)
	}

	entries := make(map[string]*sessionEntry, len(sessions))
	for _, session := range sessions {
		viewers, err := c.repo.ListOpenViewers(sctx, session.SessionID)
		if err != nil {
			return 0, storeErr("list open viewers", err)
		}
		entries[session.SessionID] = &sessionEntry{
			session:   session,
			viewers:   lo.Map(viewers, func(v *entity.Viewer, _ int) entity.Viewer { return *v }),
			lifecycle: sharing.ActiveLifecycle(),
		}
	}

	c.mu.Lock()
	for id, entry := range entries {
		c.sessions[id] = entry
	}
	metrics.ActiveScreenShares.Set(float64(len(c.sessions)))
	c.mu.Unlock()

	zap.L().Info("screen share sessions rehydrated", zap.Int("sessions", len(entries)))
	return len(entries), nil
}

// StartSession 发起共享
func (c *Coordinator) StartSession(ctx context.Context, req *in.StartSessionRequest) (*entity.ScreenShareSession, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", collaberr.ErrValidation)
	}
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", collaberr.ErrValidation, err)
	}
	target, ok := entity.TargetOf(req.ChannelID, req.RoomID)
	if !ok {
		return nil, fmt.Errorf("%w: exactly one of channelId and roomId is required", collaberr.ErrValidation)
	}

	unlock := c.targetLocks.Lock(target.Key())
	defer unlock()

	active, err := c.GetActiveSession(ctx, req.ChannelID, req.RoomID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, collaberr.ErrSessionAlreadyActive
	}

	lifecycle := sharing.NewLifecycle()
	if err := lifecycle.Transition(sharing.EventStart); err != nil {
		return nil, err
	}

	shareType := req.ShareType
	if shareType == "" {
		shareType = entity.ShareTypeScreen
	}
	session := &entity.ScreenShareSession{
		SessionID:    c.newID(),
		Sharer:       req.Sharer(),
		ChannelID:    req.ChannelID,
		RoomID:       req.RoomID,
		ShareType:    shareType,
		AllowControl: req.AllowControl,
		Status:       entity.SessionStatusActive,
		SiteCode:     req.SiteCode,
	}

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if err := c.repo.Create(sctx, session); err != nil {
		if errors.Is(err, collaberr.ErrSessionAlreadyActive) {
			return nil, err
		}
		return nil, storeErr("create session", err)
	}

	c.mu.Lock()
	c.sessions[session.SessionID] = &sessionEntry{
		session:   session,
		viewers:   []entity.Viewer{},
		lifecycle: lifecycle,
	}
	metrics.ActiveScreenShares.Set(float64(len(c.sessions)))
	c.mu.Unlock()

	c.broadcast(ctx, target, entity.EventScreenShareStarted, startedPayload(session))

	zlog.C(ctx).Info("screen share started",
		zap.String("sessionId", session.SessionID),
		zap.Stringer("target", target),
		zap.String("sharerType", session.Sharer.Type),
		zap.Uint64("sharerId", session.Sharer.ID))

	copied := *session
	return &copied, nil
}

// EndSession 结束共享，内存中没有时以存储为准
func (c *Coordinator) EndSession(ctx context.Context, sessionID string, endedBy entity.Participant) (*entity.ScreenShareSession, error) {
	entry := c.lookup(sessionID)

	var target entity.Target
	if entry != nil {
		target = entry.session.Target()
	} else {
		sctx, cancel := c.storeCtx(ctx)
		stored, err := c.repo.GetBySessionID(sctx, sessionID)
		cancel()
		if err != nil {
			return nil, storeErr("get session", err)
		}
		if stored == nil || !stored.IsActive() {
			return nil, collaberr.ErrSessionNotFound
		}
		target = stored.Target()
	}

	unlock := c.targetLocks.Lock(target.Key())
	defer unlock()

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	ended, err := c.repo.MarkEnded(sctx, sessionID)
	if err != nil {
		return nil, storeErr("end session", err)
	}

	// 未命中说明已被并发结束或被回收
	c.forget(sessionID, sharing.EventEnd)
	if ended == nil {
		return nil, collaberr.ErrSessionNotFound
	}

	c.broadcast(ctx, target, entity.EventScreenShareEnded, sessionEnded{
		SessionID:       sessionID,
		EndedBy:         &endedBy,
		DurationSeconds: ended.DurationSeconds,
		Reason:          endReasonEnded,
	})

	zlog.C(ctx).Info("screen share ended",
		zap.String("sessionId", sessionID),
		zap.Stringer("target", target),
		zap.Int64p("durationSeconds", ended.DurationSeconds))
	return ended, nil
}

// AddViewer 观看者加入
func (c *Coordinator) AddViewer(ctx context.Context, sessionID string, viewer entity.Participant) (*in.ViewerCount, error) {
	entry := c.lookup(sessionID)
	if entry == nil {
		return nil, collaberr.ErrSessionNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.lifecycle.IsActive() {
		return nil, collaberr.ErrSessionNotFound
	}

	row := entity.Viewer{
		SessionID:  sessionID,
		ViewerType: viewer.Type,
		ViewerID:   viewer.ID,
		ViewerName: viewer.Name,
		JoinedAt:   c.now().UTC().Truncate(time.Second),
	}

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if err := c.repo.AddViewer(sctx, &row); err != nil {
		return nil, storeErr("add viewer", err)
	}

	entry.viewers = append(entry.viewers, row)
	count := len(entry.viewers)

	c.broadcast(ctx, entry.session.Target(), entity.EventScreenShareViewerJoined, viewerChanged{
		SessionID:   sessionID,
		Viewer:      viewer,
		ViewerCount: count,
	})
	return &in.ViewerCount{SessionID: sessionID, ViewerCount: count}, nil
}

// RemoveViewer 观看者离开，重复或迟到的调用不报错
func (c *Coordinator) RemoveViewer(ctx context.Context, sessionID string, viewer entity.Participant) (*in.ViewerCount, error) {
	entry := c.lookup(sessionID)
	if entry == nil {
		return nil, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.lifecycle.IsActive() {
		return nil, nil
	}

	isViewer := func(v entity.Viewer) bool { return v.Participant().Same(viewer) }
	if !lo.ContainsBy(entry.viewers, isViewer) {
		return &in.ViewerCount{SessionID: sessionID, ViewerCount: len(entry.viewers)}, nil
	}

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if _, err := c.repo.MarkViewerLeft(sctx, sessionID, viewer.Type, viewer.ID, c.now().UTC().Truncate(time.Second)); err != nil {
		return nil, storeErr("mark viewer left", err)
	}

	entry.viewers = lo.Reject(entry.viewers, func(v entity.Viewer, _ int) bool { return isViewer(v) })
	count := len(entry.viewers)

	c.broadcast(ctx, entry.session.Target(), entity.EventScreenShareViewerLeft, viewerChanged{
		SessionID:   sessionID,
		Viewer:      viewer,
		ViewerCount: count,
	})
	return &in.ViewerCount{SessionID: sessionID, ViewerCount: count}, nil
}

// GetActiveSession 以存储为准查询目标上的进行中会话
func (c *Coordinator) GetActiveSession(ctx context.Context, channelID, roomID uint64) (*entity.ScreenShareSession, error) {
	target, ok := entity.TargetOf(channelID, roomID)
	if !ok {
		return nil, fmt.Errorf("%w: exactly one of channelId and roomId is required", collaberr.ErrValidation)
	}

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	session, err := c.repo.FindActive(sctx, target)
	if err != nil {
		return nil, storeErr("find active session", err)
	}
	return session, nil
}

// GetSession 会话快照，已结束的会话从存储读取且不带观看者
func (c *Coordinator) GetSession(ctx context.Context, sessionID string) (*in.SessionSnapshot, error) {
	if entry := c.lookup(sessionID); entry != nil {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		session := *entry.session
		return &in.SessionSnapshot{
			Session: &session,
			Viewers: append([]entity.Viewer{}, entry.viewers...),
		}, nil
	}

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	stored, err := c.repo.GetBySessionID(sctx, sessionID)
	if err != nil {
		return nil, storeErr("get session", err)
	}
	if stored == nil {
		return nil, collaberr.ErrSessionNotFound
	}
	return &in.SessionSnapshot{Session: stored, Viewers: []entity.Viewer{}}, nil
}

// HandleSignaling 信令广播给整个频道/房间，客户端按参与者自行过滤
func (c *Coordinator) HandleSignaling(ctx context.Context, sessionID string, from entity.Participant, signal json.RawMessage) error {
	entry := c.lookup(sessionID)
	if entry == nil {
		zlog.C(ctx).Debug("signal for unknown session dropped", zap.String("sessionId", sessionID))
		return nil
	}

	c.broadcast(ctx, entry.session.Target(), entity.EventScreenShareSignal, signalRelayed{
		SessionID: sessionID,
		From:      from,
		Signal:    signal,
	})
	return nil
}

// RequestControl 请求远程控制，只广播请求本身
func (c *Coordinator) RequestControl(ctx context.Context, sessionID string, requester entity.Participant) error {
	entry := c.lookup(sessionID)
	if entry == nil {
		return collaberr.ErrSessionNotFound
	}
	if !entry.session.AllowControl {
		return collaberr.ErrControlNotAllowed
	}

	c.broadcast(ctx, entry.session.Target(), entity.EventScreenShareControlRequest, controlChanged{
		SessionID: sessionID,
		Sharer:    entry.session.Sharer,
		User:      &requester,
	})
	return nil
}

// GrantControl 授予远程控制
func (c *Coordinator) GrantControl(ctx context.Context, sessionID string, to entity.Participant) error {
	entry := c.lookup(sessionID)
	if entry == nil {
		return collaberr.ErrSessionNotFound
	}

	c.broadcast(ctx, entry.session.Target(), entity.EventScreenShareControlGranted, controlChanged{
		SessionID: sessionID,
		Sharer:    entry.session.Sharer,
		User:      &to,
	})
	return nil
}

// RevokeControl 收回远程控制
func (c *Coordinator) RevokeControl(ctx context.Context, sessionID string) error {
	entry := c.lookup(sessionID)
	if entry == nil {
		return collaberr.ErrSessionNotFound
	}

	c.broadcast(ctx, entry.session.Target(), entity.EventScreenShareControlRevoked, controlChanged{
		SessionID: sessionID,
		Sharer:    entry.session.Sharer,
	})
	return nil
}

// SendRemoteInput 转发远程输入
func (c *Coordinator) SendRemoteInput(ctx context.Context, sessionID string, input json.RawMessage) error {
	entry := c.lookup(sessionID)
	if entry == nil || !entry.session.AllowControl {
		return nil
	}

	c.broadcast(ctx, entry.session.Target(), entity.EventScreenShareRemoteInput, remoteInput{
		SessionID: sessionID,
		Input:     input,
	})
	return nil
}

// GetSessionHistory 历史会话，最新的在前
func (c *Coordinator) GetSessionHistory(ctx context.Context, channelID, roomID uint64, limit int) ([]*entity.ScreenShareSession, error) {
	target, ok := entity.TargetOf(channelID, roomID)
	if !ok {
		return nil, fmt.Errorf("%w: exactly one of channelId and roomId is required", collaberr.ErrValidation)
	}
	if limit <= 0 {
		limit = c.cfg.HistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	sessions, err := c.repo.ListHistory(sctx, target, limit)
	if err != nil {
		return nil, storeErr("list history", err)
	}
	return sessions, nil
}

// CleanupStaleSessions 结束开始时间超过 StaleAfter 的会话，返回存储中被结束的条数
// 截止时间按存储时钟计算，内存中对应的会话一并移除
func (c *Coordinator) CleanupStaleSessions(ctx context.Context) int64 {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	endedIDs, cutoff, err := c.repo.EndStale(sctx, c.cfg.StaleAfter)
	if err != nil {
		zlog.C(ctx).Error("cleanup stale screen shares failed", zap.Error(err))
		return 0
	}
	affected := int64(len(endedIDs))
	ended := lo.SliceToMap(endedIDs, func(id string) (string, struct{}) { return id, struct{}{} })

	c.mu.Lock()
	stale := make([]*sessionEntry, 0)
	for id, entry := range c.sessions {
		_, endedInStore := ended[id]
		if endedInStore || entry.session.StartedAt.Before(cutoff) {
			stale = append(stale, entry)
			delete(c.sessions, id)
		}
	}
	metrics.ActiveScreenShares.Set(float64(len(c.sessions)))
	c.mu.Unlock()

	for _, entry := range stale {
		entry.mu.Lock()
		_ = entry.lifecycle.Transition(sharing.EventExpire)
		entry.mu.Unlock()

		c.broadcast(ctx, entry.session.Target(), entity.EventScreenShareEnded, sessionEnded{
			SessionID: entry.session.SessionID,
			Reason:    endReasonStale,
		})
	}

	if affected > 0 || len(stale) > 0 {
		metrics.ScreenShareReaped.Add(float64(affected))
		zlog.C(ctx).Info("stale screen shares cleaned",
			zap.Int64("ended", affected),
			zap.Int("purged", len(stale)))
	}
	return affected
}

// ActiveCount 内存中进行中会话数
func (c *Coordinator) ActiveCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// StartReaper 启动定时回收，sweeps 会在每轮会话回收之后执行
func (c *Coordinator) StartReaper(cfg ReaperConfig, sweeps ...Sweep) error {
	c.mu.Lock()
	if c.reaper != nil {
		c.mu.Unlock()
		return errors.New("reaper already started")
	}
	c.reaper = NewReaper(cfg, append([]Sweep{c.sweepStale}, sweeps...)...)
	reaper := c.reaper
	c.mu.Unlock()

	return reaper.Start()
}

// Shutdown 停止后台回收
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	reaper := c.reaper
	c.reaper = nil
	c.mu.Unlock()

	if reaper != nil {
		reaper.Stop()
	}
}

func (c *Coordinator) sweepStale(ctx context.Context) {
	c.CleanupStaleSessions(ctx)
}

func (c *Coordinator) lookup(sessionID string) *sessionEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[sessionID]
}

// forget 移出内存并推进状态机
func (c *Coordinator) forget(sessionID string, event sharing.Event) {
	c.mu.Lock()
	entry, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	metrics.ActiveScreenShares.Set(float64(len(c.sessions)))
	c.mu.Unlock()

	if ok {
		entry.mu.Lock()
		_ = entry.lifecycle.Transition(event)
		entry.mu.Unlock()
	}
}

func (c *Coordinator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.StoreTimeout)
}

// broadcast 投递失败只记录日志，不回滚已提交的状态
func (c *Coordinator) broadcast(ctx context.Context, target entity.Target, t entity.EventType, data any) {
	if c.broadcaster == nil {
		return
	}
	if err := out.BroadcastTo(ctx, c.broadcaster, target, entity.NewEvent(t, data)); err != nil {
		zlog.C(ctx).Warn("screen share broadcast failed",
			zap.String("event", string(t)),
			zap.Stringer("target", target),
			zap.Error(err))
	}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", collaberr.ErrStore, op, err)
}
