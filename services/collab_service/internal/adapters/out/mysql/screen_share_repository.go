package mysql

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/out"
	collaberr "github.com/EthanQC/hrportal/services/collab_service/pkg/errors"
)

// ScreenShareSessionModel GORM模型
type ScreenShareSessionModel struct {
	ID              uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID       string     `gorm:"column:session_id;type:varchar(64);not null;uniqueIndex"`
	SharerType      string     `gorm:"column:sharer_type;type:varchar(32);not null"`
	SharerID        uint64     `gorm:"column:sharer_id;not null"`
	SharerName      string     `gorm:"column:sharer_name;type:varchar(128)"`
	ChannelID       *uint64    `gorm:"column:channel_id;index:idx_channel_status,priority:1"`
	RoomID          *uint64    `gorm:"column:room_id;index:idx_room_status,priority:1"`
	ShareType       string     `gorm:"column:share_type;type:varchar(16);not null;default:screen"`
	AllowControl    bool       `gorm:"column:allow_control;not null;default:false"`
	Status          string     `gorm:"column:status;type:varchar(16);not null;index:idx_channel_status,priority:2;index:idx_room_status,priority:2"`
	StartedAt       time.Time  `gorm:"column:started_at;not null"`
	EndedAt         *time.Time `gorm:"column:ended_at"`
	DurationSeconds *int64     `gorm:"column:duration_seconds"`
	SiteCode        string     `gorm:"column:site_code;type:varchar(32)"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (ScreenShareSessionModel) TableName() string {
	return "screen_share_sessions"
}

func (m *ScreenShareSessionModel) toEntity() *entity.ScreenShareSession {
	return &entity.ScreenShareSession{
		SessionID: m.SessionID,
		Sharer: entity.Participant{
			Type: m.SharerType,
			ID:   m.SharerID,
			Name: m.SharerName,
		},
		ChannelID:       lo.FromPtr(m.ChannelID),
		RoomID:          lo.FromPtr(m.RoomID),
		ShareType:       entity.ShareType(m.ShareType),
		AllowControl:    m.AllowControl,
		Status:          entity.SessionStatus(m.Status),
		StartedAt:       m.StartedAt.UTC(),
		EndedAt:         utcPtr(m.EndedAt),
		DurationSeconds: m.DurationSeconds,
		SiteCode:        m.SiteCode,
	}
}

func sessionModelFromEntity(e *entity.ScreenShareSession) *ScreenShareSessionModel {
	return &ScreenShareSessionModel{
		SessionID:       e.SessionID,
		SharerType:      e.Sharer.Type,
		SharerID:        e.Sharer.ID,
		SharerName:      e.Sharer.Name,
		ChannelID:       lo.EmptyableToPtr(e.ChannelID),
		RoomID:          lo.EmptyableToPtr(e.RoomID),
		ShareType:       string(e.ShareType),
		AllowControl:    e.AllowControl,
		Status:          string(e.Status),
		StartedAt:       e.StartedAt,
		EndedAt:         e.EndedAt,
		DurationSeconds: e.DurationSeconds,
		SiteCode:        e.SiteCode,
	}
}

// ScreenShareViewerModel GORM模型，每次加入一条记录
type ScreenShareViewerModel struct {
	ID         uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID  string     `gorm:"column:session_id;type:varchar(64);not null;index:idx_viewer_identity,priority:1"`
	ViewerType string     `gorm:"column:viewer_type;type:varchar(32);not null;index:idx_viewer_identity,priority:2"`
	ViewerID   uint64     `gorm:"column:viewer_id;not null;index:idx_viewer_identity,priority:3"`
	ViewerName string     `gorm:"column:viewer_name;type:varchar(128)"`
	JoinedAt   time.Time  `gorm:"column:joined_at;not null"`
	LeftAt     *time.Time `gorm:"column:left_at"`
}

func (ScreenShareViewerModel) TableName() string {
	return "screen_share_viewers"
}

func (m *ScreenShareViewerModel) toEntity() *entity.Viewer {
	return &entity.Viewer{
		SessionID:  m.SessionID,
		ViewerType: m.ViewerType,
		ViewerID:   m.ViewerID,
		ViewerName: m.ViewerName,
		JoinedAt:   m.JoinedAt.UTC(),
		LeftAt:     utcPtr(m.LeftAt),
	}
}

// AutoMigrate 建表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ScreenShareSessionModel{}, &ScreenShareViewerModel{}, &EmployeeModel{})
}

// ScreenShareRepositoryMySQL 屏幕共享仓储实现
type ScreenShareRepositoryMySQL struct {
	db *gorm.DB
}

func NewScreenShareRepositoryMySQL(db *gorm.DB) out.ScreenShareRepository {
	return &ScreenShareRepositoryMySQL{db: db}
}

// Create 未指定开始时间时取数据库时钟，回写到 session
func (r *ScreenShareRepositoryMySQL) Create(ctx context.Context, session *entity.ScreenShareSession) error {
	db := r.db.WithContext(ctx)
	if session.StartedAt.IsZero() {
		now, err := dbNow(db)
		if err != nil {
			return err
		}
		session.StartedAt = now
	}

	model := sessionModelFromEntity(session)
	if err := db.Create(model).Error; err != nil {
		if isDuplicateKey(err) {
			return collaberr.ErrSessionAlreadyActive
		}
		return err
	}
	return nil
}

func (r *ScreenShareRepositoryMySQL) GetBySessionID(ctx context.Context, sessionID string) (*entity.ScreenShareSession, error) {
	var model ScreenShareSessionModel
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.toEntity(), nil
}

func (r *ScreenShareRepositoryMySQL) FindActive(ctx context.Context, target entity.Target) (*entity.ScreenShareSession, error) {
	var model ScreenShareSessionModel
	err := r.byTarget(ctx, target).
		Where("status = ?", entity.SessionStatusActive).
		Order("started_at DESC, id DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.toEntity(), nil
}

func (r *ScreenShareRepositoryMySQL) ListActive(ctx context.Context) ([]*entity.ScreenShareSession, error) {
	var models []ScreenShareSessionModel
	err := r.db.WithContext(ctx).
		Where("status = ?", entity.SessionStatusActive).
		Order("started_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return lo.Map(models, func(m ScreenShareSessionModel, _ int) *entity.ScreenShareSession { return m.toEntity() }), nil
}

// MarkEnded 状态条件更新后回读，结束时间和时长都按数据库时钟
func (r *ScreenShareRepositoryMySQL) MarkEnded(ctx context.Context, sessionID string) (*entity.ScreenShareSession, error) {
	var ended *entity.ScreenShareSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now, err := dbNow(tx)
		if err != nil {
			return err
		}
		res := tx.Model(&ScreenShareSessionModel{}).
			Where("session_id = ? AND status = ?", sessionID, entity.SessionStatusActive).
			Updates(r.endColumns(now))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		var model ScreenShareSessionModel
		if err := tx.Where("session_id = ?", sessionID).First(&model).Error; err != nil {
			return err
		}
		ended = model.toEntity()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ended, nil
}

// EndStale 结束开始超过 maxAge 的进行中会话，返回被结束的会话ID和使用的截止时间
func (r *ScreenShareRepositoryMySQL) EndStale(ctx context.Context, maxAge time.Duration) ([]string, time.Time, error) {
	var (
		ids    []string
		cutoff time.Time
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now, err := dbNow(tx)
		if err != nil {
			return err
		}
		cutoff = now.Add(-maxAge)

		if err := tx.Model(&ScreenShareSessionModel{}).
			Where("status = ? AND started_at < ?", entity.SessionStatusActive, cutoff).
			Order("id ASC").
			Pluck("session_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&ScreenShareSessionModel{}).
			Where("session_id IN ? AND status = ?", ids, entity.SessionStatusActive).
			Updates(r.endColumns(now)).Error
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return ids, cutoff, nil
}

func (r *ScreenShareRepositoryMySQL) ListHistory(ctx context.Context, target entity.Target, limit int) ([]*entity.ScreenShareSession, error) {
	var models []ScreenShareSessionModel
	err := r.byTarget(ctx, target).
		Order("started_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return lo.Map(models, func(m ScreenShareSessionModel, _ int) *entity.ScreenShareSession { return m.toEntity() }), nil
}

func (r *ScreenShareRepositoryMySQL) AddViewer(ctx context.Context, viewer *entity.Viewer) error {
	model := &ScreenShareViewerModel{
		SessionID:  viewer.SessionID,
		ViewerType: viewer.ViewerType,
		ViewerID:   viewer.ViewerID,
		ViewerName: viewer.ViewerName,
		JoinedAt:   viewer.JoinedAt,
		LeftAt:     viewer.LeftAt,
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *ScreenShareRepositoryMySQL) MarkViewerLeft(ctx context.Context, sessionID, viewerType string, viewerID uint64, leftAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&ScreenShareViewerModel{}).
		Where("session_id = ? AND viewer_type = ? AND viewer_id = ? AND left_at IS NULL", sessionID, viewerType, viewerID).
		Update("left_at", leftAt)
	return res.RowsAffected, res.Error
}

func (r *ScreenShareRepositoryMySQL) ListOpenViewers(ctx context.Context, sessionID string) ([]*entity.Viewer, error) {
	var models []ScreenShareViewerModel
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND left_at IS NULL", sessionID).
		Order("joined_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return lo.Map(models, func(m ScreenShareViewerModel, _ int) *entity.Viewer { return m.toEntity() }), nil
}

func (r *ScreenShareRepositoryMySQL) byTarget(ctx context.Context, target entity.Target) *gorm.DB {
	db := r.db.WithContext(ctx)
	if target.Kind == entity.TargetRoom {
		return db.Where("room_id = ?", target.ID)
	}
	return db.Where("channel_id = ?", target.ID)
}

func (r *ScreenShareRepositoryMySQL) endColumns(endedAt time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":           entity.SessionStatusEnded,
		"ended_at":         endedAt,
		"duration_seconds": gorm.Expr(durationExpr(r.db.Dialector.Name()), endedAt),
		"updated_at":       endedAt,
	}
}

// durationExpr ended_at - started_at 的秒数，参数为结束时间
func durationExpr(dialect string) string {
	if dialect == "sqlite" {
		return "CAST(ROUND((julianday(?) - julianday(started_at)) * 86400) AS INTEGER)"
	}
	return "TIMESTAMPDIFF(SECOND, started_at, ?)"
}

// dbNow 数据库当前 UTC 时间，精确到秒
func dbNow(db *gorm.DB) (time.Time, error) {
	if db.Dialector.Name() == "sqlite" {
		var raw string
		if err := db.Raw("SELECT strftime('%Y-%m-%d %H:%M:%S', 'now')").Row().Scan(&raw); err != nil {
			return time.Time{}, err
		}
		return time.ParseInLocation("2006-01-02 15:04:05", raw, time.UTC)
	}

	var now time.Time
	if err := db.Raw("SELECT UTC_TIMESTAMP()").Row().Scan(&now); err != nil {
		return time.Time{}, err
	}
	return now.UTC(), nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
