package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/EthanQC/hrportal/pkg/zlog"
	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/in"
	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/out"
)

// ScreenShareHandler 屏幕共享 REST 接口，只做参数映射
type ScreenShareHandler struct {
	screenShare in.ScreenShareUseCase
	directory   out.EmployeeDirectory
}

func NewScreenShareHandler(screenShare in.ScreenShareUseCase, directory out.EmployeeDirectory) *ScreenShareHandler {
	return &ScreenShareHandler{screenShare: screenShare, directory: directory}
}

func (h *ScreenShareHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/start", h.start)
	rg.POST("/end/:sessionId", h.end)
	rg.POST("/join/:sessionId", h.join)
	rg.POST("/leave/:sessionId", h.leave)
	rg.GET("/active", h.active)
	rg.GET("/session/:sessionId", h.session)
	rg.POST("/signal/:sessionId", h.signal)
	rg.POST("/request-control/:sessionId", h.requestControl)
	rg.POST("/grant-control/:sessionId", h.grantControl)
	rg.POST("/revoke-control/:sessionId", h.revokeControl)
	rg.POST("/remote-input/:sessionId", h.remoteInput)
	rg.GET("/history", h.history)
}

type startRequest struct {
	ChannelID    uint64           `json:"channelId"`
	RoomID       uint64           `json:"roomId"`
	ShareType    entity.ShareType `json:"shareType"`
	AllowControl bool             `json:"allowControl"`
	SiteCode     string           `json:"siteCode"`
}

type targetQuery struct {
	ChannelID uint64 `form:"channelId"`
	RoomID    uint64 `form:"roomId"`
	Limit     int    `form:"limit"`
}

type signalRequest struct {
	Signal json.RawMessage `json:"signal" binding:"required"`
}

type grantRequest struct {
	UserType string `json:"userType"`
	UserID   uint64 `json:"userId" binding:"required"`
	UserName string `json:"userName"`
}

type remoteInputRequest struct {
	Input json.RawMessage `json:"input" binding:"required"`
}

func (h *ScreenShareHandler) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	ctx := c.Request.Context()
	sharer := h.withName(ctx, mustUser(c))
	session, err := h.screenShare.StartSession(ctx, &in.StartSessionRequest{
		SharerType:   sharer.Type,
		SharerID:     sharer.ID,
		SharerName:   sharer.Name,
		ChannelID:    req.ChannelID,
		RoomID:       req.RoomID,
		ShareType:    req.ShareType,
		AllowControl: req.AllowControl,
		SiteCode:     req.SiteCode,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *ScreenShareHandler) end(c *gin.Context) {
	session, err := h.screenShare.EndSession(c.Request.Context(), c.Param("sessionId"), mustUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *ScreenShareHandler) join(c *gin.Context) {
	ctx := c.Request.Context()
	count, err := h.screenShare.AddViewer(ctx, c.Param("sessionId"), h.withName(ctx, mustUser(c)))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, count)
}

func (h *ScreenShareHandler) leave(c *gin.Context) {
	sessionID := c.Param("sessionId")
	count, err := h.screenShare.RemoveViewer(c.Request.Context(), sessionID, mustUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if count == nil {
		// 会话已不存在，离开视为成功
		c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "viewerCount": 0})
		return
	}
	c.JSON(http.StatusOK, count)
}

func (h *ScreenShareHandler) active(c *gin.Context) {
	var q targetQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query")
		return
	}
	session, err := h.screenShare.GetActiveSession(c.Request.Context(), q.ChannelID, q.RoomID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *ScreenShareHandler) session(c *gin.Context) {
	snapshot, err := h.screenShare.GetSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *ScreenShareHandler) signal(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid signal")
		return
	}
	if err := h.screenShare.HandleSignaling(c.Request.Context(), c.Param("sessionId"), mustUser(c), req.Signal); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *ScreenShareHandler) requestControl(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.screenShare.RequestControl(ctx, c.Param("sessionId"), h.withName(ctx, mustUser(c))); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "requested"})
}

func (h *ScreenShareHandler) grantControl(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if req.UserType == "" {
		req.UserType = defaultUserType
	}

	ctx := c.Request.Context()
	to := h.withName(ctx, entity.Participant{Type: req.UserType, ID: req.UserID, Name: req.UserName})
	if err := h.screenShare.GrantControl(ctx, c.Param("sessionId"), to); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "granted"})
}

func (h *ScreenShareHandler) revokeControl(c *gin.Context) {
	if err := h.screenShare.RevokeControl(c.Request.Context(), c.Param("sessionId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func (h *ScreenShareHandler) remoteInput(c *gin.Context) {
	var req remoteInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid input")
		return
	}
	if err := h.screenShare.SendRemoteInput(c.Request.Context(), c.Param("sessionId"), req.Input); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *ScreenShareHandler) history(c *gin.Context) {
	var q targetQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query")
		return
	}
	sessions, err := h.screenShare.GetSessionHistory(c.Request.Context(), q.ChannelID, q.RoomID, q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// withName 员工没有显示名时查员工表补上，查询失败不影响请求
func (h *ScreenShareHandler) withName(ctx context.Context, p entity.Participant) entity.Participant {
	if p.Name != "" || p.Type != defaultUserType || h.directory == nil {
		return p
	}
	name, err := h.directory.DisplayName(ctx, p.ID)
	if err != nil {
		zlog.C(ctx).Warn("employee name lookup failed", zap.Uint64("employeeID", p.ID), zap.Error(err))
		return p
	}
	p.Name = name
	return p
}

// mustUser 路由都挂在认证之后
func mustUser(c *gin.Context) entity.Participant {
	user, _ := CurrentUser(c)
	return user
}
