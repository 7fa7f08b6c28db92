package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/in"
)

const maxBulkUsers = 500

// PresenceHandler 在线状态查询接口
type PresenceHandler struct {
	presence in.PresenceUseCase
}

func NewPresenceHandler(presence in.PresenceUseCase) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

func (h *PresenceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/online", h.online)
	rg.GET("/users/:userId", h.user)
	rg.POST("/bulk", h.bulk)
}

type bulkRequest struct {
	UserIDs []uint64 `json:"userIds" binding:"required,min=1"`
}

func (h *PresenceHandler) online(c *gin.Context) {
	if userType := c.Query("type"); userType != "" {
		c.JSON(http.StatusOK, gin.H{"users": h.presence.GetOnlineUsersByType(userType)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": h.presence.GetOnlineUsers()})
}

func (h *PresenceHandler) user(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("userId"), 10, 64)
	if err != nil {
		badRequest(c, "invalid userId")
		return
	}
	c.JSON(http.StatusOK, h.presence.GetPresenceInfo(userID))
}

func (h *PresenceHandler) bulk(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if len(req.UserIDs) > maxBulkUsers {
		badRequest(c, "too many userIds")
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": h.presence.GetBulkStatus(req.UserIDs)})
}
