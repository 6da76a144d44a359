package handler

import (
	"Roomchat/internal/auth"
	"Roomchat/internal/service"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserIDHeader names the user a request acts for. With the jwt provider it
// is optional and must agree with the token.
const UserIDHeader = "X-User-Id"

type RoomHandler interface {
	GetRoomMessages(c *gin.Context)
}

type roomHandler struct {
	service  service.RoomService
	identity auth.IdentityProvider
	logger   *zap.Logger
}

func NewRoomHandler(service service.RoomService, identity auth.IdentityProvider, logger *zap.Logger) RoomHandler {
	return &roomHandler{
		service:  service,
		identity: identity,
		logger:   logger,
	}
}

// GetRoomMessages pages through a room's history for clients that are not
// connected to the socket, e.g. to prefill a view.
// @Router /cf/api/rooms/{roomId}/messages [get]
func (h *roomHandler) GetRoomMessages(c *gin.Context) {
	token, _ := auth.BearerToken(c.GetHeader("Authorization"))
	userID, err := h.identity.Verify(c.Request.Context(), auth.Claim{
		UserID: c.GetHeader(UserIDHeader),
		Token:  token,
	})
	if err != nil {
		if auth.IsRejection(err) {
			respondError(c, http.StatusUnauthorized, err.Error())
			return
		}
		h.logger.Warn("identity provider failed", zap.Error(err))
		respondError(c, http.StatusServiceUnavailable, "identity provider unavailable")
		return
	}

	before, err := strconv.ParseInt(c.DefaultQuery("before", "0"), 10, 64)
	if err != nil || before < 0 {
		respondError(c, http.StatusBadRequest, "Invalid before message id")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		respondError(c, http.StatusBadRequest, "Invalid limit")
		return
	}

	roomID := c.Param("roomId")
	page, err := h.service.RoomMessages(c.Request.Context(), userID, roomID, before, limit)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrUnknownRoom):
		respondError(c, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, service.ErrForbidden):
		respondError(c, http.StatusForbidden, err.Error())
		return
	default:
		h.logger.Error("failed to load room messages",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		respondError(c, http.StatusServiceUnavailable, "Failed to get messages")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"HttpStatusCode": http.StatusOK,
		"ResponseBody":   page,
		"IsSuccess":      true,
		"Message":        "Messages retrieved successfully",
	})
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"HttpStatusCode": status,
		"ResponseBody":   nil,
		"IsSuccess":      false,
		"Message":        message,
	})
}
