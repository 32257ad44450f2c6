package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"spotlight/backend/internal/hub"
	"spotlight/backend/internal/models"
	"spotlight/backend/pkg/errors"
	"spotlight/backend/pkg/jwt"
	"spotlight/backend/pkg/logger"
)

// DMStore is the slice of the DM service the HTTP layer needs.
type DMStore interface {
	Save(ctx context.Context, senderID, receiverID int64, content string) (*models.Message, error)
	History(ctx context.Context, userA, userB int64) ([]models.Message, error)
	HistoryPage(ctx context.Context, userA, userB int64, limit, offset int) ([]models.Message, error)
}

// DMController handles direct-message API endpoints
type DMController struct {
	store      DMStore
	hub        *hub.Hub
	jwtService *jwt.Service
	log        *logger.Logger
}

// NewDMController creates a new DM controller
func NewDMController(store DMStore, h *hub.Hub, jwtService *jwt.Service, log *logger.Logger) *DMController {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &DMController{
		store:      store,
		hub:        h,
		jwtService: jwtService,
		log:        log.WithComponent("dm_api"),
	}
}

// RegisterRoutes registers the routes for the DM controller
func (ctl *DMController) RegisterRoutes(router *gin.Engine) {
	dmGroup := router.Group("/api/dm")
	dmGroup.Use(AuthMiddleware(ctl.jwtService))
	{
		dmGroup.GET("/history", ctl.GetHistory)
		dmGroup.POST("/send", ctl.SendMessage)
	}

	// WebSocket upgrade endpoint; token arrives as a query parameter
	router.GET("/ws", AuthMiddleware(ctl.jwtService), ctl.ServeWS)
}

// GetHistory returns the conversation between the authenticated user and a
// peer, oldest first. Without limit/offset the whole conversation is
// returned; with them, one page.
func (ctl *DMController) GetHistory(c *gin.Context) {
	senderID, err := strconv.ParseInt(c.Query("sender_id"), 10, 64)
	if err != nil {
		errors.Respond(c, errors.NewBadRequestError("INVALID_SENDER", "sender_id is required"))
		return
	}
	receiverID, err := strconv.ParseInt(c.Query("receiver_id"), 10, 64)
	if err != nil {
		errors.Respond(c, errors.NewBadRequestError("INVALID_RECEIVER", "receiver_id is required"))
		return
	}

	userID, _ := authedUserID(c)
	if userID != senderID && userID != receiverID {
		errors.Respond(c, errors.NewForbiddenError("NOT_A_PARTICIPANT", "You are not part of this conversation"))
		return
	}

	var messages []models.Message
	if limitStr := c.Query("limit"); limitStr != "" {
		limit, convErr := strconv.Atoi(limitStr)
		if convErr != nil || limit <= 0 {
			errors.Respond(c, errors.NewBadRequestError("INVALID_LIMIT", "limit must be a positive integer"))
			return
		}
		offset := 0
		if offsetStr := c.Query("offset"); offsetStr != "" {
			offset, convErr = strconv.Atoi(offsetStr)
			if convErr != nil || offset < 0 {
				errors.Respond(c, errors.NewBadRequestError("INVALID_OFFSET", "offset must not be negative"))
				return
			}
		}
		messages, err = ctl.store.HistoryPage(c.Request.Context(), senderID, receiverID, limit, offset)
	} else {
		messages, err = ctl.store.History(c.Request.Context(), senderID, receiverID)
	}
	if err != nil {
		ctl.respondError(c, err, "Failed to fetch messages")
		return
	}

	// The web client expects a bare array
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

// SendMessage is the REST fallback for delivering a message when the
// sender has no live channel open.
func (ctl *DMController) SendMessage(c *gin.Context) {
	var req struct {
		SenderID   int64  `json:"sender_id"`
		ReceiverID int64  `json:"receiver_id"`
		Content    string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.Respond(c, errors.NewBadRequestError("INVALID_PAYLOAD", "Invalid payload"))
		return
	}

	userID, _ := authedUserID(c)
	if req.SenderID == 0 {
		req.SenderID = userID
	}
	if req.SenderID != userID {
		errors.Respond(c, errors.NewForbiddenError("SENDER_MISMATCH", "Cannot send on behalf of another user"))
		return
	}

	if _, err := ctl.store.Save(c.Request.Context(), req.SenderID, req.ReceiverID, req.Content); err != nil {
		ctl.respondError(c, err, "Failed to send message")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Message sent"})
}

// ServeWS upgrades the connection and attaches it to the hub. The user_id
// query parameter addresses the connection; it must match the token.
func (ctl *DMController) ServeWS(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		errors.Respond(c, errors.NewBadRequestError("INVALID_USER_ID", "user_id is required"))
		return
	}

	authedID, _ := authedUserID(c)
	if userID != authedID {
		errors.Respond(c, errors.NewForbiddenError("USER_MISMATCH", "Cannot open a channel for another user"))
		return
	}

	if err := ctl.hub.ServeWS(c.Writer, c.Request, userID); err != nil {
		// Upgrade failures have already written a response
		ctl.log.LogError(err, "websocket upgrade failed", "user_id", userID)
	}
}

func (ctl *DMController) respondError(c *gin.Context, err error, fallback string) {
	if appErr, ok := err.(*errors.AppError); ok {
		errors.Respond(c, appErr)
		return
	}
	ctl.log.LogError(err, fallback, "path", c.Request.URL.Path)
	errors.Respond(c, errors.NewInternalServerError("DM_ERROR", fallback))
}
