package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"owngame/messages"
	"owngame/middleware"
	"owngame/services"

	"github.com/gin-gonic/gin"
)

// Inbound is the part of the dispatcher the update endpoints need.
type Inbound interface {
	DispatchInbound(ctx context.Context, msg messages.Message) (bool, error)
}

// AnswerGate tells whether a chat is waiting for a given player's answer.
type AnswerGate interface {
	AwaitsAnswer(ctx context.Context, route messages.Route, userID int64) (bool, error)
}

type UpdateHandler struct {
	dispatcher Inbound
	answers    AnswerGate
}

// NewUpdateHandler builds the adapter ingress. With a gate, answers nobody is
// waiting for are dropped before they compete for the chat lock.
func NewUpdateHandler(dispatcher Inbound, answers AnswerGate) *UpdateHandler {
	return &UpdateHandler{dispatcher: dispatcher, answers: answers}
}

// RawUpdateRequest is an adapter event that has not been classified yet:
// either a button press carrying callback data or a chat message.
type RawUpdateRequest struct {
	Update       messages.Update `json:"update"`
	CallbackData string          `json:"callback_data"`
	Text         string          `json:"text"`
}

// Receive accepts an already classified message envelope.
func (h *UpdateHandler) Receive(c *gin.Context) {
	var env messages.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := env.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !msg.Kind().Inbound() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message kind " + string(msg.Kind()) + " is internal"})
		return
	}

	h.dispatch(c, msg)
}

// ReceiveRaw classifies a raw adapter event and dispatches it.
func (h *UpdateHandler) ReceiveRaw(c *gin.Context) {
	var req RawUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Update.Origin.Valid() || req.Update.ChatID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": messages.ErrInvalidRoute.Error()})
		return
	}

	var msg messages.Message
	switch {
	case req.CallbackData != "":
		m, err := messages.FromCallback(req.Update, req.CallbackData)
		if errors.Is(err, messages.ErrUnknownKind) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		msg = m
	case strings.TrimSpace(req.Text) != "":
		msg = messages.FromText(req.Update, req.Text)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "callback_data or text required"})
		return
	}

	h.dispatch(c, msg)
}

func (h *UpdateHandler) dispatch(c *gin.Context, msg messages.Message) {
	if msg.Kind() == messages.KindAnswer && h.answers != nil {
		awaited, err := h.answers.AwaitsAnswer(c.Request.Context(), msg.Route(), msg.Base().UserID)
		if err != nil {
			log.Printf("[updates] %s: answer check: %v", msg.Route(), err)
		} else if !awaited {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
	}

	accepted, err := h.dispatcher.DispatchInbound(c.Request.Context(), msg)
	if err != nil {
		log.Printf("[updates] %s from %s for %s: %v", msg.Kind(), middleware.Adapter(c), msg.Route(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to dispatch update"})
		return
	}
	if !accepted {
		c.JSON(http.StatusConflict, gin.H{"error": "chat is busy"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "kind": msg.Kind()})
}

var (
	_ Inbound    = (*services.Dispatcher)(nil)
	_ AnswerGate = (*services.GameHandlers)(nil)
)
