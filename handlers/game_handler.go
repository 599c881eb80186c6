package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"owngame/messages"
	"owngame/models"
	"owngame/services"
	"owngame/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SnapshotReader serves snapshots that were published recently.
type SnapshotReader interface {
	Get(ctx context.Context, route messages.Route) (*services.GameSnapshot, error)
}

type GameHandler struct {
	store *store.Store
	hub   *services.Hub
	cache SnapshotReader
}

// NewGameHandler builds the read side of the API. cache may be nil.
func NewGameHandler(st *store.Store, hub *services.Hub, cache SnapshotReader) *GameHandler {
	return &GameHandler{store: st, hub: hub, cache: cache}
}

func routeParams(c *gin.Context) (messages.Route, bool) {
	origin := models.Origin(c.Param("origin"))
	if !origin.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown origin"})
		return messages.Route{}, false
	}
	chatID, err := strconv.ParseInt(c.Param("chat"), 10, 64)
	if err != nil || chatID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat ID"})
		return messages.Route{}, false
	}
	return messages.Route{Origin: origin, ChatID: chatID}, true
}

func (h *GameHandler) ListGames(c *gin.Context) {
	games, err := services.ListSnapshots(c.Request.Context(), h.store)
	if err != nil {
		log.Printf("[api] list games: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list games"})
		return
	}
	c.JSON(http.StatusOK, games)
}

func (h *GameHandler) GetGame(c *gin.Context) {
	route, ok := routeParams(c)
	if !ok {
		return
	}

	if h.cache != nil {
		snap, err := h.cache.Get(c.Request.Context(), route)
		if err == nil {
			c.JSON(http.StatusOK, snap)
			return
		}
		if !errors.Is(err, services.ErrSnapshotNotFound) {
			log.Printf("[api] cache lookup %s: %v", route, err)
		}
	}

	snap, err := services.LoadSnapshot(c.Request.Context(), h.store, route)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
		return
	}
	if err != nil {
		log.Printf("[api] load game %s: %v", route, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load game"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Watch upgrades to a websocket that streams snapshots of one chat's game.
func (h *GameHandler) Watch(c *gin.Context) {
	route, ok := routeParams(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[ws] upgrade for %s: %v", route, err)
		return
	}

	if h.hub.RegisterClient(conn, route) == nil {
		log.Printf("[ws] hub is stopped, refused watcher for %s", route)
		return
	}
	log.Printf("[ws] watcher connected to %s", route)
}

func (h *GameHandler) Health(c *gin.Context) {
	if err := h.store.DB().WithContext(c.Request.Context()).Exec("SELECT 1").Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
