package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/ledgerline/internal/auth"
	"github.com/zulandar/ledgerline/internal/conversation"
	"github.com/zulandar/ledgerline/internal/relay"
	"github.com/zulandar/ledgerline/internal/storage"
)

type routeDeps struct {
	store    *conversation.Store
	audio    *storage.AudioStore
	relay    *relay.Relay
	verifier auth.TokenVerifier
	tenant   gin.HandlerFunc
}

// registerRoutes sets up all routes on the gin router.
func registerRoutes(router *gin.Engine, d routeDeps) {
	router.GET("/health", handleHealth(d.relay))
	router.GET("/ws", gin.WrapH(d.relay))

	// Everything under /api is authenticated and company scoped.
	api := router.Group("/api", auth.RequireAuth(d.verifier), d.tenant)

	api.GET("/clients", handleClientList())
	api.POST("/clients", handleClientCreate())
	api.GET("/clients/:id", handleClientGet())
	api.PUT("/clients/:id", handleClientUpdate())
	api.DELETE("/clients/:id", handleClientDelete())

	api.GET("/conversations", handleConversationList(d.store))
	api.POST("/conversations", handleConversationCreate(d.store))
	api.GET("/conversations/:id", handleConversationGet(d.store))
	api.POST("/conversations/:id/close", handleConversationClose(d.store))
	api.GET("/conversations/:id/audio/*path", handleConversationAudio(d.store, d.audio))
}

func handleHealth(rel *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		reg := rel.Registry()
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": reg.ConnectionCount(),
			"sessions":    reg.SessionCount(),
		})
	}
}

// idParam parses a positive numeric path id, writing a 400 when it is not.
func idParam(c *gin.Context, what string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + what + " id"})
		return 0, false
	}
	return uint(id), true
}
