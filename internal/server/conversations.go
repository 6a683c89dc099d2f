package server

import (
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/ledgerline/internal/auth"
	"github.com/zulandar/ledgerline/internal/conversation"
	"github.com/zulandar/ledgerline/internal/models"
	"github.com/zulandar/ledgerline/internal/storage"
	"github.com/zulandar/ledgerline/internal/tenant"
)

type conversationRequest struct {
	Title          string `json:"title"`
	ClientName     string `json:"clientName"`
	SourceLanguage string `json:"sourceLanguage" binding:"required"`
	TargetLanguage string `json:"targetLanguage" binding:"required"`
}

func handleConversationList(store *conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := store.ListSessions(c.Request.Context(), tenant.DB(c))
		if err != nil {
			internalError(c, "list conversations", err)
			return
		}
		if sessions == nil {
			sessions = []models.ConversationSession{}
		}
		c.JSON(http.StatusOK, gin.H{"companyId": tenant.CompanyID(c), "sessions": sessions})
	}
}

func handleConversationCreate(store *conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req conversationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sourceLanguage and targetLanguage are required"})
			return
		}
		principal, _ := auth.PrincipalFrom(c)

		session := models.ConversationSession{
			CompanyID:      tenant.CompanyID(c),
			OwnerID:        principal.UserID,
			Title:          req.Title,
			ClientName:     req.ClientName,
			SourceLanguage: req.SourceLanguage,
			TargetLanguage: req.TargetLanguage,
		}
		if err := store.CreateSession(c.Request.Context(), &session); err != nil {
			internalError(c, "create conversation", err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"companyId": session.CompanyID, "session": session})
	}
}

func handleConversationGet(store *conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := loadConversation(c, store)
		if !ok {
			return
		}
		messages, err := store.History(c.Request.Context(), session.ID)
		if err != nil {
			internalError(c, "conversation history", err)
			return
		}
		if messages == nil {
			messages = []models.ConversationMessage{}
		}
		c.JSON(http.StatusOK, gin.H{
			"companyId": tenant.CompanyID(c),
			"session":   session,
			"messages":  messages,
		})
	}
}

func handleConversationClose(store *conversation.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := loadConversation(c, store)
		if !ok {
			return
		}
		if err := store.CloseSession(c.Request.Context(), session.ID); err != nil {
			internalError(c, "close conversation", err)
			return
		}
		count, err := store.MessageCount(c.Request.Context(), session.ID)
		if err != nil {
			internalError(c, "close conversation", err)
			return
		}
		session.Status = models.SessionClosed
		c.JSON(http.StatusOK, gin.H{
			"companyId":    tenant.CompanyID(c),
			"session":      session,
			"messageCount": count,
		})
	}
}

// handleConversationAudio serves an audio artifact recorded in a session of
// the current company. Artifact paths start with the session id.
func handleConversationAudio(store *conversation.Store, audio *storage.AudioStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := loadConversation(c, store)
		if !ok {
			return
		}
		rel := path.Clean(strings.TrimPrefix(c.Param("path"), "/"))
		prefix := strconv.FormatUint(uint64(session.ID), 10) + "/"
		if !strings.HasPrefix(rel, prefix) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Audio not found"})
			return
		}

		data, err := audio.Read(rel)
		if errors.Is(err, storage.ErrInvalidPath) || errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Audio not found"})
			return
		}
		if err != nil {
			internalError(c, "read audio", err)
			return
		}
		c.Data(http.StatusOK, storage.ContentTypeFor(rel), data)
	}
}

func loadConversation(c *gin.Context, store *conversation.Store) (*models.ConversationSession, bool) {
	id, ok := idParam(c, "conversation")
	if !ok {
		return nil, false
	}
	session, err := store.GetCompanySession(c.Request.Context(), tenant.DB(c), id)
	if errors.Is(err, conversation.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return nil, false
	}
	if err != nil {
		internalError(c, "load conversation", err)
		return nil, false
	}
	return session, true
}
