package api

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dehqonjon/internal/auth"
	"dehqonjon/internal/chatstore"
	"dehqonjon/internal/models"
	"dehqonjon/internal/service/ai"
	"dehqonjon/internal/service/assistant"
)

const maxUploadBytes = 10 << 20

// Handler exposes the chat session store and the consultant flow over HTTP.
type Handler struct {
	store      *chatstore.Store
	consultant *assistant.Consultant
	log        logrus.FieldLogger
}

// NewHandler constructs a Handler instance.
func NewHandler(store *chatstore.Store, consultant *assistant.Consultant, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Handler{
		store:      store,
		consultant: consultant,
		log:        logger.WithField("component", "api"),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	chat := router.Group("/api/chat")
	chat.Use(auth.Middleware())
	chat.GET("/sessions", h.listSessions)
	chat.POST("/sessions", h.createSession)
	chat.DELETE("/sessions/:id", h.deleteSession)
	chat.PATCH("/sessions/:id", h.renameSession)
	chat.POST("/sessions/:id/messages", h.addMessage)
	chat.POST("/sessions/:id/refresh", auth.RequireCredentials(), h.refreshSession)
	chat.GET("/current", h.currentSession)
	chat.PUT("/current", h.selectSession)
	chat.POST("/sync", auth.RequireCredentials(), h.loadFromServer)
	chat.POST("/ask", h.ask)
	chat.POST("/diagnose", h.diagnose)
}

func (h *Handler) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions":           h.store.Sessions(),
		"current_session_id": h.store.CurrentSessionID(),
	})
}

func (h *Handler) createSession(c *gin.Context) {
	creds := auth.CredentialsFromContext(c)
	id := h.store.CreateSession(c.Request.Context(), creds)
	h.log.WithFields(logrus.Fields{"session_id": id, "remote": creds.Present()}).Debug("session created")
	c.JSON(http.StatusCreated, gin.H{"session_id": id})
}

func (h *Handler) deleteSession(c *gin.Context) {
	h.store.DeleteSession(c.Param("id"), auth.CredentialsFromContext(c))
	c.Status(http.StatusNoContent)
}

func (h *Handler) renameSession(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	h.store.UpdateSessionTitle(c.Param("id"), title)
	c.Status(http.StatusNoContent)
}

type messageRequest struct {
	ID       string      `json:"id"`
	Role     models.Role `json:"role"`
	Content  string      `json:"content"`
	ImageURL string      `json:"image_url"`
}

func (h *Handler) addMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Role != models.RoleUser && req.Role != models.RoleAssistant {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be user or assistant"})
		return
	}
	h.store.AddMessage(c.Param("id"), models.ChatMessage{
		ID:       req.ID,
		Role:     req.Role,
		Content:  req.Content,
		ImageURL: req.ImageURL,
	}, auth.CredentialsFromContext(c))
	c.Status(http.StatusNoContent)
}

func (h *Handler) currentSession(c *gin.Context) {
	session, ok := h.store.CurrentSession()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session selected"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) selectSession(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.store.SetCurrentSession(req.SessionID)
	c.Status(http.StatusNoContent)
}

func (h *Handler) loadFromServer(c *gin.Context) {
	h.store.LoadFromServer(c.Request.Context(), auth.CredentialsFromContext(c))
	c.Status(http.StatusNoContent)
}

func (h *Handler) refreshSession(c *gin.Context) {
	h.store.RefreshSession(c.Request.Context(), c.Param("id"), auth.CredentialsFromContext(c))
	c.Status(http.StatusNoContent)
}

func (h *Handler) ask(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	ex, err := h.consultant.Ask(c.Request.Context(), auth.CredentialsFromContext(c), req.SessionID, req.Message)
	if err != nil {
		// the localized error reply is already in the session
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "exchange": ex})
		return
	}
	c.JSON(http.StatusOK, ex)
}

type diagnoseRequest struct {
	SessionID   string `json:"session_id"`
	ImageBase64 string `json:"image_base64"`
	MIMEType    string `json:"mime_type"`
	ImageURL    string `json:"image_url"`
	Note        string `json:"note"`
}

// diagnose accepts either a JSON body with base64 image data or a
// multipart form with an "image" file.
func (h *Handler) diagnose(c *gin.Context) {
	var req diagnoseRequest
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := h.bindPhotoUpload(c, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.ImageBase64) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image is required"})
		return
	}
	res, err := h.consultant.Diagnose(c.Request.Context(), auth.CredentialsFromContext(c), assistant.PhotoRequest{
		SessionID:   req.SessionID,
		ImageBase64: req.ImageBase64,
		MIMEType:    req.MIMEType,
		ImageURL:    req.ImageURL,
		Note:        req.Note,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) bindPhotoUpload(c *gin.Context, req *diagnoseRequest) error {
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		return errors.New("invalid multipart form")
	}
	req.SessionID = c.PostForm("session_id")
	req.ImageURL = c.PostForm("image_url")
	req.Note = c.PostForm("note")

	file, err := c.FormFile("image")
	if err != nil {
		return errors.New("image is required")
	}
	if file.Size > maxUploadBytes {
		return errors.New("image too large")
	}
	f, err := file.Open()
	if err != nil {
		return errors.New("open image failed")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return errors.New("read image failed")
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return errors.New("unsupported file type")
	}
	req.MIMEType = contentType
	req.ImageBase64 = base64.StdEncoding.EncodeToString(data)
	return nil
}

func statusFor(err error) int {
	if errors.Is(err, ai.ErrNotConfigured) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}
