package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ai-food-diary/internal/diary"
	"ai-food-diary/internal/food"
	"ai-food-diary/internal/recognizer"
)

// Engine is the part of diary.Engine exposed over HTTP.
type Engine interface {
	Analyze(ctx context.Context, userID int64, in recognizer.Input) (string, food.Analysis, error)
	GetDraft(ctx context.Context, userID int64, id string) (food.Analysis, error)
	EditDraft(ctx context.Context, userID int64, id, amendment string) (string, food.Analysis, error)
	CommitDraft(ctx context.Context, userID int64, id string, slot food.MealSlot) (food.MealEntry, error)
	CancelDraft(ctx context.Context, userID int64, id string) error
}

// Journal lists committed meals.
type Journal interface {
	ListByDay(ctx context.Context, userID int64, day time.Time) ([]food.MealEntry, error)
}

type analysisRequest struct {
	Text     string `json:"text"`
	Image    []byte `json:"image"` // base64 in JSON
	MIMEType string `json:"mime_type"`
}

type editRequest struct {
	Amendment string `json:"amendment" binding:"required"`
}

type commitRequest struct {
	Slot string `json:"slot" binding:"required"`
}

type draftResponse struct {
	ID       string        `json:"id"`
	Analysis food.Analysis `json:"analysis"`
}

type mealsResponse struct {
	Date    string           `json:"date"`
	Entries []food.MealEntry `json:"entries"`
	Summary diary.DaySummary `json:"summary"`
}

type handler struct {
	engine  Engine
	journal Journal
	logger  *zap.Logger
}

// NewRouter builds the JSON API. Every /api route requires a bearer token
// signed with secret.
func NewRouter(engine Engine, journal Journal, secret []byte, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{engine: engine, journal: journal, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	api := r.Group("/api")
	api.Use(AuthMiddleware(secret))
	{
		api.POST("/analyses", h.createAnalysis)
		api.GET("/analyses/:id", h.getAnalysis)
		api.POST("/analyses/:id/edit", h.editAnalysis)
		api.POST("/analyses/:id/commit", h.commitAnalysis)
		api.DELETE("/analyses/:id", h.cancelAnalysis)
		api.GET("/meals", h.listMeals)
	}
	return r
}

func (h *handler) createAnalysis(c *gin.Context) {
	var body analysisRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Text == "" && len(body.Image) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text or image is required"})
		return
	}
	if len(body.Image) > 0 && body.MIMEType == "" {
		body.MIMEType = http.DetectContentType(body.Image)
	}

	id, a, err := h.engine.Analyze(c.Request.Context(), currentUser(c), recognizer.Input{
		Text:     body.Text,
		Image:    body.Image,
		MIMEType: body.MIMEType,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, draftResponse{ID: id, Analysis: a})
}

func (h *handler) getAnalysis(c *gin.Context) {
	id := c.Param("id")
	a, err := h.engine.GetDraft(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, draftResponse{ID: id, Analysis: a})
}

func (h *handler) editAnalysis(c *gin.Context) {
	var body editRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, a, err := h.engine.EditDraft(c.Request.Context(), currentUser(c), c.Param("id"), body.Amendment)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, draftResponse{ID: id, Analysis: a})
}

func (h *handler) commitAnalysis(c *gin.Context) {
	var body commitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slot, err := food.ParseMealSlot(body.Slot)
	if err != nil {
		h.writeError(c, err)
		return
	}

	entry, err := h.engine.CommitDraft(c.Request.Context(), currentUser(c), c.Param("id"), slot)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *handler) cancelAnalysis(c *gin.Context) {
	if err := h.engine.CancelDraft(c.Request.Context(), currentUser(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) listMeals(c *gin.Context) {
	day := time.Now()
	if v := c.Query("date"); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	entries, err := h.journal.ListByDay(c.Request.Context(), currentUser(c), day)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if entries == nil {
		entries = []food.MealEntry{}
	}
	c.JSON(http.StatusOK, mealsResponse{
		Date:    day.Format("2006-01-02"),
		Entries: entries,
		Summary: diary.Summarize(entries),
	})
}

func (h *handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, food.ErrDraftNotFound):
		status = http.StatusNotFound
	case errors.Is(err, food.ErrRecognitionFailed), errors.Is(err, food.ErrNoIngredients):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, food.ErrInvalidMealSlot):
		status = http.StatusBadRequest
	case errors.Is(err, food.ErrCommitConflict):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
