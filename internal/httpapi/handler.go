package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	httperr "github.com/cathay-lab/chatstats/internal/core/errors"
	"github.com/cathay-lab/chatstats/internal/core/stats"
)

const (
	msgInvalidJSON   = "Invalid JSON body"
	msgInvalidParams = "Invalid path parameters"
	msgInvalidQuery  = "Invalid query parameters"
	msgQueryFailed   = "Failed to execute query"
)

// RegisterRoutes registers all recording and query routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/messages", s.HandleRecordMessage)
	r.POST("/v1/commands", s.HandleRecordCommand)

	r.GET("/v1/stats/:scope/top", s.HandleTop)
	r.GET("/v1/stats/:scope/:subject/range", s.HandleRange)
	r.GET("/v1/stats/:scope/:subject/total", s.HandleTotal)
	r.GET("/v1/plugins/ranking", s.HandlePluginRanking)
	r.GET("/v1/messages/:scope/recent", s.HandleRecentMessages)
}

type recordMessageRequest struct {
	EventID    string    `json:"event_id"`
	Scope      string    `json:"scope" binding:"required"`
	Subject    string    `json:"subject" binding:"required"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	RawContent string    `json:"raw_content"`
	Timestamp  time.Time `json:"timestamp"`
}

// HandleRecordMessage handles POST /v1/messages.
// Recording is fire-and-forget: a degraded counter store is not
// surfaced to the caller, so acceptance means "observed", not "stored".
func (s *Service) HandleRecordMessage(c *gin.Context) {
	var req recordMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   msgInvalidJSON,
			Details:   err.Error(),
		})
		return
	}

	evt := stats.ChatEvent{
		EventID:    req.EventID,
		Scope:      req.Scope,
		Subject:    req.Subject,
		AuthorName: req.AuthorName,
		Content:    req.Content,
		RawContent: req.RawContent,
		Timestamp:  req.Timestamp,
	}
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.nowFn()
	}
	if err := evt.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   msgInvalidJSON,
			Details:   err.Error(),
		})
		return
	}

	s.recorder.RecordMessage(c.Request.Context(), evt)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "event_id": evt.EventID})
}

type recordCommandRequest struct {
	Subject string `json:"subject" binding:"required"`
	Plugin  string `json:"plugin" binding:"required"`
}

// HandleRecordCommand handles POST /v1/commands.
func (s *Service) HandleRecordCommand(c *gin.Context) {
	var req recordCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   msgInvalidJSON,
			Details:   err.Error(),
		})
		return
	}

	s.recorder.RecordCommand(c.Request.Context(), req.Subject, req.Plugin)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// HandleRange handles GET /v1/stats/:scope/:subject/range.
// Query parameters: metric (msg|cmd, default msg), window (today|week|month) or days=N.
func (s *Service) HandleRange(c *gin.Context) {
	scope, subject, ok := s.bindSubjectURI(c)
	if !ok {
		return
	}
	metric, ok := s.bindMetric(c)
	if !ok {
		return
	}
	days, ok := s.bindWindow(c)
	if !ok {
		return
	}

	count, err := s.query.Range(c.Request.Context(), metric, scope, subject, days)
	if err != nil {
		s.writeQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scope":   scope,
		"subject": subject,
		"metric":  metric,
		"days":    len(days),
		"count":   count,
	})
}

// HandleTotal handles GET /v1/stats/:scope/:subject/total.
func (s *Service) HandleTotal(c *gin.Context) {
	scope, subject, ok := s.bindSubjectURI(c)
	if !ok {
		return
	}
	metric, ok := s.bindMetric(c)
	if !ok {
		return
	}

	count, err := s.query.Total(c.Request.Context(), metric, scope, subject)
	if err != nil {
		s.writeQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scope":   scope,
		"subject": subject,
		"metric":  metric,
		"count":   count,
	})
}

// HandleTop handles GET /v1/stats/:scope/top.
// Query parameters: metric, window/days, limit.
func (s *Service) HandleTop(c *gin.Context) {
	var uri struct {
		Scope string `uri:"scope" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   msgInvalidParams,
			Details:   err.Error(),
		})
		return
	}
	metric, ok := s.bindMetric(c)
	if !ok {
		return
	}
	days, ok := s.bindWindow(c)
	if !ok {
		return
	}
	limit, ok := s.bindLimit(c)
	if !ok {
		return
	}

	ranked, err := s.query.TopN(c.Request.Context(), metric, uri.Scope, days, limit)
	if err != nil {
		s.writeQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scope":   uri.Scope,
		"metric":  metric,
		"days":    len(days),
		"ranking": ranked,
	})
}

// HandlePluginRanking handles GET /v1/plugins/ranking.
func (s *Service) HandlePluginRanking(c *gin.Context) {
	days, ok := s.bindWindow(c)
	if !ok {
		return
	}
	limit, ok := s.bindLimit(c)
	if !ok {
		return
	}

	ranked, err := s.query.PluginRanking(c.Request.Context(), days, limit)
	if err != nil {
		s.writeQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"days":    len(days),
		"ranking": ranked,
	})
}

// HandleRecentMessages handles GET /v1/messages/:scope/recent.
func (s *Service) HandleRecentMessages(c *gin.Context) {
	var uri struct {
		Scope string `uri:"scope" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   msgInvalidParams,
			Details:   err.Error(),
		})
		return
	}
	limit, ok := s.bindLimit(c)
	if !ok {
		return
	}

	messages, err := s.query.RecentMessages(c.Request.Context(), uri.Scope, limit)
	if err != nil {
		s.writeQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scope":    uri.Scope,
		"messages": messages,
	})
}

func (s *Service) bindSubjectURI(c *gin.Context) (scope, subject string, ok bool) {
	var uri struct {
		Scope   string `uri:"scope" binding:"required"`
		Subject string `uri:"subject" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   msgInvalidParams,
			Details:   err.Error(),
		})
		return "", "", false
	}
	return uri.Scope, uri.Subject, true
}

func (s *Service) bindMetric(c *gin.Context) (stats.Metric, bool) {
	metric := stats.Metric(c.DefaultQuery("metric", string(stats.MetricMessage)))
	if !stats.ValidMetric(metric) {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   msgInvalidQuery,
			Details:   fmt.Sprintf("unknown metric %q", metric),
		})
		return "", false
	}
	return metric, true
}

// bindWindow resolves the requested date window. "days=N" takes the
// most recent N days; otherwise "window" picks a calendar window,
// defaulting to today.
func (s *Service) bindWindow(c *gin.Context) ([]stats.Day, bool) {
	now := s.nowFn()

	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 366 {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidQueryError,
				Message:   msgInvalidQuery,
				Details:   fmt.Sprintf("days must be an integer between 1 and 366, got %q", raw),
			})
			return nil, false
		}
		return stats.LastNDays(now, n), true
	}

	switch window := c.DefaultQuery("window", "today"); window {
	case "today":
		return []stats.Day{stats.DayOf(now)}, true
	case "week":
		return stats.WeekDays(now), true
	case "month":
		return stats.MonthDays(now), true
	default:
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   msgInvalidQuery,
			Details:   fmt.Sprintf("unknown window %q (want today, week or month)", window),
		})
		return nil, false
	}
}

func (s *Service) bindLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return s.topLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > 1000 {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   msgInvalidQuery,
			Details:   fmt.Sprintf("limit must be an integer between 1 and 1000, got %q", raw),
		})
		return 0, false
	}
	return limit, true
}

func (s *Service) writeQueryError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		ErrorType: httperr.HttpInternalError,
		Message:   msgQueryFailed,
		Details:   err.Error(),
	})
}
