package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"brokenLinkAnalyzerGO/internal/middleware"
	"brokenLinkAnalyzerGO/internal/models"
	"brokenLinkAnalyzerGO/internal/service"
	"brokenLinkAnalyzerGO/internal/validation"
)

// statusStarted is reported to the client once a job has been accepted
const statusStarted = "iniciado"

// healthHandler handles health check requests
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, models.Response{
		Success: true,
		Data: gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		},
	})
}

// analyzeHandler validates a crawl request, then creates and starts the job
func (s *Server) analyzeHandler(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}

	var req validation.AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{
			Success: false,
			Error:   "Invalid request body",
			Details: []string{err.Error()},
		})
		return
	}

	cfg, result := validation.ValidateAnalysisRequest(req)
	if !result.IsValid {
		c.JSON(http.StatusBadRequest, models.Response{
			Success: false,
			Error:   "Invalid analysis request",
			Details: result.Errors,
		})
		return
	}
	cfg.URL = validation.SanitizeURL(cfg.URL)

	if result := validation.ValidateURL(cfg.URL, s.config.IsProduction()); !result.IsValid {
		c.JSON(http.StatusBadRequest, models.Response{
			Success: false,
			Error:   "URL not allowed",
			Details: result.Errors,
		})
		return
	}

	if result := validation.ValidatePlanLimits(user.Plan, cfg.Depth); !result.IsValid {
		c.JSON(http.StatusForbidden, models.Response{
			Success: false,
			Error:   result.Errors[0],
			Details: gin.H{"plan": user.Plan, "maxDepth": user.Plan.MaxDepth()},
		})
		return
	}

	ctx := c.Request.Context()
	id, err := s.service.CreateAnalysis(ctx, cfg, user)
	if err != nil {
		s.internalError(c, "Failed to create analysis", err)
		return
	}

	if err := s.service.StartAnalysis(ctx, id); err != nil {
		// Leave nothing pending behind a request that failed.
		if _, cancelErr := s.service.CancelAnalysis(ctx, id); cancelErr != nil {
			s.logger.Error("Failed to cancel unstarted analysis", "analysis_id", id, "error", cancelErr)
		}
		if errors.Is(err, service.ErrShuttingDown) {
			c.JSON(http.StatusServiceUnavailable, models.Response{
				Success: false,
				Error:   "Service is shutting down",
			})
			return
		}
		s.internalError(c, "Failed to start analysis", err)
		return
	}

	c.JSON(http.StatusCreated, models.Response{
		Success: true,
		Data: gin.H{
			"analysisId": id,
			"status":     statusStarted,
		},
	})
}

// statusHandler returns the polling view of an analysis
func (s *Server) statusHandler(c *gin.Context) {
	analysis, ok := s.ownedAnalysis(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, models.Response{
		Success: true,
		Data:    models.StatusOf(analysis),
	})
}

// resultsHandler returns the results of a completed analysis
func (s *Server) resultsHandler(c *gin.Context) {
	analysis, ok := s.ownedAnalysis(c)
	if !ok {
		return
	}

	if analysis.Status != models.StatusCompleted {
		notCompleted(c, analysis)
		return
	}

	results, err := s.service.GetAnalysisResults(c.Request.Context(), analysis.ID)
	if err != nil {
		s.internalError(c, "Failed to get analysis results", err)
		return
	}
	if results == nil {
		// Reaped between the two reads.
		notFound(c)
		return
	}

	c.JSON(http.StatusOK, models.Response{
		Success: true,
		Data:    results,
	})
}

// exportHandler sends the results of a completed analysis as a file
func (s *Server) exportHandler(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}

	format := c.DefaultQuery("format", "csv")
	if !validation.IsSupportedFormat(format) {
		c.JSON(http.StatusBadRequest, models.Response{
			Success: false,
			Error:   fmt.Sprintf("Unsupported export format %q", format),
			Details: []string{"csv", "pdf"},
		})
		return
	}
	if result := validation.ValidateExportFormat(format, user.Plan); !result.IsValid {
		c.JSON(http.StatusForbidden, models.Response{
			Success: false,
			Error:   result.Errors[0],
		})
		return
	}

	analysis, ok := s.ownedAnalysis(c)
	if !ok {
		return
	}

	export, err := s.service.ExportResults(c.Request.Context(), analysis.ID, format)
	if err != nil {
		s.internalError(c, "Failed to export analysis", err)
		return
	}
	if export == nil {
		c.JSON(http.StatusNotFound, models.Response{
			Success: false,
			Error:   "Results not available",
			Details: gin.H{"status": analysis.Status},
		})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	c.Data(http.StatusOK, export.ContentType, export.Data)
}

// historyHandler returns one page of the caller's analyses
func (s *Server) historyHandler(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}

	// Invalid values fall back to the service defaults.
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	history, err := s.service.GetAnalysisHistory(c.Request.Context(), user.ID, page, limit)
	if err != nil {
		s.internalError(c, "Failed to get analysis history", err)
		return
	}

	c.JSON(http.StatusOK, models.Response{
		Success: true,
		Data:    history,
	})
}

// cancelHandler cancels a pending or running analysis
func (s *Server) cancelHandler(c *gin.Context) {
	analysis, ok := s.ownedAnalysis(c)
	if !ok {
		return
	}

	if analysis.Status.IsTerminal() {
		alreadyFinished(c, analysis.Status)
		return
	}

	cancelled, err := s.service.CancelAnalysis(c.Request.Context(), analysis.ID)
	if err != nil {
		s.internalError(c, "Failed to cancel analysis", err)
		return
	}
	if !cancelled {
		// The job finished between the read and the cancel.
		current, err := s.service.GetAnalysisStatus(c.Request.Context(), analysis.ID)
		if err != nil || current == nil {
			notFound(c)
			return
		}
		alreadyFinished(c, current.Status)
		return
	}

	c.JSON(http.StatusOK, models.Response{
		Success: true,
		Data: gin.H{
			"analysisId": analysis.ID,
			"status":     models.StatusCancelled,
		},
	})
}

// currentUser returns the authenticated caller or aborts with 401.
func (s *Server) currentUser(c *gin.Context) (models.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, models.Response{
			Success: false,
			Error:   "Unauthorized",
		})
		return models.User{}, false
	}
	return user, true
}

// ownedAnalysis loads the analysis named by the id path parameter. Analyses
// belonging to another user are reported as not found.
func (s *Server) ownedAnalysis(c *gin.Context) (*models.Analysis, bool) {
	user, ok := s.currentUser(c)
	if !ok {
		return nil, false
	}

	analysis, err := s.service.GetAnalysis(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, "Failed to get analysis", err)
		return nil, false
	}
	if analysis == nil || analysis.UserID != user.ID {
		notFound(c)
		return nil, false
	}
	return analysis, true
}

// internalError logs err and replies with an opaque 500
func (s *Server) internalError(c *gin.Context, message string, err error) {
	s.logger.Error(message, "error", err, "path", c.Request.URL.Path, "request_id", middleware.GetRequestID(c))
	c.JSON(http.StatusInternalServerError, models.Response{
		Success: false,
		Error:   "Internal server error",
	})
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, models.Response{
		Success: false,
		Error:   "Analysis not found",
	})
}

func notCompleted(c *gin.Context, analysis *models.Analysis) {
	c.JSON(http.StatusBadRequest, models.Response{
		Success: false,
		Error:   "Analysis is not completed",
		Details: gin.H{"status": analysis.Status, "progress": analysis.Progress},
	})
}

func alreadyFinished(c *gin.Context, status models.Status) {
	c.JSON(http.StatusBadRequest, models.Response{
		Success: false,
		Error:   "Analysis has already finished",
		Details: gin.H{"status": status},
	})
}
