package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sqlreport/internal/config"
	"sqlreport/internal/domain/query"
	"sqlreport/internal/executor"
	"sqlreport/internal/export"
	"sqlreport/internal/models"
	"sqlreport/internal/querycache"
	"sqlreport/internal/service"
	"sqlreport/internal/session"
	"sqlreport/internal/storage"

	"github.com/gorilla/securecookie"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// Pinger checks that the database pools are reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	echo    *echo.Echo
	service service.ReportService
	pinger  Pinger
	logger  *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	reportService service.ReportService,
	sessions *session.Store,
	codec *securecookie.SecureCookie,
	pinger Pinger,
	logger *logrus.Logger,
) *Server {
	e := echo.New()
	e.Debug = cfg.Server.Debug
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())

	if cfg.Server.Debug {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Format: "${time_rfc3339} ${method} ${uri} ${status} ${latency_human} ${error}\n",
		}))
	} else {
		e.Use(middleware.Logger())
	}

	server := &Server{
		echo:    e,
		service: reportService,
		pinger:  pinger,
		logger:  logger,
	}

	server.setupRoutes(session.Middleware(sessions, codec, session.CookieOptions{
		Name:   cfg.Session.CookieName,
		Secure: cfg.Session.Secure,
		TTL:    cfg.Session.TTL,
	}, logger))
	return server
}

// Start starts the HTTP server
func (s *Server) Start(address string) error {
	s.logger.WithField("address", address).Info("Starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server be mounted or driven by httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// setupRoutes configures the server routes
func (s *Server) setupRoutes(sessions echo.MiddlewareFunc) {
	// Health check
	s.echo.GET("/health", s.healthCheck)

	// API routes
	api := s.echo.Group("/api/v1", sessions)
	{
		reports := api.Group("/reports")
		{
			reports.GET("", s.listReports)
			reports.POST("", s.createReport)
			reports.GET("/:id", s.getReport)
			reports.PUT("/:id", s.updateReport)
			reports.DELETE("/:id", s.deleteReport)

			reports.POST("/:id/params", s.addParameter)
			reports.GET("/:id/query", s.queryForm)
			reports.POST("/:id/run", s.runReport)
			reports.POST("/:id/export", s.exportReport)

			reports.GET("/:id/exports", s.listExports)
			reports.GET("/:id/exports/:name", s.downloadExport)
		}

		api.DELETE("/params/:id", s.deleteParameter)
	}
}

// healthCheck handles health check requests
func (s *Server) healthCheck(c echo.Context) error {
	status := http.StatusOK
	body := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "report-service",
	}

	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("Health check failed")
			status = http.StatusServiceUnavailable
			body["status"] = "unavailable"
		}
	}

	return c.JSON(status, body)
}

type paramRequest struct {
	ParamName    string `json:"param_name"`
	Title        string `json:"title"`
	DefaultValue string `json:"default_value"`
}

func (r paramRequest) model() models.Parameter {
	return models.Parameter{
		ParamName:    r.ParamName,
		Title:        r.Title,
		DefaultValue: r.DefaultValue,
	}
}

// listReports handles listing reports
func (s *Server) listReports(c echo.Context) error {
	reports, err := s.service.ListReports(c.Request().Context())
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"reports": reports,
		"count":   len(reports),
	})
}

// createReport handles report creation
func (s *Server) createReport(c echo.Context) error {
	var req struct {
		Name     string         `json:"name"`
		SQLQuery string         `json:"sql_query"`
		Params   []paramRequest `json:"params"`
	}

	if err := c.Bind(&req); err != nil {
		s.logger.WithError(err).Debug("Failed to bind request")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request format",
		})
	}

	report := &models.Report{
		Name:     req.Name,
		SQLQuery: req.SQLQuery,
	}
	for _, p := range req.Params {
		report.Params = append(report.Params, p.model())
	}

	if err := s.service.CreateReport(c.Request().Context(), report); err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(http.StatusCreated, report)
}

// getReport handles getting a single report
func (s *Server) getReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	report, err := s.service.GetReport(c.Request().Context(), id)
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, report)
}

// updateReport handles report edits, optionally adding one parameter
func (s *Server) updateReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var req struct {
		Name     *string       `json:"name"`
		SQLQuery *string       `json:"sql_query"`
		NewParam *paramRequest `json:"new_param"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request format",
		})
	}

	params := service.ReportUpdateParams{Name: req.Name, SQLQuery: req.SQLQuery}
	if req.NewParam != nil {
		p := req.NewParam.model()
		params.NewParam = &p
	}

	report, err := s.service.UpdateReport(c.Request().Context(), id, params)
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, report)
}

// deleteReport handles report deletion
func (s *Server) deleteReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := s.service.DeleteReport(c.Request().Context(), id); err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Report deleted successfully",
	})
}

// addParameter handles adding a parameter to a report
func (s *Server) addParameter(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var req paramRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request format",
		})
	}

	param := req.model()
	if err := s.service.AddParameter(c.Request().Context(), id, &param); err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(http.StatusCreated, param)
}

// deleteParameter handles parameter deletion
func (s *Server) deleteParameter(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := s.service.DeleteParameter(c.Request().Context(), id); err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Parameter deleted successfully",
	})
}

// queryForm returns the report with the fields to fill before a run
func (s *Server) queryForm(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	form, err := s.service.QueryForm(c.Request().Context(), id)
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, form)
}

// runReport builds the report query from the submitted values and runs it
func (s *Server) runReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	values, err := runValues(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request format",
		})
	}

	sess, _ := session.FromContext(c)
	result, err := s.service.RunReport(c.Request().Context(), sess, id, values)
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"report_id": result.Report.ID,
		"name":      result.Report.Name,
		"sql":       result.SQL,
		"columns":   result.Result.Header(),
		"rows":      jsonRows(result.Result),
		"count":     result.Result.Len(),
	})
}

// exportReport re-runs the session's last query and streams it as a workbook
func (s *Server) exportReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	sess, _ := session.FromContext(c)
	exp, err := s.service.PrepareExport(c.Request().Context(), sess, id)
	if err != nil {
		return s.errorResponse(c, err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, exp.ContentType)
	res.Header().Set(echo.HeaderContentDisposition, "attachment; filename="+exp.Filename)

	if err := exp.WriteTo(c.Request().Context(), res); err != nil {
		if res.Committed {
			s.logger.WithError(err).WithField("report_id", id).Error("Export stream interrupted")
			return nil
		}
		res.Header().Del(echo.HeaderContentDisposition)
		return s.errorResponse(c, err)
	}
	return nil
}

// listExports lists archived workbooks of a report
func (s *Server) listExports(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	files, err := s.service.ListArchivedExports(c.Request().Context(), id)
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"exports": files,
		"count":   len(files),
	})
}

// downloadExport streams one archived workbook
func (s *Server) downloadExport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	name := c.Param("name")
	rc, err := s.service.OpenArchivedExport(c.Request().Context(), id, name)
	if err != nil {
		return s.errorResponse(c, err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+name)
	return c.Stream(http.StatusOK, export.ContentType, rc)
}

// errorResponse maps service errors to HTTP statuses
func (s *Server) errorResponse(c echo.Context, err error) error {
	var (
		validationErr *service.ValidationError
		queryErr      *executor.QueryError
	)

	switch {
	case errors.Is(err, service.ErrDefinitionNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": notFoundMessage(c)})
	case errors.Is(err, querycache.ErrNoCachedQuery):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No SQL query available for export."})
	case errors.Is(err, export.ErrEmptyResult):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "Query returned no data to export."})
	case errors.Is(err, service.ErrDuplicateParameter):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrArchiveDisabled), errors.Is(err, storage.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &validationErr):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": validationErr.Error()})
	case errors.As(err, &queryErr):
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": queryErr.Error()})
	}

	s.logger.WithError(err).WithFields(logrus.Fields{
		"method": c.Request().Method,
		"path":   c.Path(),
	}).Error("Request failed")
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
}

// notFoundMessage names the missing definition by the route that was hit
func notFoundMessage(c echo.Context) string {
	if strings.HasPrefix(c.Path(), "/api/v1/params") {
		return "Parameter not found"
	}
	return "Report not found"
}

func parseID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid ID")
	}
	return uint(id), nil
}

// runValues reads parameter values from a JSON object of name to value, also
// accepted wrapped as {"values": {...}}, or from form fields. Only the first
// value of a repeated form field is used.
func runValues(c echo.Context) (map[string]string, error) {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var body map[string]json.RawMessage
		if err := (&echo.DefaultBinder{}).BindBody(c, &body); err != nil {
			return nil, err
		}
		if wrapped, ok := body["values"]; ok && len(body) == 1 && isJSONObject(wrapped) {
			body = nil
			if err := json.Unmarshal(wrapped, &body); err != nil {
				return nil, err
			}
		}
		return scalarValues(body)
	}

	form, err := c.FormParams()
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(form))
	for name, vs := range form {
		if len(vs) > 0 {
			values[name] = vs[0]
		}
	}
	return values, nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// scalarValues turns JSON strings, numbers and booleans into parameter text.
// null counts as a missing value; objects and arrays are rejected.
func scalarValues(body map[string]json.RawMessage) (map[string]string, error) {
	values := make(map[string]string, len(body))
	for name, raw := range body {
		trimmed := bytes.TrimSpace(raw)
		switch {
		case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
			continue
		case trimmed[0] == '"':
			var v string
			if err := json.Unmarshal(trimmed, &v); err != nil {
				return nil, err
			}
			values[name] = v
		case trimmed[0] == '{' || trimmed[0] == '[':
			return nil, fmt.Errorf("value of %q must be a string, number or boolean", name)
		default:
			values[name] = string(trimmed)
		}
	}
	return values, nil
}

// jsonRows keeps rows positional and turns raw driver bytes into text
func jsonRows(rs *query.ResultSet) [][]any {
	rows := make([][]any, 0, rs.Len())
	if rs == nil {
		return rows
	}
	for _, row := range rs.Rows {
		out := make([]any, len(row))
		for i, v := range row {
			if b, ok := v.([]byte); ok {
				out[i] = string(b)
				continue
			}
			out[i] = v
		}
		rows = append(rows, out)
	}
	return rows
}
