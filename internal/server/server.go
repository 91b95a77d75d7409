// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/fieldops/storealert/internal/engine"
	"github.com/fieldops/storealert/internal/metrics"
	"github.com/fieldops/storealert/internal/models"
	"github.com/fieldops/storealert/internal/storage"
	"github.com/fieldops/storealert/internal/sweep"
	"github.com/fieldops/storealert/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	engine         *engine.Engine
	sweeper        *sweep.Sweeper
	metricsManager *metrics.Manager
	logger         *logrus.Logger
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	config *ServerConfig,
	storage storage.Storage,
	eng *engine.Engine,
	sweeper *sweep.Sweeper,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {

	server := &HTTPServer{
		config:         config,
		storage:        storage,
		engine:         eng,
		sweeper:        sweeper,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
	}

	// Setup router
	server.setupRouter()

	// Create HTTP server
	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Health check endpoint
	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	// Metrics endpoint
	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Signal ingestion endpoint
	api.HandleFunc("/signals", s.ingestSignalHandler).Methods("POST")

	// Incident endpoints
	api.HandleFunc("/incidents", s.listIncidentsHandler).Methods("GET")
	api.HandleFunc("/incidents/stats", s.incidentStatsHandler).Methods("GET")
	api.HandleFunc("/incidents/{id}", s.getIncidentHandler).Methods("GET")

	// Notification inbox endpoints
	api.HandleFunc("/notifications", s.listNotificationsHandler).Methods("GET")
	api.HandleFunc("/notifications/unread_count", s.unreadCountHandler).Methods("GET")
	api.HandleFunc("/notifications/{id}/read", s.markNotificationReadHandler).Methods("POST")

	// Directory endpoints
	api.HandleFunc("/stores", s.upsertStoreHandler).Methods("PUT")
	api.HandleFunc("/stores/{id}", s.getStoreHandler).Methods("GET")
	api.HandleFunc("/rules", s.upsertRuleHandler).Methods("PUT")
	api.HandleFunc("/rules/{id}", s.getRuleHandler).Methods("GET")
	api.HandleFunc("/users", s.upsertUserHandler).Methods("PUT")
	api.HandleFunc("/users/{id}", s.getUserHandler).Methods("GET")

	// Sweep endpoints
	api.HandleFunc("/sweep/status", s.sweepStatusHandler).Methods("GET")
	api.HandleFunc("/sweep/run", s.runSweepHandler).Methods("POST")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	// Immediately update system and component metrics so they appear on first scrape
	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
		if s.storage != nil {
			health := s.storage.GetHealth()
			s.metricsManager.GetPrometheusMetrics().UpdateComponentHealth("storage", health.Healthy)
		}
	}

	if s.metricsManager != nil {
		go s.systemMetricsUpdater()
	}

	// Create a channel to receive startup errors
	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.metricsManager.UpdateSystemMetrics()

		if s.storage != nil {
			health := s.storage.GetHealth()
			s.metricsManager.GetPrometheusMetrics().UpdateComponentHealth("storage", health.Healthy)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if stats, err := s.storage.GetStats(ctx); err == nil {
				s.metricsManager.GetPrometheusMetrics().UpdateEngineState(stats.ActiveIncidents, stats.OpenGroups)
			}
			cancel()
		}
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// detailedHealthHandler returns detailed health status
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	storageHealth := s.storage.GetHealth()

	status := "healthy"
	if !storageHealth.Healthy {
		status = "unhealthy"
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
		"components": map[string]interface{}{
			"storage": storageHealth,
			"sweep":   s.sweeper.GetStatus(),
		},
	}

	code := http.StatusOK
	if !storageHealth.Healthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, health)
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.storage.GetStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
		return
	}

	stats := map[string]interface{}{
		"timestamp":       time.Now(),
		"storage":         storageStats,
		"sweep":           s.sweeper.GetStatus(),
		"metrics_enabled": s.config.EnableMetrics,
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Signal Handlers

// ingestSignalHandler accepts one raw signal and runs it through the
// ingestion engine. Store, rule and recipient are resolved from the
// directory by id.
func (s *HTTPServer) ingestSignalHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoreID           string     `json:"store_id"`
		RuleID            string     `json:"rule_id"`
		RecipientUserID   string     `json:"recipient_user_id"`
		EventType         string     `json:"event_type"`
		Severity          string     `json:"severity"`
		Summary           string     `json:"summary"`
		RelatedEntityType *string    `json:"related_entity_type"`
		RelatedEntityID   *string    `json:"related_entity_id"`
		OccurredAt        *time.Time `json:"occurred_at"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.StoreID == "" || req.RuleID == "" {
		s.writeError(w, http.StatusBadRequest, "store_id and rule_id are required", nil)
		return
	}

	store, err := s.storage.GetStore(r.Context(), req.StoreID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to resolve store", err)
		return
	}
	if store == nil {
		s.writeError(w, http.StatusNotFound, "Store not found", nil)
		return
	}

	rule, err := s.storage.GetRule(r.Context(), req.RuleID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to resolve rule", err)
		return
	}
	if rule == nil {
		s.writeError(w, http.StatusNotFound, "Rule not found", nil)
		return
	}

	var recipient *models.User
	if req.RecipientUserID != "" {
		recipient, err = s.storage.GetUser(r.Context(), req.RecipientUserID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to resolve recipient", err)
			return
		}
		if recipient == nil {
			s.writeError(w, http.StatusNotFound, "Recipient not found", nil)
			return
		}
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = *req.OccurredAt
	}

	result, err := s.engine.Upsert(r.Context(), &engine.UpsertInput{
		Store:             store,
		Rule:              rule,
		Recipient:         recipient,
		EventType:         req.EventType,
		Severity:          req.Severity,
		Summary:           req.Summary,
		RelatedEntityType: req.RelatedEntityType,
		RelatedEntityID:   req.RelatedEntityID,
		OccurredAt:        occurredAt,
	})
	if err != nil {
		if utils.HasCode(err, utils.ErrCodeValidation) || utils.HasCode(err, utils.ErrCodePrecondition) {
			s.writeError(w, http.StatusBadRequest, "Invalid signal", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to process signal", err)
		return
	}

	code := http.StatusOK
	if result.Inserted {
		code = http.StatusCreated
	}
	s.writeJSON(w, code, result)
}

// Incident Handlers

// listIncidentsHandler lists incidents with optional filters
func (s *HTTPServer) listIncidentsHandler(w http.ResponseWriter, r *http.Request) {
	filter := models.IncidentFilter{
		Limit:  50,
		Offset: 0,
	}

	q := r.URL.Query()
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = l
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = o
		}
	}
	if storeID := q.Get("store_id"); storeID != "" {
		filter.StoreID = &storeID
	}
	if ruleID := q.Get("rule_id"); ruleID != "" {
		filter.RuleID = &ruleID
	}
	if statusStr := q.Get("status"); statusStr != "" {
		status := models.IncidentStatus(statusStr)
		filter.Status = &status
	}
	if severity := q.Get("severity"); severity != "" {
		filter.Severity = &severity
	}

	incidents, err := s.storage.GetIncidents(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve incidents", err)
		return
	}

	total, err := s.storage.GetIncidentCount(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to count incidents", err)
		return
	}

	response := map[string]interface{}{
		"incidents": incidents,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
		"total":     total,
	}

	s.writeJSON(w, http.StatusOK, response)
}

// getIncidentHandler gets a specific incident by id
func (s *HTTPServer) getIncidentHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	incident, err := s.storage.GetIncident(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve incident", err)
		return
	}
	if incident == nil {
		s.writeError(w, http.StatusNotFound, "Incident not found", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, incident)
}

// incidentStatsHandler returns per-store incident counts
func (s *HTTPServer) incidentStatsHandler(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("store_id")

	stats, err := s.storage.GetIncidentStats(r.Context(), storeID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve incident stats", err)
		return
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Notification Handlers

// listNotificationsHandler lists a recipient's inbox
func (s *HTTPServer) listNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID := q.Get("user_id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	filter := models.NotificationFilter{
		UserID:     &userID,
		UnreadOnly: q.Get("unread") == "true",
		Limit:      50,
		Offset:     0,
	}
	if kindStr := q.Get("kind"); kindStr != "" {
		kind := models.NotificationKind(kindStr)
		filter.Kind = &kind
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = l
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = o
		}
	}

	notifications, err := s.storage.GetNotifications(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve notifications", err)
		return
	}

	response := map[string]interface{}{
		"notifications": notifications,
		"limit":         filter.Limit,
		"offset":        filter.Offset,
		"total":         len(notifications),
	}

	s.writeJSON(w, http.StatusOK, response)
}

// unreadCountHandler returns the unread badge count for a recipient
func (s *HTTPServer) unreadCountHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	count, err := s.storage.CountUnreadNotifications(r.Context(), userID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to count unread notifications", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"unread":  count,
	})
}

// markNotificationReadHandler marks one notification as read
func (s *HTTPServer) markNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	err := s.storage.MarkNotificationRead(r.Context(), id, time.Now().UTC())
	if err != nil {
		if utils.HasCode(err, utils.ErrCodeNotFound) {
			s.writeError(w, http.StatusNotFound, "Notification not found", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to mark notification read", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":         "Notification marked read",
		"notification_id": id,
	})
}

// Directory Handlers

// upsertStoreHandler creates or updates a store
func (s *HTTPServer) upsertStoreHandler(w http.ResponseWriter, r *http.Request) {
	var store models.Store
	if err := json.NewDecoder(r.Body).Decode(&store); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if store.ID == "" {
		s.writeError(w, http.StatusBadRequest, "Store id is required", nil)
		return
	}

	now := time.Now().UTC()
	if store.CreatedAt.IsZero() {
		store.CreatedAt = now
	}
	store.UpdatedAt = now

	if err := s.storage.SaveStore(r.Context(), &store); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to save store", err)
		return
	}

	s.writeJSON(w, http.StatusOK, &store)
}

// getStoreHandler gets a store by id
func (s *HTTPServer) getStoreHandler(w http.ResponseWriter, r *http.Request) {
	store, err := s.storage.GetStore(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve store", err)
		return
	}
	if store == nil {
		s.writeError(w, http.StatusNotFound, "Store not found", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, store)
}

// upsertRuleHandler creates or updates a rule
func (s *HTTPServer) upsertRuleHandler(w http.ResponseWriter, r *http.Request) {
	var rule models.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if rule.ID == "" {
		s.writeError(w, http.StatusBadRequest, "Rule id is required", nil)
		return
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	if err := s.storage.SaveRule(r.Context(), &rule); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to save rule", err)
		return
	}

	s.writeJSON(w, http.StatusOK, &rule)
}

// getRuleHandler gets a rule by id
func (s *HTTPServer) getRuleHandler(w http.ResponseWriter, r *http.Request) {
	rule, err := s.storage.GetRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve rule", err)
		return
	}
	if rule == nil {
		s.writeError(w, http.StatusNotFound, "Rule not found", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, rule)
}

// upsertUserHandler creates or updates a user
func (s *HTTPServer) upsertUserHandler(w http.ResponseWriter, r *http.Request) {
	var user models.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if user.ID == "" {
		s.writeError(w, http.StatusBadRequest, "User id is required", nil)
		return
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	if err := s.storage.SaveUser(r.Context(), &user); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to save user", err)
		return
	}

	s.writeJSON(w, http.StatusOK, &user)
}

// getUserHandler gets a user by id
func (s *HTTPServer) getUserHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.storage.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve user", err)
		return
	}
	if user == nil {
		s.writeError(w, http.StatusNotFound, "User not found", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

// Sweep Handlers

// sweepStatusHandler gets sweep scheduler status
func (s *HTTPServer) sweepStatusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sweeper.GetStatus())
}

// runSweepHandler triggers an immediate sweep pass
func (s *HTTPServer) runSweepHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.sweeper.RunOnce(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Sweep failed", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Sweep completed",
		"result":  result,
	})
}

// Utility Methods

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
			"error":   err,
		}).Error("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
