// Package httpapi exposes the kernel's engines as a REST surface, mounted
// by cmd/coordinatord. Routing follows the gorilla/mux subrouter-plus-Use
// style: a public group (health, system status, metrics), then an
// authenticated group behind authMiddleware.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tascade/tascade/internal/app"
	"github.com/tascade/tascade/internal/config"
	"github.com/tascade/tascade/internal/metrics"
)

// NewRouter builds the full mux.Router for application.
func NewRouter(application *app.Application, cfg *config.Config) *mux.Router {
	h := &handlers{app: application}

	router := mux.NewRouter()
	router.Use(recoveryMiddleware(application.Log))
	router.Use(loggingMiddleware(application.Log))
	router.Use(corsMiddleware(cfg.CORSOrigins))
	if cfg.MetricsEnabled {
		router.Use(metricsMiddleware())
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()
	api.Use(authMiddleware(application.Auth))

	api.HandleFunc("/system/status", h.systemStatus).Methods(http.MethodGet)

	api.HandleFunc("/projects", h.listProjects).Methods(http.MethodGet)
	api.HandleFunc("/projects", h.createProject).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}", h.getProject).Methods(http.MethodGet)

	api.HandleFunc("/projects/{id}/phases", h.createPhase).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}/phases", h.listPhases).Methods(http.MethodGet)

	api.HandleFunc("/phases/{id}/milestones", h.createMilestone).Methods(http.MethodPost)
	api.HandleFunc("/phases/{id}/milestones", h.listMilestones).Methods(http.MethodGet)

	api.HandleFunc("/milestones/{id}/tasks", h.createTask).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}/tasks", h.listTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks/ready", h.listReady).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{ref}", h.getTask).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/changelog", h.appendChangelog).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/changelog", h.listChangelog).Methods(http.MethodGet)

	api.HandleFunc("/projects/{id}/dependencies", h.createDependency).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}/dependencies", h.listDependencies).Methods(http.MethodGet)

	api.HandleFunc("/tasks/{id}/context", h.getContext).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/blockers", h.getOpenBlockers).Methods(http.MethodGet)

	api.HandleFunc("/tasks/ready", h.listReady).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/claim", h.claimTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/heartbeat", h.heartbeat).Methods(http.MethodPost)
	api.HandleFunc("/leases/{id}/release", h.releaseLease).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/assign", h.assignTask).Methods(http.MethodPost)
	api.HandleFunc("/reservations/{id}/release", h.releaseReservation).Methods(http.MethodPost)

	api.HandleFunc("/tasks/{id}/state", h.transitionState).Methods(http.MethodPost)

	api.HandleFunc("/tasks/{id}/artifacts", h.submitArtifact).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/artifacts", h.listArtifacts).Methods(http.MethodGet)

	api.HandleFunc("/integration-attempts", h.enqueueAttempt).Methods(http.MethodPost)
	api.HandleFunc("/integration-attempts/next", h.nextPendingAttempt).Methods(http.MethodPost)
	api.HandleFunc("/integration-attempts/{id}/result", h.resolveAttempt).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/integration-attempts", h.listAttempts).Methods(http.MethodGet)

	api.HandleFunc("/projects/{id}/gate-rules", h.createGateRule).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}/gate-rules", h.listGateRules).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id}/gates/checkpoints", h.evaluateGates).Methods(http.MethodPost)
	api.HandleFunc("/gate-rules/{id}/decisions", h.recordGateDecision).Methods(http.MethodPost)

	api.HandleFunc("/projects/{id}/changesets", h.proposeChangeSet).Methods(http.MethodPost)
	api.HandleFunc("/projects/{id}/changesets", h.listChangeSets).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id}/changesets/preview", h.previewChangeSet).Methods(http.MethodPost)
	api.HandleFunc("/changesets/{id}/apply", h.applyChangeSet).Methods(http.MethodPost)

	api.HandleFunc("/projects/{id}/events", h.listEvents).Methods(http.MethodGet)

	api.HandleFunc("/apikeys", h.issueAPIKey).Methods(http.MethodPost)

	// Tool-call surface: a single dispatcher over the core claim/work-loop
	// operations (ready, context, claim, heartbeat, transition, submit
	// artifact), for agent runtimes that drive the kernel by tool name
	// instead of a REST client.
	tools := router.PathPrefix("/v1/tools").Subrouter()
	tools.Use(authMiddleware(application.Auth))
	tools.HandleFunc("/{name}", h.invokeTool).Methods(http.MethodPost)

	return router
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
