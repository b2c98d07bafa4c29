// Package api exposes the daemon's domain over an embedded,
// loopback-only HTTP control surface: instance management, modpack
// import/install, Java discovery and visual-task progress, plus a
// couple of plain binary-asset routes (instance icons) that don't fit
// a typed RPC envelope. The core RPC surface proper is out of scope in
// detail (see spec.md §6); this is its auxiliary HTTP half.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"project-tachyon/internal/analytics"
	"project-tachyon/internal/config"
	"project-tachyon/internal/instance"
	"project-tachyon/internal/javart"
	"project-tachyon/internal/modpack/importer"
	"project-tachyon/internal/modpack/installer"
	"project-tachyon/internal/security"
	"project-tachyon/internal/vtask"
)

// ControlServer is the daemon's embedded HTTP surface over its domain
// stores and work-execution subsystem.
type ControlServer struct {
	instances  *instance.Store
	tasks      *vtask.Manager
	importer   *importer.Importer
	installer  *installer.Installer
	javaStore  *javart.Store
	javaDisc   *javart.Discoverer
	stats      *analytics.StatsManager
	cfg        *config.ConfigManager
	audit      *security.AuditLogger
	logger     *slog.Logger
	router     *chi.Mux
	activeReqs int64
}

func NewControlServer(
	instances *instance.Store,
	tasks *vtask.Manager,
	im *importer.Importer,
	in *installer.Installer,
	javaStore *javart.Store,
	javaDisc *javart.Discoverer,
	stats *analytics.StatsManager,
	cfg *config.ConfigManager,
	audit *security.AuditLogger,
	logger *slog.Logger,
) *ControlServer {
	s := &ControlServer{
		instances: instances,
		tasks:     tasks,
		importer:  im,
		installer: in,
		javaStore: javaStore,
		javaDisc:  javaDisc,
		stats:     stats,
		cfg:       cfg,
		audit:     audit,
		logger:    logger,
		router:    chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *ControlServer) concurrencyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		max := int64(s.cfg.GetConcurrencyLimit())
		if max <= 0 {
			max = 1 // Safety default
		}

		current := atomic.AddInt64(&s.activeReqs, 1)
		defer atomic.AddInt64(&s.activeReqs, -1)

		if current > max {
			s.audit.Log("127.0.0.1", r.UserAgent(), "Overloaded "+r.URL.Path, 429, "Max Concurrent Reached")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start binds the control server to loopback and serves in the
// background. It is a no-op if the control API is disabled in config.
func (s *ControlServer) Start(port int) {
	if !s.cfg.GetEnableControlAPI() {
		return
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	s.logger.Info("control server listening", "addr", addr)

	go func() {
		conn, err := net.Listen("tcp", addr)
		if err != nil {
			s.logger.Error("control server failed to bind", "error", err)
			return
		}

		if err := http.Serve(conn, s.router); err != nil {
			s.logger.Error("control server failed", "error", err)
		}
	}()
}

func (s *ControlServer) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	// Liveness and health are unauthenticated so orchestration tooling
	// (and the UI shell's own health probe before it has a token) can
	// always reach them.
	s.router.Get("/", s.handleRoot)
	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(s.securityMiddleware)
		r.Use(s.concurrencyLimitMiddleware)

		r.Route("/v1/instances", func(r chi.Router) {
			r.Get("/", s.handleListInstances)
			r.Post("/", s.handleCreateInstance)
			r.Get("/{id}", s.handleGetInstance)
			r.Post("/{id}/rename", s.handleRenameInstance)
			r.Post("/{id}/delete", s.handleDeleteInstance)
			r.Get("/{id}/explore", s.handleExploreInstance)
			r.Post("/{id}/install", s.handleInstallInstance)
			r.Patch("/{id}/settings", s.handleUpdateInstanceSettings)
			r.Get("/{id}/mods", s.handleListMods)
			r.Post("/{id}/mods/{modID}/enable", s.handleEnableMod)
		})

		r.Route("/v1/modpack/import", func(r chi.Router) {
			r.Post("/scan", s.handleScanImport)
			r.Get("/status", s.handleImportStatus)
			r.Post("/begin", s.handleBeginImport)
		})

		r.Route("/v1/java", func(r chi.Router) {
			r.Get("/", s.handleListJava)
			r.Post("/discover", s.handleDiscoverJava)
		})

		r.Get("/v1/tasks", s.handleListTasks)
		r.Get("/v1/tasks/{id}", s.handleGetTask)
		r.Post("/v1/tasks/{id}/cancel", s.handleCancelTask)

		r.Get("/v1/stats", s.handleGetStats)

		// Binary asset routes (instance icons, resource thumbnails)
		// that don't fit the typed RPC/JSON envelope.
		r.Get("/mc/instance/{id}/icon", s.handleInstanceIcon)
	})
}

func (s *ControlServer) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
		userAgent := r.UserAgent()
		action := fmt.Sprintf("%s %s", r.Method, r.URL.Path)

		if sourceIP != "127.0.0.1" && sourceIP != "::1" {
			s.audit.Log(sourceIP, userAgent, action, 403, "External Access Denied")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		token := r.Header.Get("X-Tachyon-Token")
		expectedToken := s.cfg.GetControlAPIToken()

		if token != expectedToken {
			s.audit.Log(sourceIP, userAgent, action, 401, "Invalid Token")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		s.audit.Log(sourceIP, userAgent, action, 200, "Authorized")
		next.ServeHTTP(w, r)
	})
}

func (s *ControlServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *ControlServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// --- Instances ---

type createInstanceRequest struct {
	Name        string          `json:"name"`
	GameVersion string          `json:"game_version"`
	ModLoader   string          `json:"mod_loader"`
	ModpackKind string          `json:"modpack_kind"`
	Config      instance.Config `json:"config"`
}

func (s *ControlServer) handleListInstances(w http.ResponseWriter, r *http.Request) {
	list, err := s.instances.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

func (s *ControlServer) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	inst, err := s.instances.Create(req.Name, req.GameVersion, req.ModLoader, req.ModpackKind, req.Config)
	if err != nil {
		var dup *instance.DuplicateShortPathError
		if errors.As(err, &dup) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, inst)
}

func (s *ControlServer) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := s.instances.Get(id)
	if err != nil {
		http.Error(w, "Instance not found", http.StatusNotFound)
		return
	}
	writeJSON(w, inst)
}

func (s *ControlServer) handleRenameInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.instances.Rename(id, req.Name); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *ControlServer) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trash := r.URL.Query().Get("trash") != "false"
	if err := s.instances.Delete(id, trash); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *ControlServer) handleExploreInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var subPath []string
	if q := r.URL.Query().Get("path"); q != "" {
		subPath = append(subPath, q)
	}
	entries, err := s.instances.Explore(id, subPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

// optionalField is the wire shape of a sparse update_settings field:
// the field absent from the request means "leave", {"value": null}
// (or {} with no value) means "clear", {"value": x} means "set".
type optionalField struct {
	Value json.RawMessage `json:"value"`
}

func decodeOptionalString(raw *optionalField) instance.Optional[string] {
	if raw == nil {
		return instance.Optional[string]{}
	}
	if string(raw.Value) == "null" || len(raw.Value) == 0 {
		return instance.Optional[string]{Set: true}
	}
	var v string
	if err := json.Unmarshal(raw.Value, &v); err != nil {
		return instance.Optional[string]{}
	}
	return instance.Optional[string]{Set: true, Value: &v}
}

func decodeOptionalInt(raw *optionalField) instance.Optional[int] {
	if raw == nil {
		return instance.Optional[int]{}
	}
	if string(raw.Value) == "null" || len(raw.Value) == 0 {
		return instance.Optional[int]{Set: true}
	}
	var v int
	if err := json.Unmarshal(raw.Value, &v); err != nil {
		return instance.Optional[int]{}
	}
	return instance.Optional[int]{Set: true, Value: &v}
}

func decodeOptionalEnv(raw *optionalField) instance.Optional[map[string]string] {
	if raw == nil {
		return instance.Optional[map[string]string]{}
	}
	if string(raw.Value) == "null" || len(raw.Value) == 0 {
		return instance.Optional[map[string]string]{Set: true}
	}
	var v map[string]string
	if err := json.Unmarshal(raw.Value, &v); err != nil {
		return instance.Optional[map[string]string]{}
	}
	return instance.Optional[map[string]string]{Set: true, Value: &v}
}

type updateSettingsRequest struct {
	GameVersion *optionalField `json:"game_version"`
	ModLoader   *optionalField `json:"mod_loader"`
	JavaPath    *optionalField `json:"java_path"`
	JavaArgs    *optionalField `json:"java_args"`
	MemoryMB    *optionalField `json:"memory_mb"`
	Env         *optionalField `json:"env"`
	PreLaunch   *optionalField `json:"pre_launch_hook"`
	PostExit    *optionalField `json:"post_exit_hook"`
}

func (s *ControlServer) handleUpdateInstanceSettings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	patch := instance.SettingsPatch{
		GameVersion: decodeOptionalString(req.GameVersion),
		ModLoader:   decodeOptionalString(req.ModLoader),
		JavaPath:    decodeOptionalString(req.JavaPath),
		JavaArgs:    decodeOptionalString(req.JavaArgs),
		MemoryMB:    decodeOptionalInt(req.MemoryMB),
		Env:         decodeOptionalEnv(req.Env),
		PreLaunch:   decodeOptionalString(req.PreLaunch),
		PostExit:    decodeOptionalString(req.PostExit),
	}
	if err := s.instances.UpdateSettings(id, patch); err != nil {
		var locked *instance.ModpackLockedError
		if errors.As(err, &locked) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *ControlServer) handleListMods(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	mods, err := s.instances.ListMods(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, mods)
}

func (s *ControlServer) handleEnableMod(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	modID := chi.URLParam(r, "modID")
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.instances.EnableMod(id, modID, req.Enabled); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *ControlServer) handleInstallInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req installer.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	req.InstanceID = id
	taskID, err := s.installer.Begin(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int32{"task_id": taskID})
}

func (s *ControlServer) handleInstanceIcon(w http.ResponseWriter, r *http.Request) {
	// No per-instance icon store yet; instances are identified purely
	// by game version/mod loader metadata today.
	http.NotFound(w, r)
}

// --- Modpack import ---

func (s *ControlServer) handleScanImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind importer.SourceKind `json:"kind"`
		Root string              `json:"root"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.importer.Scan(r.Context(), req.Kind, req.Root); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.importer.Status())
}

func (s *ControlServer) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.importer.Status())
}

func (s *ControlServer) handleBeginImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index        int    `json:"index"`
		OverrideName string `json:"override_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	taskID, err := s.importer.BeginImport(r.Context(), req.Index, req.OverrideName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int32{"task_id": taskID})
}

// --- Java discovery ---

func (s *ControlServer) handleListJava(w http.ResponseWriter, r *http.Request) {
	runtimes, err := s.javaStore.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, runtimes)
}

func (s *ControlServer) handleDiscoverJava(w http.ResponseWriter, r *http.Request) {
	runtimes, err := s.javaDisc.Discover(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, runtimes)
}

// --- Visual tasks ---

// taskView is the JSON-shaped snapshot of a vtask.Task: the type
// itself keeps its subtask list behind a method (mutex-guarded), so
// the API layer copies it into a plain struct for the response.
type taskView struct {
	ID       int32           `json:"id"`
	Name     string          `json:"name"`
	Progress vtask.Progress  `json:"progress"`
	Subtasks []vtask.Subtask `json:"subtasks"`
}

func newTaskView(t *vtask.Task) taskView {
	return taskView{ID: t.ID, Name: t.Name, Progress: t.Progress, Subtasks: t.Subtasks()}
}

func (s *ControlServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.tasks.List()
	views := make([]taskView, len(tasks))
	for i, t := range tasks {
		views[i] = newTaskView(t)
	}
	writeJSON(w, views)
}

func (s *ControlServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		http.Error(w, "Invalid task id", http.StatusBadRequest)
		return
	}
	task, ok := s.tasks.Get(int32(id))
	if !ok {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, newTaskView(task))
}

func (s *ControlServer) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		http.Error(w, "Invalid task id", http.StatusBadRequest)
		return
	}
	task, ok := s.tasks.Get(int32(id))
	if !ok {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	task.Cancel()
	w.WriteHeader(http.StatusOK)
}

// --- Diagnostics ---

func (s *ControlServer) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.stats.GetAnalytics())
}
