package http

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/domain/installer"
	"github.com/GriffinCanCode/appruntime/internal/domain/lifecycle"
	"github.com/GriffinCanCode/appruntime/internal/domain/registry"
	"github.com/GriffinCanCode/appruntime/internal/domain/scheduler"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/notify"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
	"github.com/GriffinCanCode/appruntime/internal/shared/utils"
)

// DefaultTimeout bounds how long a request waits for the loop
const DefaultTimeout = 5 * time.Second

// Handlers contains all admin HTTP handlers
type Handlers struct {
	loop       *scheduler.Loop
	registry   *registry.Manager
	installer  *installer.Installer
	hub        *notify.Hub
	metrics    *monitoring.Metrics
	catalogURL string
	timeout    time.Duration
	tracer     *tracing.Tracer
	logger     *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(
	loop *scheduler.Loop,
	reg *registry.Manager,
	inst *installer.Installer,
	hub *notify.Hub,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		loop:      loop,
		registry:  reg,
		installer: inst,
		hub:       hub,
		metrics:   metrics,
		timeout:   DefaultTimeout,
		logger:    logger,
	}
}

// WithCatalog sets the default update catalog URL
func (h *Handlers) WithCatalog(url string) *Handlers {
	h.catalogURL = url
	return h
}

// WithTimeout sets how long a request waits for the loop
func (h *Handlers) WithTimeout(d time.Duration) *Handlers {
	h.timeout = d
	return h
}

// WithTracer records a child span for every closure posted to the loop
func (h *Handlers) WithTracer(t *tracing.Tracer) *Handlers {
	h.tracer = t
	return h
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/stats", h.Stats)
	r.GET("/notifications", h.Notifications)

	// Packages
	r.GET("/packages", h.ListPackages)
	r.GET("/packages/:id", h.GetPackage)
	r.POST("/packages", h.InstallPackage)
	r.POST("/packages/upload", h.UploadPackage)
	r.DELETE("/packages/:id", h.UninstallPackage)
	r.POST("/packages/:id/restore", h.RestorePackage)
	r.POST("/rescan", h.Rescan)
	r.GET("/updates", h.Updates)

	// Navigation
	r.POST("/launch", h.Launch)
	r.POST("/back", h.Back)
	r.POST("/home", h.Home)
	r.POST("/input", h.Input)
	r.GET("/stack", h.Stack)
	r.GET("/instances", h.ListInstances)
	r.POST("/instances/:id/finish", h.FinishInstance)
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "appruntime",
		"loop":    h.loop.Stats().Running,
	})
}

// Stats reports loop, runtime, registry and metric counters
func (h *Handlers) Stats(c *gin.Context) {
	var runtime types.RuntimeStats
	err := h.do(c, func(ctl *lifecycle.Controller) error {
		runtime = ctl.Stats()
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runtime":  runtime,
		"loop":     h.loop.Stats(),
		"registry": h.registry.Stats(),
		"metrics":  h.metrics.Snapshot(),
		"notify": gin.H{
			"subscribers": h.hub.Subscribers(),
			"dropped":     h.hub.Dropped(),
		},
	})
}

// Notifications returns the most recent notifications
func (h *Handlers) Notifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notifications": h.hub.Recent()})
}

// ============================================================================
// Packages
// ============================================================================

// ListPackages lists the effective package set, optionally by category
func (h *Handlers) ListPackages(c *gin.Context) {
	var pkgs []types.Package
	if category := c.Query("category"); category != "" {
		if err := utils.ValidateCategory(category); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		pkgs = h.registry.ListCategory(category)
	} else {
		pkgs = h.registry.List()
	}
	c.JSON(http.StatusOK, gin.H{
		"packages": pkgs,
		"stats":    h.registry.Stats(),
	})
}

// GetPackage returns one package
func (h *Handlers) GetPackage(c *gin.Context) {
	id, ok := packageParam(c)
	if !ok {
		return
	}
	pkg, err := h.registry.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pkg)
}

// InstallRequest names a bundle on the local filesystem or at a URL
type InstallRequest struct {
	Path  string `json:"path"`
	URL   string `json:"url"`
	Force bool   `json:"force"`
}

// InstallPackage installs a bundle from a path or URL
func (h *Handlers) InstallPackage(c *gin.Context) {
	var req InstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (req.Path == "") == (req.URL == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of path or url is required"})
		return
	}

	opts := installer.Options{Force: req.Force}
	var (
		id  string
		err error
	)
	if req.URL != "" {
		id, err = h.installer.InstallFromURL(c.Request.Context(), req.URL, opts)
	} else {
		id, err = h.installer.Install(c.Request.Context(), req.Path, opts)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	h.installed(c, id)
}

// UploadPackage installs a bundle sent as the multipart field "bundle"
func (h *Handlers) UploadPackage(c *gin.Context) {
	file, err := c.FormFile("bundle")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	staging := h.registry.Layout().Staging()
	if err := os.MkdirAll(staging, 0o755); err != nil {
		writeError(c, err)
		return
	}
	tmp, err := os.CreateTemp(staging, "upload-*"+filepath.Ext(file.Filename))
	if err != nil {
		writeError(c, err)
		return
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := c.SaveUploadedFile(file, tmp.Name()); err != nil {
		writeError(c, err)
		return
	}

	id, err := h.installer.Install(c.Request.Context(), tmp.Name(), installer.Options{Force: c.Query("force") == "true"})
	if err != nil {
		writeError(c, err)
		return
	}
	h.installed(c, id)
}

func (h *Handlers) installed(c *gin.Context, id string) {
	pkg, err := h.registry.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pkg)
}

// UninstallPackage removes an installed package
func (h *Handlers) UninstallPackage(c *gin.Context) {
	id, ok := packageParam(c)
	if !ok {
		return
	}
	if err := h.installer.Uninstall(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

// RestorePackage removes an installed override so the built-in copy is effective again
func (h *Handlers) RestorePackage(c *gin.Context) {
	id, ok := packageParam(c)
	if !ok {
		return
	}
	if err := h.installer.RestoreBuiltin(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	pkg, err := h.registry.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pkg)
}

// Rescan reloads both storage locations
func (h *Handlers) Rescan(c *gin.Context) {
	if err := h.registry.Scan(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.registry.Stats())
}

// Updates lists packages with a newer version in the catalog
func (h *Handlers) Updates(c *gin.Context) {
	url := c.DefaultQuery("catalog", h.catalogURL)
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no catalog configured"})
		return
	}
	updates, err := h.installer.CheckUpdates(c.Request.Context(), url)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updates": updates})
}

// ============================================================================
// Navigation
// ============================================================================

// Launch resolves a launch request and starts or reuses an instance
func (h *Handlers) Launch(c *gin.Context) {
	var req types.LaunchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		res   types.Resolution
		stats types.RuntimeStats
	)
	err := h.do(c, func(ctl *lifecycle.Controller) error {
		var err error
		res, err = ctl.Start(c.Request.Context(), req)
		stats = ctl.Stats()
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"resolution": res,
		"mode":       res.Mode.String(),
		"foreground": stats.ForegroundID,
	})
}

// Back pops the foreground entry
func (h *Handlers) Back(c *gin.Context) {
	h.navigate(c, (*lifecycle.Controller).Back)
}

// Home clears the stack down to the home entry
func (h *Handlers) Home(c *gin.Context) {
	h.navigate(c, (*lifecycle.Controller).Home)
}

func (h *Handlers) navigate(c *gin.Context, op func(*lifecycle.Controller) error) {
	var stack []lifecycle.StackEntry
	err := h.do(c, func(ctl *lifecycle.Controller) error {
		if err := op(ctl); err != nil {
			return err
		}
		stack = ctl.Stack()
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stack": stack})
}

// Input delivers an input event to the foreground instance
func (h *Handlers) Input(c *gin.Context) {
	var ev lifecycle.InputEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.do(c, func(ctl *lifecycle.Controller) error {
		return ctl.DispatchInput(ev)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Stack returns the navigation history, home first
func (h *Handlers) Stack(c *gin.Context) {
	var stack []lifecycle.StackEntry
	err := h.do(c, func(ctl *lifecycle.Controller) error {
		stack = ctl.Stack()
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stack": stack})
}

// ListInstances lists every live instance
func (h *Handlers) ListInstances(c *gin.Context) {
	var instances []lifecycle.Info
	err := h.do(c, func(ctl *lifecycle.Controller) error {
		instances = ctl.Instances()
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instances": instances})
}

// FinishRequest optionally carries the result to hand back
type FinishRequest struct {
	Result *types.Result `json:"result"`
}

// FinishInstance finishes an instance, delivering its result to a waiting caller
func (h *Handlers) FinishInstance(c *gin.Context) {
	instanceID := c.Param("id")
	if err := utils.ValidateString(instanceID, "instance_id", 1, utils.MaxIDLength, true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req FinishRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	err := h.do(c, func(ctl *lifecycle.Controller) error {
		if req.Result != nil {
			if err := ctl.SetResult(instanceID, *req.Result); err != nil {
				return err
			}
		}
		return ctl.Finish(instanceID)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "instance_id": instanceID})
}

// do runs fn on the loop, bounded by the request context and the handler timeout
func (h *Handlers) do(c *gin.Context, fn func(ctl *lifecycle.Controller) error) error {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	if h.tracer == nil {
		return h.loop.Do(ctx, fn)
	}

	span, ctx := h.tracer.StartSpan(ctx, "loop.do")
	err := h.loop.Do(ctx, fn)
	span.Finish()
	span.SetError(err)
	h.tracer.Submit(span)
	return err
}

func packageParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if err := utils.ValidatePackageID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return id, true
}

// writeError maps runtime errors onto HTTP statuses
func writeError(c *gin.Context, err error) {
	var amb *types.AmbiguousError
	if errors.As(err, &amb) {
		c.JSON(http.StatusConflict, gin.H{
			"error":      err.Error(),
			"code":       "ambiguous",
			"candidates": amb.Candidates,
		})
		return
	}

	status, code := statusOf(err)
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, types.ErrInvalidBundle):
		return http.StatusBadRequest, "invalid_bundle"
	case errors.Is(err, types.ErrReservedIdentifier):
		return http.StatusBadRequest, "reserved_identifier"
	case errors.Is(err, types.ErrDowngrade):
		return http.StatusConflict, "downgrade"
	case errors.Is(err, types.ErrHomeEntry):
		return http.StatusConflict, "home_entry"
	case errors.Is(err, types.ErrBuiltinReadOnly):
		return http.StatusForbidden, "builtin_read_only"
	case errors.Is(err, types.ErrStorageExhausted):
		return http.StatusInsufficientStorage, "storage_exhausted"
	case errors.Is(err, types.ErrCrashLoop):
		return http.StatusServiceUnavailable, "crash_loop"
	case errors.Is(err, types.ErrPackageBusy):
		return http.StatusServiceUnavailable, "package_busy"
	case errors.Is(err, scheduler.ErrStopped):
		return http.StatusServiceUnavailable, "stopped"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
