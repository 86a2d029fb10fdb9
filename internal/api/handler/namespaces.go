package handler

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/export"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/measurement"
)

// NamespaceHandler serves namespace lifecycle and log exposition routes.
type NamespaceHandler struct {
	eng    *measurement.Engine
	logger *zap.Logger
}

// NewNamespaceHandler creates a NamespaceHandler.
func NewNamespaceHandler(eng *measurement.Engine, logger *zap.Logger) *NamespaceHandler {
	return &NamespaceHandler{eng: eng, logger: logger}
}

// Register mounts the namespace routes. admin guards the mutating ones.
func (h *NamespaceHandler) Register(rg *gin.RouterGroup, admin ...gin.HandlerFunc) {
	ns := rg.Group("/namespaces")
	{
		ns.GET("", h.List)
		ns.GET("/:id", h.Get)
		ns.GET("/:id/binary_runtime_measurements", h.Binary)
		ns.GET("/:id/ascii_runtime_measurements", h.ASCII)
		ns.GET("/:id/runtime_measurements_count", h.Count)
		ns.GET("/:id/violations", h.Violations)
		ns.GET("/:id/binary_runtime_size", h.RuntimeSize)
		ns.GET("/:id/lookup", h.Lookup)
	}
	adm := ns.Group("", admin...)
	{
		adm.POST("", h.Create)
		adm.POST("/:id/activate", h.Activate)
		adm.DELETE("/:id", h.Teardown)
	}
}

type namespaceView struct {
	ID          int    `json:"id"`
	Parent      int    `json:"parent,omitempty"`
	State       string `json:"state"`
	Entries     uint64 `json:"entries"`
	Violations  uint64 `json:"violations"`
	RuntimeSize uint64 `json:"binary_runtime_size"`
}

func viewOf(ns *measurement.Namespace) namespaceView {
	v := namespaceView{
		ID:          ns.ID(),
		State:       ns.State().String(),
		Entries:     ns.Len(),
		Violations:  ns.Violations(),
		RuntimeSize: ns.BinaryRuntimeSize(),
	}
	if p := ns.Parent(); p != nil {
		v.Parent = p.ID()
	}
	return v
}

// List handles GET /namespaces.
func (h *NamespaceHandler) List(c *gin.Context) {
	all := h.eng.Namespaces()
	out := make([]namespaceView, 0, len(all))
	for _, ns := range all {
		out = append(out, viewOf(ns))
	}
	c.JSON(http.StatusOK, gin.H{"namespaces": out, "count": len(out)})
}

// Get handles GET /namespaces/:id.
func (h *NamespaceHandler) Get(c *gin.Context) {
	id, ok := nsParam(c)
	if !ok {
		return
	}
	ns, found := h.eng.Namespace(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "namespace not found"})
		return
	}
	c.JSON(http.StatusOK, viewOf(ns))
}

type createRequest struct {
	Parent   int  `json:"parent"`
	Activate bool `json:"activate"`
}

// Create handles POST /namespaces.
func (h *NamespaceHandler) Create(c *gin.Context) {
	var req createRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Parent == 0 {
		req.Parent = measurement.RootID
	}

	ns, err := h.eng.CreateNamespace(req.Parent)
	if err != nil {
		writeError(c, err)
		return
	}
	if req.Activate {
		if err := h.eng.Activate(ns.ID()); err != nil {
			writeError(c, err)
			return
		}
	}
	h.logger.Info("namespace created", zap.Int("ns", ns.ID()), zap.Int("parent", req.Parent))
	c.JSON(http.StatusCreated, viewOf(ns))
}

// Activate handles POST /namespaces/:id/activate.
func (h *NamespaceHandler) Activate(c *gin.Context) {
	id, ok := nsParam(c)
	if !ok {
		return
	}
	if err := h.eng.Activate(id); err != nil {
		writeError(c, err)
		return
	}
	ns, _ := h.eng.Namespace(id)
	c.JSON(http.StatusOK, viewOf(ns))
}

// Teardown handles DELETE /namespaces/:id.
func (h *NamespaceHandler) Teardown(c *gin.Context) {
	id, ok := nsParam(c)
	if !ok {
		return
	}
	if err := h.eng.Teardown(id); err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info("namespace torn down", zap.Int("ns", id))
	c.Status(http.StatusNoContent)
}

// Binary handles GET /namespaces/:id/binary_runtime_measurements.
func (h *NamespaceHandler) Binary(c *gin.Context) {
	ns, ok := h.view(c)
	if !ok {
		return
	}
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	if _, err := export.WriteBinary(c.Writer, ns.Entries()); err != nil {
		h.logger.Warn("write binary measurements", zap.Int("ns", ns.ID()), zap.Error(err))
	}
}

// ASCII handles GET /namespaces/:id/ascii_runtime_measurements.
func (h *NamespaceHandler) ASCII(c *gin.Context) {
	ns, ok := h.view(c)
	if !ok {
		return
	}
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)
	if err := export.WriteASCII(c.Writer, ns.Entries()); err != nil {
		h.logger.Warn("write ascii measurements", zap.Int("ns", ns.ID()), zap.Error(err))
	}
}

// Count handles GET /namespaces/:id/runtime_measurements_count.
func (h *NamespaceHandler) Count(c *gin.Context) {
	if ns, ok := h.view(c); ok {
		c.String(http.StatusOK, "%d\n", ns.Len())
	}
}

// Violations handles GET /namespaces/:id/violations.
func (h *NamespaceHandler) Violations(c *gin.Context) {
	if ns, ok := h.view(c); ok {
		c.String(http.StatusOK, "%d\n", ns.Violations())
	}
}

// RuntimeSize handles GET /namespaces/:id/binary_runtime_size.
func (h *NamespaceHandler) RuntimeSize(c *gin.Context) {
	if ns, ok := h.view(c); ok {
		c.String(http.StatusOK, "%d\n", ns.BinaryRuntimeSize())
	}
}

// Lookup handles GET /namespaces/:id/lookup?digest=<hex>&pcr=<n>. The digest
// is of the index algorithm.
func (h *NamespaceHandler) Lookup(c *gin.Context) {
	ns, ok := h.view(c)
	if !ok {
		return
	}
	digest, err := hex.DecodeString(c.Query("digest"))
	if err != nil || len(digest) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "digest must be a non-empty hex string"})
		return
	}
	pcr, err := strconv.Atoi(c.DefaultQuery("pcr", "10"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pcr must be an integer"})
		return
	}

	e := ns.Lookup(digest, pcr)
	if e == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "digest not in log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pcr":      e.PCR,
		"template": e.Name(),
		"digest":   hex.EncodeToString(e.ExportDigest()),
		"entry":    export.FormatASCII(e),
	})
}

// view resolves :id to a readable namespace, writing the error response
// when it is missing or inactive.
func (h *NamespaceHandler) view(c *gin.Context) (*measurement.Namespace, bool) {
	id, ok := nsParam(c)
	if !ok {
		return nil, false
	}
	ns, err := h.eng.View(id)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return ns, true
}

func nsParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}
