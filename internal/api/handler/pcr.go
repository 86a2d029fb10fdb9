package handler

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/tpm"
)

// PCRHandler reads trust-anchor registers. It is only mounted when the
// attached device can be read back, as the simulator can.
type PCRHandler struct {
	regs  tpm.Reader
	banks []tpm.Algorithm
}

// NewPCRHandler creates a PCRHandler, or returns nil when dev cannot be read.
func NewPCRHandler(dev tpm.Device) *PCRHandler {
	r, ok := dev.(tpm.Reader)
	if !ok {
		return nil
	}
	return &PCRHandler{regs: r, banks: dev.Banks()}
}

// Register mounts GET /pcrs/:pcr.
func (h *PCRHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/pcrs/:pcr", h.Get)
}

// Get handles GET /pcrs/:pcr, returning every bank's value in hex.
func (h *PCRHandler) Get(c *gin.Context) {
	pcr, err := strconv.Atoi(c.Param("pcr"))
	if err != nil || pcr < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pcr must be a non-negative integer"})
		return
	}
	banks := make(map[string]string, len(h.banks))
	for _, a := range h.banks {
		v, err := h.regs.Read(pcr, a)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		banks[string(a)] = hex.EncodeToString(v)
	}
	c.JSON(http.StatusOK, gin.H{"pcr": pcr, "banks": banks})
}
