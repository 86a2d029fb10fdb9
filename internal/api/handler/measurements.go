package handler

import (
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/measurement"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/template"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/tpm"
)

// MeasurementHandler accepts measured events and admits them into the log.
type MeasurementHandler struct {
	eng        *measurement.Engine
	defaultPCR int
	logger     *zap.Logger
}

// NewMeasurementHandler creates a MeasurementHandler. defaultPCR is used for
// requests that do not name a register.
func NewMeasurementHandler(eng *measurement.Engine, defaultPCR int, logger *zap.Logger) *MeasurementHandler {
	return &MeasurementHandler{eng: eng, defaultPCR: defaultPCR, logger: logger}
}

// Register mounts the measurement routes behind admin.
func (h *MeasurementHandler) Register(rg *gin.RouterGroup, admin ...gin.HandlerFunc) {
	rg.POST("/namespaces/:id/measurements", append(admin, h.Measure)...)
}

// MeasureRequest is the body of POST /namespaces/:id/measurements. Binary
// fields are hex encoded.
type MeasureRequest struct {
	Template   string `json:"template"`
	PCR        *int   `json:"pcr"`
	Name       string `json:"name" binding:"required"`
	Algorithm  string `json:"algorithm"`
	FileDigest string `json:"file_digest"`
	Signature  string `json:"signature"`
	Buffer     string `json:"buffer"`
	Violation  bool   `json:"violation"`
	Hook       string `json:"hook"`
	Op         string `json:"op"`
	Subject    string `json:"subject"`
	// Local admits into the namespace only, without its ancestors and
	// without passing the admission gate.
	Local bool `json:"local"`
}

// AdmissionView reports one namespace's admission.
type AdmissionView struct {
	Namespace int    `json:"namespace"`
	Position  uint64 `json:"position"`
	Stored    bool   `json:"stored"`
	Code      string `json:"code,omitempty"`
	Errno     int    `json:"errno"`
}

// Measure handles POST /namespaces/:id/measurements.
func (h *MeasurementHandler) Measure(c *gin.Context) {
	id, ok := nsParam(c)
	if !ok {
		return
	}
	var body MeasureRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := h.buildRequest(id, body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	var adms []measurement.Admission
	if body.Local {
		pos, err := h.eng.Append(ctx, id, &req)
		if measurement.IsInactive(err) || measurement.IsNotFound(err) {
			writeError(c, err)
			return
		}
		adms = []measurement.Admission{{Namespace: id, Position: pos, Err: err}}
	} else {
		adms, err = h.eng.Measure(ctx, id, req)
		if err != nil && len(adms) == 0 {
			writeError(c, err)
			return
		}
		if err != nil {
			h.logger.Warn("measurement admission stopped", zap.Int("ns", id), zap.Error(err))
		}
	}

	views := make([]AdmissionView, 0, len(adms))
	for _, a := range adms {
		v := AdmissionView{Namespace: a.Namespace, Position: a.Position, Stored: measurement.Recorded(a.Err)}
		if code := measurement.CodeOf(a.Err); code != "" {
			v.Code = string(code)
			v.Errno = code.Errno()
		}
		views = append(views, v)
	}

	resp := gin.H{
		"admissions": views,
		"digest":     hex.EncodeToString(req.Entry.ExportDigest()),
	}
	status := http.StatusCreated
	if !views[0].Stored {
		code := measurement.CodeOf(adms[0].Err)
		status = statusFor(code)
		resp["error"] = adms[0].Err.Error()
		if code != "" {
			resp["code"] = string(code)
			resp["errno"] = code.Errno()
		}
	}
	c.JSON(status, resp)
}

func (h *MeasurementHandler) buildRequest(id int, body MeasureRequest) (measurement.Request, error) {
	tmplName := body.Template
	if tmplName == "" {
		tmplName = "ima-ng"
	}
	desc, ok := template.Lookup(tmplName)
	if !ok {
		var err error
		if desc, err = template.Parse(tmplName); err != nil {
			return measurement.Request{}, err
		}
	}

	alg := tpm.SHA256
	if body.Algorithm != "" {
		a, err := tpm.ParseAlgorithm(body.Algorithm)
		if err != nil {
			return measurement.Request{}, err
		}
		alg = a
	}

	hook := measurement.HookNone
	if body.Hook != "" {
		hk, err := measurement.ParseHook(body.Hook)
		if err != nil {
			return measurement.Request{}, err
		}
		hook = hk
	}

	ev := template.Event{Algorithm: alg, Name: body.Name, NamespaceID: id}
	for _, f := range []struct {
		name string
		hex  string
		dst  *[]byte
	}{
		{"file_digest", body.FileDigest, &ev.FileDigest},
		{"signature", body.Signature, &ev.Signature},
		{"buffer", body.Buffer, &ev.Buffer},
	} {
		b, err := hex.DecodeString(f.hex)
		if err != nil {
			return measurement.Request{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = b
	}
	if !body.Violation && len(ev.FileDigest) != alg.Size() {
		return measurement.Request{}, fmt.Errorf("file_digest: want %d bytes of %s, got %d", alg.Size(), alg, len(ev.FileDigest))
	}

	pcr := h.defaultPCR
	if body.PCR != nil {
		pcr = *body.PCR
	}

	build := measurement.NewEntry
	if body.Violation {
		build = measurement.NewViolationEntry
	}
	entry, err := build(pcr, desc, ev, h.eng.Algorithms())
	if err != nil {
		return measurement.Request{}, err
	}
	return measurement.Request{
		Entry:     entry,
		Violation: body.Violation,
		Op:        body.Op,
		Hook:      hook,
		Subject:   body.Subject,
	}, nil
}
