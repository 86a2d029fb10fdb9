package handler_test

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/api/handler"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/measurement"
)

type measureResponse struct {
	Admissions []handler.AdmissionView `json:"admissions"`
	Digest     string                  `json:"digest"`
	Error      string                  `json:"error"`
	Code       string                  `json:"code"`
	Errno      int                     `json:"errno"`
}

func decodeMeasure(t *testing.T, body []byte) measureResponse {
	t.Helper()
	var resp measureResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	return resp
}

func TestMeasure_duplicate409(t *testing.T) {
	env := setupRouter(t)
	body := map[string]any{"name": "/bin/sh", "file_digest": fileDigest("/bin/sh")}

	w := env.do(t, http.MethodPost, "/api/v1/namespaces/1/measurements", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("first: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	first := decodeMeasure(t, w.Body.Bytes())
	if len(first.Admissions) != 1 || !first.Admissions[0].Stored {
		t.Fatalf("first: unexpected admissions %+v", first.Admissions)
	}

	w = env.do(t, http.MethodPost, "/api/v1/namespaces/1/measurements", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("second: expected 409, got %d: %s", w.Code, w.Body.String())
	}
	second := decodeMeasure(t, w.Body.Bytes())
	a := second.Admissions[0]
	if a.Stored || a.Code != string(measurement.CodeDuplicateDigest) || a.Errno != -17 {
		t.Errorf("second: unexpected admission %+v", a)
	}
	if a.Position != first.Admissions[0].Position {
		t.Errorf("duplicate should report the stored position %d, got %d", first.Admissions[0].Position, a.Position)
	}
	if second.Code != string(measurement.CodeDuplicateDigest) || second.Errno != -17 || second.Error == "" {
		t.Errorf("second: top-level error fields missing: code=%q errno=%d error=%q", second.Code, second.Errno, second.Error)
	}
	if second.Digest != first.Digest {
		t.Errorf("digests differ: %s vs %s", first.Digest, second.Digest)
	}
}

func TestMeasure_propagatesToAncestors(t *testing.T) {
	env := setupRouter(t)
	env.do(t, http.MethodPost, "/api/v1/namespaces", map[string]any{"activate": true})

	w := env.do(t, http.MethodPost, "/api/v1/namespaces/2/measurements", map[string]any{
		"name":        "/usr/bin/env",
		"file_digest": fileDigest("/usr/bin/env"),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeMeasure(t, w.Body.Bytes())
	if len(resp.Admissions) != 2 {
		t.Fatalf("expected 2 admissions, got %+v", resp.Admissions)
	}
	if resp.Admissions[0].Namespace != 2 || resp.Admissions[1].Namespace != measurement.RootID {
		t.Errorf("unexpected admission order %+v", resp.Admissions)
	}
	if got := env.sim.ExtendCount(); got != 2 {
		t.Errorf("expected 2 extends, got %d", got)
	}
}

func TestMeasure_localSkipsAncestors(t *testing.T) {
	env := setupRouter(t)
	env.do(t, http.MethodPost, "/api/v1/namespaces", map[string]any{"activate": true})

	w := env.do(t, http.MethodPost, "/api/v1/namespaces/2/measurements", map[string]any{
		"name":        "/usr/bin/env",
		"file_digest": fileDigest("/usr/bin/env"),
		"local":       true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if n := len(decodeMeasure(t, w.Body.Bytes()).Admissions); n != 1 {
		t.Errorf("expected 1 admission, got %d", n)
	}
	root, _ := env.eng.Namespace(measurement.RootID)
	if root.Len() != 0 {
		t.Errorf("root log should be empty, has %d entries", root.Len())
	}
}

func TestMeasure_inactive403(t *testing.T) {
	env := setupRouter(t)
	env.do(t, http.MethodPost, "/api/v1/namespaces", map[string]any{})

	w := env.do(t, http.MethodPost, "/api/v1/namespaces/2/measurements", map[string]any{
		"name":        "/bin/sh",
		"file_digest": fileDigest("/bin/sh"),
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	causes := env.sink.Causes()
	if len(causes) != 1 || causes[0] != measurement.CauseNamespaceInactive {
		t.Errorf("unexpected audit causes %v", causes)
	}
}

func TestMeasure_violation(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/namespaces/1/measurements", map[string]any{
		"name":      "/etc/shadow",
		"violation": true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if d := decodeMeasure(t, w.Body.Bytes()).Digest; d != strings.Repeat("0", 40) {
		t.Errorf("violation digest should be zero, got %s", d)
	}
	w = env.do(t, http.MethodGet, "/api/v1/namespaces/1/violations", nil)
	if w.Body.String() != "1\n" {
		t.Errorf("violations: got %q", w.Body.String())
	}
}

func TestMeasure_hookSetsAuditOp(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/namespaces/1/measurements", map[string]any{
		"name":        "/bin/sh",
		"file_digest": fileDigest("/bin/sh"),
		"hook":        "bprm",
		"subject":     "system_u:system_r:init_t",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	recs := env.sink.Records()
	if len(recs) != 1 || recs[0].Op != "measuring_bprm" || recs[0].Subject != "system_u:system_r:init_t" {
		t.Errorf("unexpected audit records %+v", recs)
	}
}

func TestMeasure_badRequests(t *testing.T) {
	env := setupRouter(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"file_digest": fileDigest("x")}},
		{"short digest", map[string]any{"name": "/bin/sh", "file_digest": "abcd"}},
		{"bad hex", map[string]any{"name": "/bin/sh", "file_digest": "zz"}},
		{"unknown template", map[string]any{"name": "/bin/sh", "file_digest": fileDigest("x"), "template": "d-ng|bogus"}},
		{"unknown algorithm", map[string]any{"name": "/bin/sh", "file_digest": fileDigest("x"), "algorithm": "md5"}},
		{"unknown hook", map[string]any{"name": "/bin/sh", "file_digest": fileDigest("x"), "hook": "nope"}},
		{"pcr out of range", map[string]any{"name": "/bin/sh", "file_digest": fileDigest("x"), "pcr": 99}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/namespaces/1/measurements", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}
