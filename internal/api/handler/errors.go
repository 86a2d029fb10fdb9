package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/measurement"
)

// statusFor maps an engine error code onto an HTTP status.
func statusFor(code measurement.ErrorCode) int {
	switch code {
	case measurement.CodeNamespaceNotFound:
		return http.StatusNotFound
	case measurement.CodeNamespaceInactive:
		return http.StatusForbidden
	case measurement.CodeDuplicateDigest:
		return http.StatusConflict
	case measurement.CodeOutOfMemory:
		return http.StatusInsufficientStorage
	case measurement.CodeHardwareError:
		return http.StatusBadGateway
	case measurement.CodeAdmissionOverflow:
		return http.StatusServiceUnavailable
	case measurement.CodeAdmissionTimeout:
		return http.StatusGatewayTimeout
	case measurement.CodeAdmissionCanceled:
		return http.StatusRequestTimeout
	case measurement.CodeInvalidEntry:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError renders err as a JSON error body.
func writeError(c *gin.Context, err error) {
	code := measurement.CodeOf(err)
	body := gin.H{"error": err.Error()}
	if code != "" {
		body["code"] = string(code)
		body["errno"] = code.Errno()
	}
	c.JSON(statusFor(code), body)
}
