package httpapp

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/egress-provisioner/internal/provision"
	"github.com/open-sspm/egress-provisioner/internal/secretref"
)

// statusClientClosedRequest is the non-standard status used when the caller
// went away before provisioning finished.
const statusClientClosedRequest = 499

// Stable error codes safe to return to clients.
const (
	InternalErrorCode          = "INTERNAL_ERROR"
	codeInvalidRequest         = "INVALID_REQUEST"
	codeInvalidSecretReference = "INVALID_SECRET_REFERENCE"
	codeNotFound               = "NOT_FOUND"
	codeLifecycleRejected      = "LIFECYCLE_REJECTED"
	codeProvisioningFailure    = "PROVISIONING_FAILURE"
	codeAddressResolution      = "ADDRESS_RESOLUTION_FAILURE"
	codeTimeout                = "TIMEOUT"
	codeClientClosedRequest    = "CLIENT_CLOSED_REQUEST"
	codeUnauthorized           = "UNAUTHORIZED"
	codeAuthNotConfigured      = "AUTH_NOT_CONFIGURED"
)

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Step      string `json:"step,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(c *echo.Context, status int, code, message string) error {
	requestID, _ := c.Get(ContextKeyRequestID).(string)
	return c.JSON(status, errorResponse{Code: code, Message: message, RequestID: requestID})
}

// provisionErrorResponse maps a provisioning failure to a status and body.
// ok is false for errors that should surface as a generic 500.
func provisionErrorResponse(err error) (int, errorResponse, bool) {
	var se *provision.StepError
	step := ""
	if errors.As(err, &se) {
		step = string(se.Step)
	}
	switch {
	case errors.Is(err, provision.ErrInvalidRequest):
		return http.StatusBadRequest, errorResponse{Code: codeInvalidRequest, Message: err.Error()}, true
	case errors.Is(err, secretref.ErrInvalidReference),
		errors.Is(err, secretref.ErrUnknownScheme),
		errors.Is(err, secretref.ErrNotFound):
		return http.StatusBadRequest, errorResponse{Code: codeInvalidSecretReference, Message: err.Error()}, true
	case errors.Is(err, provision.ErrNotFound):
		return http.StatusNotFound, errorResponse{Code: codeNotFound, Message: err.Error(), Step: step}, true
	case errors.Is(err, provision.ErrLifecycleRejected):
		return http.StatusConflict, errorResponse{Code: codeLifecycleRejected, Message: err.Error(), Step: step}, true
	case errors.Is(err, provision.ErrAddressResolutionFailure):
		return http.StatusUnprocessableEntity, errorResponse{Code: codeAddressResolution, Message: err.Error(), Step: step}, true
	case errors.Is(err, provision.ErrProvisioningFailure):
		return http.StatusBadGateway, errorResponse{Code: codeProvisioningFailure, Message: err.Error(), Step: step}, true
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{Code: codeTimeout, Message: "provisioning timed out"}, true
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, errorResponse{Code: codeClientClosedRequest, Message: "request canceled"}, true
	}
	return 0, errorResponse{}, false
}

func httpStatusFromError(err error) int {
	type statusCoder interface {
		StatusCode() int
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code >= 400 && code <= 599 {
			return code
		}
	}
	return http.StatusInternalServerError
}

// httpErrorHandler renders every unhandled error as JSON. Internal errors are
// logged and answered generically so details never reach the client.
func (es *EchoServer) httpErrorHandler(c *echo.Context, err error) {
	requestID, _ := c.Get(ContextKeyRequestID).(string)

	status := httpStatusFromError(err)
	resp := errorResponse{Code: InternalErrorCode, Message: "Internal server error.", RequestID: requestID}
	if status != http.StatusInternalServerError {
		resp.Code = strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
		resp.Message = http.StatusText(status)
	} else {
		req := c.Request()
		c.Logger().Error("http error",
			"request_id", requestID,
			"method", req.Method,
			"path", req.URL.Path,
			"ip", c.RealIP(),
			"error", err,
		)
	}
	if jsonErr := c.JSON(status, resp); jsonErr != nil {
		c.Logger().Error("failed to write error response", "request_id", requestID, "error", jsonErr)
	}
}
