package errors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	ErrCodeConfigInvalid    ErrCode = "CONFIG_INVALID"
	ErrCodeAuthFailed       ErrCode = "AUTH_FAILED"
	ErrCodeRemoteAPI        ErrCode = "REMOTE_API"
	ErrCodeDeploymentFailed ErrCode = "DEPLOYMENT_FAILED"
	ErrCodeTimeout          ErrCode = "TIMEOUT"
	ErrCodeNotFound         ErrCode = "NOT_FOUND"
	ErrCodeInvalidParameter ErrCode = "INVALID_PARAMETER"
	ErrCodeUnsupported      ErrCode = "UNSUPPORTED"
	ErrCodeBuildFailed      ErrCode = "BUILD_FAILED"
	ErrCodePushFailed       ErrCode = "PUSH_FAILED"
	ErrCodeScoringFailed    ErrCode = "SCORING_FAILED"
	ErrCodeUnknow           ErrCode = "UNKNOWN"
	ErrCodeInternal         ErrCode = "INTERNAL"
)

type ErrCode string

type ErrorInfo struct {
	HttpStatus int     `json:"-"`
	Code       ErrCode `json:"code"`
	Message    string  `json:"message"`
	Detail     string  `json:"detail,omitempty"`
}

func (e ErrorInfo) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func IsErrCode(err error, code ErrCode) bool {
	if err == nil {
		return false
	}
	info := ErrorInfo{}
	if errors.As(err, &info) {
		return info.Code == code
	}
	return false
}

func NewConfigInvalidError(msg string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusBadRequest, Code: ErrCodeConfigInvalid, Message: msg}
}

func NewAuthFailedError(provider string, err error) ErrorInfo {
	info := ErrorInfo{HttpStatus: http.StatusUnauthorized, Code: ErrCodeAuthFailed, Message: fmt.Sprintf("%s login failed", provider)}
	if err != nil {
		info.Detail = err.Error()
	}
	return info
}

// NewRemoteAPIError wraps a non-2xx answer from a remote service.
func NewRemoteAPIError(status int, method, url string, body string) ErrorInfo {
	return ErrorInfo{
		HttpStatus: status,
		Code:       ErrCodeRemoteAPI,
		Message:    fmt.Sprintf("%s %s: status %d", method, url, status),
		Detail:     body,
	}
}

func NewDeploymentFailedError(name string, err error) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusInternalServerError, Code: ErrCodeDeploymentFailed, Message: fmt.Sprintf("deployment %s", name), Detail: err.Error()}
}

func NewTimeoutError(msg string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusGatewayTimeout, Code: ErrCodeTimeout, Message: msg}
}

func NewNotFoundError(msg string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusNotFound, Code: ErrCodeNotFound, Message: msg}
}

func NewParameterInvalidError(msg string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusBadRequest, Code: ErrCodeInvalidParameter, Message: msg}
}

func NewUnsupportedError(msg string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusNotImplemented, Code: ErrCodeUnsupported, Message: msg}
}

func NewBuildFailedError(tag string, detail string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusInternalServerError, Code: ErrCodeBuildFailed, Message: fmt.Sprintf("build %s", tag), Detail: detail}
}

func NewPushFailedError(ref string, detail string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusInternalServerError, Code: ErrCodePushFailed, Message: fmt.Sprintf("push %s", ref), Detail: detail}
}

func NewScoringFailedError(id string, detail string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusInternalServerError, Code: ErrCodeScoringFailed, Message: fmt.Sprintf("scoring job %s", id), Detail: detail}
}

func NewInternalError(err error) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusInternalServerError, Code: ErrCodeInternal, Message: err.Error()}
}
