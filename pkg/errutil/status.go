package errutil

import "net/http"

// CoreStatus is the stable, transport independent error code.
type CoreStatus string

const (
	StatusValidationFailed CoreStatus = "VALIDATION_FAILED"
	StatusNotFound         CoreStatus = "NOT_FOUND"
	StatusInvalidState     CoreStatus = "INVALID_STATE"
	StatusStorage          CoreStatus = "STORAGE_ERROR"
	StatusRuntimeFault     CoreStatus = "RUNTIME_FAULT"
	StatusInternal         CoreStatus = "INTERNAL"
	StatusBadRequest       CoreStatus = "BAD_REQUEST"
	StatusUnknown          CoreStatus = "UNKNOWN"
)

// HTTPStatus maps the code onto the status the HTTP adapter replies with.
func (s CoreStatus) HTTPStatus() int {
	switch s {
	case StatusValidationFailed:
		return http.StatusUnprocessableEntity
	case StatusBadRequest:
		return http.StatusBadRequest
	case StatusNotFound:
		return http.StatusNotFound
	case StatusInvalidState:
		return http.StatusConflict
	case StatusStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
