package scoring

import (
	"encoding/json"
	"errors"
	"net/http"

	apierr "kubegems.io/modelimage/pkg/errors"
)

type StatusResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
}

func ResponseError(w http.ResponseWriter, err error) {
	info := apierr.ErrorInfo{}
	if !errors.As(err, &info) {
		info = apierr.ErrorInfo{
			HttpStatus: http.StatusBadRequest,
			Code:       apierr.ErrCodeUnknow,
			Message:    err.Error(),
		}
	}
	ResponseStatus(w, info.HttpStatus, info.Error())
}

func ResponseStatus(w http.ResponseWriter, status int, message string) {
	ResponseJSON(w, status, StatusResponse{Status: status, Message: message})
}

func ResponseCreated(w http.ResponseWriter, id string) {
	ResponseJSON(w, http.StatusCreated, StatusResponse{Status: http.StatusCreated, ID: id})
}

func ResponseJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
