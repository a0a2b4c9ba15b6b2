package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/tascade/tascade/internal/kernel/kerrors"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps a kernel error to its stable HTTP envelope. Any error that
// is not a *kerrors.Error is treated as internal and its message is not
// leaked to the client.
func writeError(w http.ResponseWriter, err error) {
	if kerr, ok := err.(*kerrors.Error); ok {
		writeJSON(w, kerr.HTTPStatus(), errorEnvelope{Error: errorBody{
			Code:    string(kerr.Code),
			Message: kerr.Message,
			Details: kerr.Details,
		}})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorBody{
		Code:    string(kerrors.Internal),
		Message: "internal error",
	}})
}

func writeNotFound(w http.ResponseWriter, msg string) {
	writeError(w, kerrors.New(kerrors.NotFound, "%s", msg))
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeError(w, kerrors.New(kerrors.InvalidWorkSpec, "%s", msg))
}
