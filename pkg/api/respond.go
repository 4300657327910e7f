package api

import (
	"encoding/json"
	"net/http"
)

// dataEnvelope is the success envelope. Pagination is present only on
// list responses.
type dataEnvelope struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// WriteData writes a success envelope with the given status and payload.
func WriteData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dataEnvelope{Success: true, Data: data})
}

// WriteList writes a success envelope with pagination metadata.
func WriteList(w http.ResponseWriter, status int, data any, p Pagination) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dataEnvelope{Success: true, Data: data, Pagination: &p})
}

// WriteRejection writes a rejection envelope, deriving the HTTP status
// from the rejection's code.
func WriteRejection(w http.ResponseWriter, rej *Rejection) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rej.Code.HTTPStatus())
	json.NewEncoder(w).Encode(rej)
}

// WriteError writes a rejection for an arbitrary error. Rejections
// pass through unchanged; anything else becomes an opaque INTERNAL
// rejection so handler errors never leak detail to clients.
func WriteError(w http.ResponseWriter, err error) {
	if rej, ok := err.(*Rejection); ok {
		WriteRejection(w, rej)
		return
	}
	WriteRejection(w, NewRejection(CodeInternal, "internal server error"))
}
