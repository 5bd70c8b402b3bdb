package httpx

import (
	"encoding/json"
	"log"
	"net/http"
)

type errorBody struct {
	Error string `json:"error"`
}

// JSON marshals payload and writes it with the given status. The payload is
// encoded before the status line is committed, so a marshalling failure can
// still degrade to a 500 instead of a truncated body.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if payload == nil {
		w.WriteHeader(status)
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("httpx: marshal response payload: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"response encoding failed"}`))
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes the error envelope shared by every handler in the module.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, errorBody{Error: message})
}
