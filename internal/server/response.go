package server

import (
	"encoding/json"
	"net/http"
)

// messageResponse is the JSON body of every non-upload reply.
type messageResponse struct {
	Message string `json:"message"`
}

// uploadResponse adds the public path of a freshly stored upload.
type uploadResponse struct {
	Message string `json:"message"`
	Path    string `json:"path"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}
