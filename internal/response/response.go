package response

import (
	"encoding/json"
	"net/http"
)

// Response is the envelope every endpoint writes.
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success creates a success response
func Success(message string, data interface{}) Response {
	return Response{
		Status:  "success",
		Message: message,
		Data:    data,
	}
}

// Error creates an error response
func Error(message string) Response {
	return Response{
		Status:  "fail",
		Message: message,
	}
}

// Fail creates an error response that still carries a payload, such as
// a sync result whose run failed partway.
func Fail(message string, data interface{}) Response {
	return Response{
		Status:  "fail",
		Message: message,
		Data:    data,
	}
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
