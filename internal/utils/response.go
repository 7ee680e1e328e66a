package utils

import "time"

// APIResponse is the envelope for mutation and error responses. Read
// endpoints return their payloads bare; anything that changes state or
// fails wraps the outcome so clients can branch on Success without
// inspecting HTTP status text.
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// ErrorResponse carries a client-facing message plus the error detail.
// Callers pass an empty detail when the cause should stay in the logs.
func ErrorResponse(message, detail string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     detail,
		Timestamp: time.Now(),
	}
}
