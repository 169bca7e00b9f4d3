// Package response provides shared JSON response helpers for HTTP handlers.
package response

import (
	"encoding/json"
	"net/http"
)

// Messages returned to clients.
const (
	MsgUploaded = "上传成功"
	MsgDeleted  = "删除成功"
	MsgOK       = "成功"
)

// Result is the standard API response body: {"code":200,"msg":"...","url":"..."}.
// Code mirrors the HTTP status.
type Result struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	URL  string      `json:"url,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// JSON writes a JSON-encoded payload with the given HTTP status code.
func JSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// OK writes a 200 response with data.
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, Result{Code: http.StatusOK, Msg: MsgOK, Data: data})
}

// Uploaded writes the 200 response of a successful upload.
func Uploaded(w http.ResponseWriter, url string) {
	JSON(w, http.StatusOK, Result{Code: http.StatusOK, Msg: MsgUploaded, URL: url})
}

// Deleted writes the 200 response of a delete.
func Deleted(w http.ResponseWriter) {
	JSON(w, http.StatusOK, Result{Code: http.StatusOK, Msg: MsgDeleted})
}

// Error writes an error response with the given status and message.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, Result{Code: status, Msg: message})
}

// Unauthorized writes a 401 response.
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, message)
}

// TooLarge writes a 413 response.
func TooLarge(w http.ResponseWriter, message string) {
	Error(w, http.StatusRequestEntityTooLarge, message)
}

// TooManyRequests writes a 429 response.
func TooManyRequests(w http.ResponseWriter) {
	Error(w, http.StatusTooManyRequests, "too many requests")
}

// ServiceUnavailable writes a 503 response.
func ServiceUnavailable(w http.ResponseWriter, message string) {
	Error(w, http.StatusServiceUnavailable, message)
}

// InternalError writes a 500 response with a generic message.
func InternalError(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, "internal server error")
}
