package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hitoshi/socialfeed/internal/model"
)

// RetryAfterSeconds は503応答の Retry-After ヘッダーに設定する秒数。
const RetryAfterSeconds = 5

// errorBody はAPIエラーレスポンスのJSON表現。Err はレスポンスに含めない。
type errorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteUnavailable は再試行可能なエラーを Retry-After 付きの503で書き込む。
func WriteUnavailable(w http.ResponseWriter, apiErr *model.APIError) {
	w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	WriteErrorResponse(w, http.StatusServiceUnavailable, apiErr)
}

// WriteInternalServerError は500の統一レスポンスを書き込む。詳細は呼び出し元がログに残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError(nil))
}
