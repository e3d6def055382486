package chatapi

import (
	"fmt"
	"net/http"
	"strings"
)

// ApiError is returned for any non-2xx reply from the chat backend.
type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Message, e.Err.Error())
	}

	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func newApiError(resp *http.Response, body []byte) *ApiError {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = strings.ToLower(http.StatusText(resp.StatusCode))
	}

	return &ApiError{
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}
