package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/chatcore/internal/chat"
	"github.com/npezzotti/chatcore/internal/chatapi"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(statusCode int, err error) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    lower(http.StatusText(statusCode)),
		Err:        err,
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest, nil)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound, nil)
}

func NewInternalServerError(err error) *ApiError {
	return newApiError(http.StatusInternalServerError, err)
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized, nil)
}

// errorFor maps a session error to the response the UI gets.
func errorFor(err error) *ApiError {
	var (
		sendErr    *chat.SendError
		persistErr *chat.PersistenceError
		restErr    *chatapi.ApiError
	)

	switch {
	case errors.Is(err, chat.ErrInvalidCredential):
		return NewUnauthorizedError()
	case chat.IsNotFound(err):
		return NewNotFoundError()
	case errors.Is(err, chat.ErrEmptyMessage):
		return &ApiError{StatusCode: http.StatusBadRequest, Message: chat.ErrEmptyMessage.Error()}
	case errors.Is(err, chat.ErrNotConnected), errors.Is(err, chat.ErrSessionClosed):
		return &ApiError{StatusCode: http.StatusServiceUnavailable, Message: rootMessage(err), Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return newApiError(http.StatusGatewayTimeout, err)
	case errors.As(err, &sendErr), errors.As(err, &persistErr), errors.As(err, &restErr):
		return newApiError(http.StatusBadGateway, err)
	}

	return NewInternalServerError(err)
}

func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
