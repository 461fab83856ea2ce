package rpc

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a failure reported by the backend itself.
type Error struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr) && rpcErr.StatusCode == http.StatusNotFound
}
