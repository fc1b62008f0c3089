package auth

import (
	"errors"
	"fmt"
)

// Message types carried in transport.Message.Type.
const (
	TypeRequest  = "auth.request"
	TypeResponse = "auth.response"
)

// Response codes.
const (
	CodeAccepted byte = 100
	CodeRejected byte = 200
)

// Request is sent client to server once, right after the connection opens.
type Request struct {
	PlayerSessionID string `json:"playerSessionId"`
	PlayerID        string `json:"playerId"`
}

// Response is the server's single answer to a Request.
type Response struct {
	Code    byte   `json:"code"`
	Message string `json:"message"`
}

func (r Response) Accepted() bool { return r.Code == CodeAccepted }

var (
	// ErrRejected means the server denied the reservation.
	ErrRejected = errors.New("authentication rejected")
	// ErrTimeout means no auth message arrived within the allowed time.
	ErrTimeout = errors.New("authentication timed out")
)

// RejectedError carries the server-provided reason of a rejection.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRejected, e.Message)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }
