package internal

import (
	"context"
	"net/http"
)

// RateLimiter paces outgoing requests
type RateLimiter interface {
	Wait(ctx context.Context) error
	SetRate(requestsPerSecond float64)
}

// CookieStore is the durable cookie jar shared by every upstream call
type CookieStore interface {
	http.CookieJar
	Load(path string) error
	Save(path string) error
	Clear()
	All() []*http.Cookie
}

// TimeshiftClient registers and lists timeshift reservations
type TimeshiftClient interface {
	Register(ctx context.Context, liveID interface{}, overwrite bool) (Outcome, error)
	List(ctx context.Context) ([]TimeshiftReservation, error)
}

// ProgramSource yields search results one at a time; io.EOF ends the stream
type ProgramSource interface {
	Next(ctx context.Context) (*Program, error)
}
