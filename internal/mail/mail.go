package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tcgledger/internal"
)

// Empty pattern lists pass everything.
type Filter struct {
	Mailbox         string
	SenderPatterns  []string
	SubjectPatterns []string
	LookbackDays    int
	UnreadOnly      bool
	MarkSeen        bool
	Max             int
}

func (f Filter) Matches(from, subject string) bool {
	return containsAny(from, f.SenderPatterns) && containsAny(subject, f.SubjectPatterns)
}

func (f Filter) Since() time.Time {
	if f.LookbackDays <= 0 {
		return time.Time{}
	}
	return time.Now().UTC().AddDate(0, 0, -f.LookbackDays)
}

func containsAny(value string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	lower := strings.ToLower(value)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

type Connector interface {
	FetchCandidates(ctx context.Context, filter Filter) ([]internal.RawMessage, error)
}

type ErrorKind string

const (
	KindAuth       ErrorKind = "auth"
	KindConnection ErrorKind = "connection"
	KindTimeout    ErrorKind = "timeout"
)

type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("mail %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func WrapError(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func IsAuth(err error) bool       { return hasKind(err, KindAuth) }
func IsConnection(err error) bool { return hasKind(err, KindConnection) }
func IsTimeout(err error) bool    { return hasKind(err, KindTimeout) }

func hasKind(err error, kind ErrorKind) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind == kind
	}
	return false
}

// FetchWithRetry retries transient failures with linear backoff. Auth
// failures are never retried.
func FetchWithRetry(ctx context.Context, conn Connector, filter Filter, attempts int, backoff time.Duration) ([]internal.RawMessage, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		messages, err := conn.FetchCandidates(ctx, filter)
		if err == nil {
			return messages, nil
		}
		if IsAuth(err) {
			return nil, err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, WrapError(KindTimeout, "fetch", ctx.Err())
		case <-time.After(backoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}
