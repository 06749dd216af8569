// Package notify reports the outcome of conversation mutations to the user.
// A failed mutation produces an error Notification carrying a Retry bound to
// the same operation and arguments.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kittclouds/convstore/internal/store"
	"github.com/rs/zerolog"
)

// Level is the severity shown to the user.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelError   Level = "error"
)

// Kind classifies an error for presentation.
type Kind int

const (
	KindNone Kind = iota
	KindNotReady
	KindUnavailable
	KindNotFound
	KindInvalid
	KindFault
	KindCanceled
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotReady:
		return "not_ready"
	case KindUnavailable:
		return "unavailable"
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	case KindFault:
		return "storage_fault"
	case KindCanceled:
		return "canceled"
	}
	return "unknown"
}

// Transient reports whether retrying the same call can succeed without user action.
func (k Kind) Transient() bool {
	return k == KindNotReady
}

// Classify maps an error onto the store's error taxonomy.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, store.ErrStoreNotReady):
		return KindNotReady
	case errors.Is(err, store.ErrStoreUnavailable):
		return KindUnavailable
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, store.ErrInvalidInput):
		return KindInvalid
	case errors.Is(err, store.ErrStorageFault):
		return KindFault
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindUnknown
}

// RetryFunc re-issues a failed operation with its original arguments.
type RetryFunc func(ctx context.Context) error

// Notification is one user-facing outcome report.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	Level     Level     `json:"level"`
	Operation string    `json:"operation"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"-"`
	Err       error     `json:"-"`
	Retry     RetryFunc `json:"-"`
	Time      time.Time `json:"time"`
}

// Retryable reports whether the notification offers a retry action.
func (n Notification) Retryable() bool {
	return n.Retry != nil
}

// Success builds a success notification.
func Success(op, message string) Notification {
	return Notification{
		ID:        uuid.New(),
		Level:     LevelSuccess,
		Operation: op,
		Message:   message,
		Time:      time.Now(),
	}
}

// Failure builds an error notification for err with a bound retry.
func Failure(op string, err error, retry RetryFunc) Notification {
	kind := Classify(err)
	return Notification{
		ID:        uuid.New(),
		Level:     LevelError,
		Operation: op,
		Message:   describe(op, kind),
		Kind:      kind,
		Err:       err,
		Retry:     retry,
		Time:      time.Now(),
	}
}

func describe(op string, kind Kind) string {
	switch kind {
	case KindNotReady:
		return fmt.Sprintf("Failed to %s: storage is still loading, try again", op)
	case KindUnavailable:
		return fmt.Sprintf("Failed to %s: storage could not be opened", op)
	case KindNotFound:
		return fmt.Sprintf("Failed to %s: it no longer exists", op)
	case KindInvalid:
		return fmt.Sprintf("Failed to %s: invalid input", op)
	case KindCanceled:
		return fmt.Sprintf("Failed to %s: cancelled", op)
	}
	return fmt.Sprintf("Failed to %s", op)
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(n Notification)
}

// Deliver hands n to notifier and recovers a panicking notifier.
// It reports whether delivery completed.
func Deliver(notifier Notifier, n Notification, log zerolog.Logger) (ok bool) {
	if notifier == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("operation", n.Operation).
				Msg("notifier panicked")
			ok = false
		}
	}()
	notifier.Notify(n)
	return true
}

// LogNotifier writes notifications to a zerolog logger.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a notifier that logs through log.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (l *LogNotifier) Notify(n Notification) {
	ev := l.log.Info()
	if n.Level == LevelError {
		ev = l.log.Warn().Err(n.Err).Str("kind", n.Kind.String()).Bool("retryable", n.Retryable())
	}
	ev.Str("id", n.ID.String()).Str("operation", n.Operation).Msg(n.Message)
}

// Recorder keeps notifications in memory so a UI can poll them and invoke
// retries by ID.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
	limit int
}

// NewRecorder keeps at most limit notifications; zero means unbounded.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if r.limit > 0 && len(r.items) > r.limit {
		r.items = r.items[len(r.items)-r.limit:]
	}
}

// All returns a copy of the recorded notifications, oldest first.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Last returns the newest notification.
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Notification{}, false
	}
	return r.items[len(r.items)-1], true
}

// Find returns the notification with the given ID.
func (r *Recorder) Find(id uuid.UUID) (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.items {
		if n.ID == id {
			return n, true
		}
	}
	return Notification{}, false
}

// Reset drops all recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(n Notification) {
	for _, notifier := range m {
		notifier.Notify(n)
	}
}
