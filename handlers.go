package svctree

import (
	"errors"
	"log/slog"
)

// ErrorHandler receives an error raised by a task and the task that raised it
type ErrorHandler func(err error, t *Task)

type errorHandler struct {
	match func(error) bool
	fn    ErrorHandler
}

// Catch registers fn for task errors matching kind with errors.Is. A nil kind
// matches every error. Handlers are tried in registration order and the first
// match wins; unmatched errors are logged.
//
// Task errors arrive wrapped in a *TaskError, so a handler can escalate with
// s.Stop(t.Context()).
func (s *Service) Catch(kind error, fn ErrorHandler) {
	match := func(err error) bool {
		return kind == nil || errors.Is(err, kind)
	}
	s.addHandler(errorHandler{match: match, fn: fn})
}

// CatchAs registers fn for task errors that errors.As can convert to T
func CatchAs[T error](s *Service, fn func(err T, t *Task)) {
	s.addHandler(errorHandler{
		match: func(err error) bool {
			var target T
			return errors.As(err, &target)
		},
		fn: func(err error, t *Task) {
			var target T
			if errors.As(err, &target) {
				fn(target, t)
			}
		},
	})
}

func (s *Service) addHandler(h errorHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// handleTaskError routes a failed task's error to the first matching handler
func (s *Service) handleTaskError(err error, t *Task) {
	s.handlersMu.RLock()
	handlers := s.handlers
	s.handlersMu.RUnlock()

	for _, h := range handlers {
		if h.match(err) {
			h.fn(err, t)
			return
		}
	}
	s.logger.Error("task failed",
		slog.String("task", t.ID()),
		slog.Any("error", err))
}
