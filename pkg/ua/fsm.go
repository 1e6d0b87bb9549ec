package ua

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// fire выполняет переход и сообщает, изменилось ли состояние.
// Событие, недопустимое в текущем состоянии или не меняющее его,
// ошибкой не считается: колбэки движка могут прийти после End.
func fire(f *fsm.FSM, event string) (bool, error) {
	if !f.Can(event) {
		return false, nil
	}
	err := f.Event(context.Background(), event)
	if err == nil {
		return true, nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return false, nil
	}
	return false, err
}
