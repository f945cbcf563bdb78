package commandbuffer

import "fmt"

// StateError is the panic value for a method called out of order.
type StateError struct {
	Op     string
	State  State
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("commandbuffer: %s in state %s: %s", e.Op, e.State, e.Reason)
}

// Guard runs fn and converts a panic raised inside it into an error. Error
// panic values stay reachable through errors.As.
func Guard(fn func()) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = executionError(rec)
		}
	}()
	fn()
	return nil
}

func executionError(rec any) error {
	if recErr, ok := rec.(error); ok {
		return fmt.Errorf("command buffer execution failed: %w", recErr)
	}
	return fmt.Errorf("command buffer execution failed: %v", rec)
}
