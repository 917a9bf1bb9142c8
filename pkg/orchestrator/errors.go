package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrUserExit is returned by the text input task when the operator asks
	// to end the conversation. Run treats it as a normal exit.
	ErrUserExit = errors.New("user requested exit")

	// ErrSessionClosed is returned by a session used after Close
	ErrSessionClosed = errors.New("session closed")

	// ErrNilDependency is returned when a required collaborator is nil
	ErrNilDependency = errors.New("required dependency is nil")

	// ErrUnsupportedMode is returned for display modes other than audio-only
	ErrUnsupportedMode = errors.New("unsupported display mode")
)

const (
	TaskCapture   = "capture"
	TaskTextInput = "text_input"
	TaskTransmit  = "transmit"
	TaskReceive   = "receive"
	TaskPlayback  = "playback"
)

// TaskError reports a cohort failure and the task it originated from.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s task failed: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

const (
	StageMicrophone = "microphone"
	StageSpeaker    = "speaker"
	StageConnect    = "connect"
)

// StartupError reports a failure before the cohort was started. No task ran.
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed at %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }
