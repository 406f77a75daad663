package stream

import "fmt"

// ConfigError reports an invalid argument or call sequence. It is raised
// before any device primitive runs, so the device state is untouched and
// retrying with the same arguments will fail the same way.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// DeviceError reports a failed device primitive. Op names the operation
// that failed; Err is the underlying cause. This layer never retries.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *DeviceError) Unwrap() error { return e.Err }

func deviceErrorf(err error, format string, args ...any) *DeviceError {
	return &DeviceError{Op: fmt.Sprintf(format, args...), Err: err}
}
