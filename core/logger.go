package core

// Logger is any leveled logger. Error and Fatal may receive extra args
// (error, map[string]interface{}, user) forwarded to the error reporter.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
