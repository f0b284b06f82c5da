package core

// Logger is any service that can log and report messages.
// expected args: error, map[string]interface{}, user.User (the User the message relates to)
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
