package interfaces

// -----------------------------------------------------------------------------
// LogSink is the logging seam every core component depends on, instead of a
// concrete *logger.Logger. This breaks the cyclic back-pointer the design
// notes call out (connection -> pool -> dispatcher -> connection): each
// callee receives only the interface it needs. *logger.Logger satisfies
// this implicitly.
// -----------------------------------------------------------------------------

type LogSink interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warning(format string, args ...interface{})
	Error(format string, args ...interface{})
}
