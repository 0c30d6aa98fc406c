package errors

import (
	"github.com/sirupsen/logrus"
)

// LogFields returns the structured fields carried by err, suitable for
// logrus.WithFields. Non-AppErrors yield only the error itself.
func LogFields(err error) logrus.Fields {
	fields := logrus.Fields{logrus.ErrorKey: err}
	appErr, ok := As(err)
	if !ok {
		return fields
	}

	fields["error_code"] = appErr.Code
	fields["retryable"] = appErr.Retryable
	for k, v := range appErr.Context {
		fields[k] = v
	}
	return fields
}

// LogRetryable logs retryable errors at warn level and everything else at
// error level.
func LogRetryable(logger logrus.FieldLogger, err error, message string) {
	entry := logger.WithFields(LogFields(err))
	if IsRetryable(err) {
		entry.Warn(message)
		return
	}
	entry.Error(message)
}
