package utils

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
)

// LogFatal logs a fatal error with callstack info and exits.
func LogFatal(err error, errorMsg interface{}, callerSkip int, additionalInfos ...map[string]interface{}) {
	logErrorInfo(err, callerSkip+1, additionalInfos...).Fatal(errorMsg)
}

// LogError logs an error with callstack info.
func LogError(err error, errorMsg interface{}, callerSkip int, additionalInfos ...map[string]interface{}) {
	logErrorInfo(err, callerSkip+1, additionalInfos...).Error(errorMsg)
}

func logErrorInfo(err error, callerSkip int, additionalInfos ...map[string]interface{}) *logrus.Entry {
	logFields := logrus.NewEntry(logrus.New())

	pc, fullFilePath, line, ok := runtime.Caller(callerSkip + 1)
	if ok {
		logFields = logFields.WithFields(logrus.Fields{
			"cs_file":     fullFilePath,
			"cs_function": runtime.FuncForPC(pc).Name(),
			"cs_line":     line,
		})
	}

	if err != nil {
		logFields = logFields.WithField("error", fmt.Sprint(err))
	}

	for _, infos := range additionalInfos {
		for key, value := range infos {
			logFields = logFields.WithField(key, value)
		}
	}

	return logFields
}
