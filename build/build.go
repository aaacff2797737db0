package build

import (
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/conduit/build/conduitlog"
)

var subsystemLoggers = map[string]*conduitlog.Logger{}

// ToLogLevel converts the given string into a logrus log level
func ToLogLevel(s string) (logrus.Level, error) {
	return conduitlog.ToLogLevel(s)
}

// AddSubLogger creates a new sublogger that prepends `subsystem`
// to the logs
func AddSubLogger(subsystem string) *conduitlog.Logger {
	logger := conduitlog.New(subsystem)
	subsystemLoggers[subsystem] = logger

	return logger
}

func SetLogLevel(subsystem string, level logrus.Level) {
	logger, ok := subsystemLoggers[subsystem]
	if !ok {
		return
	}

	logger.SetLevel(level)
}

func SetLogLevels(level logrus.Level) {
	for subsystem := range subsystemLoggers {
		SetLogLevel(subsystem, level)
	}
}

// SubLoggers returns all currently registered subsystem loggers.
func SubLoggers() map[string]*conduitlog.Logger {
	return subsystemLoggers
}

func DisableColors() {
	for subsystem := range subsystemLoggers {
		subsystemLoggers[subsystem].DisableColors()
	}
}

// SetLogFile sets all subsystem loggers to write to the given file
// in addition to stdout.
func SetLogFile(file string) error {
	for subsystem := range subsystemLoggers {
		err := subsystemLoggers[subsystem].SetLogFile(file)
		if err != nil {
			return err
		}
	}

	return nil
}
