package testutil

/*
This file has several handy helpers for logging tests with pretty-printed
output.
*/

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
)

const (
	///////////////////////////
	// ASCII control characters
	green = "[32m"
	red   = "[31m"
	reset = "[0m"
	// resets coloring
	///////////////////////////

	checkmark = "✔️"
	cross     = "❌"
)

var log = logrus.New()

// FatalMsg fails the test immediately, printing a red
// error message containing the given test message
func FatalMsg(t *testing.T, message interface{}) {
	t.Helper()
	var msg string

	switch message := message.(type) {
	case error:
		msg = message.Error()
	case fmt.Stringer:
		msg = message.String()
	case string:
		msg = message
	}

	FatalMsgf(t, msg)
}

// FatalMsgf fails the test immediately, printing a red error message containing
// the given format string interpolated with the given args
func FatalMsgf(t *testing.T, format string, args ...interface{}) {
	t.Helper()
	message := fmt.Sprintf(format, args...)
	t.Fatalf("\t%s%s\t error: %s%s", red, cross, message, reset)
}

func FailMsg(t *testing.T, message interface{}) {
	t.Helper()
	FailMsgf(t, "%v", message)
}

func FailMsgf(t *testing.T, format string, args ...interface{}) {
	t.Helper()
	message := fmt.Sprintf(format, args...)
	t.Errorf("\t%s%s\t error: %s%s", red, cross, message, reset)
	t.Fail()
}

// Succeed logs the given message with a green checkmark
func Succeed(t *testing.T, message string) {
	t.Helper()
	Succeedf(t, message)
}

// Succeedf logs the given format message and arguments with a green checkmark
func Succeedf(t *testing.T, format string, args ...interface{}) {
	t.Helper()
	message := fmt.Sprintf(format, args...)
	t.Logf("\t%s%s\t%s%s", green, checkmark, message, reset)
}
