package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.viam.com/test"
)

type gains struct {
	Kp float64
	Ki float64
	kd float64
}

// assertLogMatches will fuzzy match log lines. It checks the time format but ignores the exact
// time, and expects a match on the filename while allowing the line number to differ.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	// Use the length of the first string as a weak verification of checking that the result looks like a date.
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	// Level and logger name.
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	actualFilename, actualLineNumber, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, found := strings.Cut(expectedParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])
	if len(actualParts) == 5 {
		return
	}

	expectedMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(expectedParts[5]), &expectedMap), test.ShouldBeNil)
	actualMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(actualParts[5]), &actualMap), test.ShouldBeNil)
	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func TestConsoleOutputFormat(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := &impl{name: "impl", level: NewAtomicLevelAt(DEBUG), appenders: []Appender{NewWriterAppender(notStdout)}}

	logger.Info("impl Info log")
	assertLogMatches(t, notStdout,
		"2023-10-30T09:12:09.459-0400\tINFO\timpl\tlogging/impl_test.go:67\timpl Info log")

	logger.Infof("impl %s log", "infof")
	assertLogMatches(t, notStdout,
		"2023-10-30T09:45:20.764-0400\tINFO\timpl\tlogging/impl_test.go:71\timpl infof log")

	logger.Infow("impl logw", "key", "value")
	assertLogMatches(t, notStdout,
		"2023-10-30T13:19:45.806-0400\tINFO\timpl\tlogging/impl_test.go:75\timpl logw\t{\"key\":\"value\"}")

	// Only public fields are serialized.
	logger.Warnw("gains", "pid", gains{Kp: 1, Ki: 0.5, kd: 2})
	assertLogMatches(t, notStdout,
		"2023-10-30T13:19:45.806-0400\tWARN\timpl\tlogging/impl_test.go:80\tgains\t{\"pid\":{\"Kp\":1,\"Ki\":0.5}}")

	// An unpaired key is kept and flagged rather than dropped.
	logger.Errorw("unpaired", "lonely")
	assertLogMatches(t, notStdout,
		"2023-10-30T13:19:45.806-0400\tERROR\timpl\tlogging/impl_test.go:85\tunpaired\t{\"lonely\":\"unpaired log key\"}")
}

func TestLevels(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := &impl{name: "levels", level: NewAtomicLevelAt(WARN), appenders: []Appender{NewWriterAppender(notStdout)}}

	logger.Debug("dropped")
	logger.Info("dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Warn("kept")
	test.That(t, strings.Count(notStdout.String(), "\n"), test.ShouldEqual, 1)

	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
	logger.Debug("now kept")
	test.That(t, strings.Count(notStdout.String(), "\n"), test.ShouldEqual, 2)

	for _, tc := range []struct {
		in       string
		expected Level
		isErr    bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"Warning", WARN, false},
		{"error", ERROR, false},
		{"loud", DEBUG, true},
	} {
		level, err := LevelFromString(tc.in)
		if tc.isErr {
			test.That(t, err, test.ShouldNotBeNil)
			continue
		}
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.expected)
	}

	var parsed Level
	test.That(t, json.Unmarshal([]byte(`"warn"`), &parsed), test.ShouldBeNil)
	test.That(t, parsed, test.ShouldEqual, WARN)
}

func TestSublogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	root := logger.Sublogger("edukit")
	sub := root.Sublogger("l6474")

	sub.Infow("register written", "name", "TVAL", "value", 0x18)
	test.That(t, observed.FilterMessage("register written").Len(), test.ShouldEqual, 1)
	entry := observed.FilterMessage("register written").All()[0]
	test.That(t, entry.LoggerName, test.ShouldEqual, "edukit.l6474")
	test.That(t, entry.ContextMap()["name"], test.ShouldEqual, "TVAL")

	registered, ok := LoggerNamed("edukit.l6474")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, registered, test.ShouldEqual, sub)

	test.That(t, UpdateLoggerLevel("edukit.l6474", ERROR), test.ShouldBeNil)
	test.That(t, sub.GetLevel(), test.ShouldEqual, ERROR)
	test.That(t, UpdateLoggerLevel("nope", ERROR), test.ShouldNotBeNil)
	test.That(t, GetRegisteredLoggerNames(), test.ShouldContain, "edukit")
}

func TestFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edukit.log")
	appender := NewFileAppender(path, 1, 2)
	logger := NewBlankLogger("file")
	logger.AddAppender(appender)

	logger.Infow("tick overrun", "overrun", "2ms")
	test.That(t, logger.Sync(), test.ShouldBeNil)
	test.That(t, appender.Close(), test.ShouldBeNil)

	contents, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(contents), test.ShouldContainSubstring, "tick overrun")
	test.That(t, string(contents), test.ShouldContainSubstring, `{"overrun":"2ms"}`)
}
