package incremental

import (
	"testing"

	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	fakeboard "go.viam.com/edukit/components/board/fake"
	"go.viam.com/edukit/logging"
)

type edge struct {
	onX  bool
	high bool
}

func newAttachedEncoder(t *testing.T) (*Encoder, *fakeboard.DigitalInterrupt, *fakeboard.DigitalInterrupt) {
	t.Helper()
	x := fakeboard.NewDigitalInterrupt("x")
	y := fakeboard.NewDigitalInterrupt("y")
	enc := NewEncoder(x, y, logging.NewTestLogger(t))
	enc.Attach(x, y)
	return enc, x, y
}

func TestEncoderSequences(t *testing.T) {
	for _, tc := range []struct {
		name     string
		edges    []edge
		expected []int64
	}{
		{
			name:     "one forward cycle",
			edges:    []edge{{true, true}, {false, true}, {true, false}, {false, false}},
			expected: []int64{1, 2, 3, 4},
		},
		{
			name:     "one reverse cycle",
			edges:    []edge{{false, true}, {true, true}, {false, false}, {true, false}},
			expected: []int64{-1, -2, -3, -4},
		},
		{
			name: "two forward cycles",
			edges: []edge{
				{true, true}, {false, true}, {true, false}, {false, false},
				{true, true}, {false, true}, {true, false}, {false, false},
			},
			expected: []int64{1, 2, 3, 4, 5, 6, 7, 8},
		},
		{
			name:     "forward then back",
			edges:    []edge{{true, true}, {false, true}, {false, false}, {true, false}},
			expected: []int64{1, 2, 1, 0},
		},
		{
			name:     "repeated levels are rejected",
			edges:    []edge{{true, true}, {true, true}, {false, true}, {false, true}},
			expected: []int64{1, 1, 2, 2},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			enc, x, y := newAttachedEncoder(t)
			defer enc.Close()

			for i, e := range tc.edges {
				line := y
				if e.onX {
					line = x
				}
				test.That(t, line.Tick(e.high), test.ShouldBeNil)
				test.That(t, enc.Position(), test.ShouldEqual, tc.expected[i])
			}
		})
	}
}

func TestEncoderDirection(t *testing.T) {
	enc, x, y := newAttachedEncoder(t)
	defer enc.Close()

	test.That(t, x.Tick(true), test.ShouldBeNil)
	test.That(t, enc.Forward(), test.ShouldBeTrue)
	test.That(t, x.Tick(false), test.ShouldBeNil)
	test.That(t, enc.Forward(), test.ShouldBeFalse)
	test.That(t, enc.Position(), test.ShouldEqual, int64(0))
	test.That(t, y.Tick(true), test.ShouldBeNil)
	test.That(t, enc.Value(), test.ShouldEqual, int32(-1))
}

func TestEncoderSetPosition(t *testing.T) {
	enc, x, y := newAttachedEncoder(t)

	test.That(t, x.Tick(true), test.ShouldBeNil)
	test.That(t, y.Tick(true), test.ShouldBeNil)
	test.That(t, enc.Position(), test.ShouldEqual, int64(2))

	enc.SetPosition(0)
	test.That(t, enc.Value(), test.ShouldEqual, int32(0))
	test.That(t, x.Tick(false), test.ShouldBeNil)
	test.That(t, enc.Position(), test.ShouldEqual, int64(1))

	test.That(t, enc.Close(), test.ShouldBeNil)
	test.That(t, x.CallbackCount(), test.ShouldEqual, 0)
	test.That(t, y.CallbackCount(), test.ShouldEqual, 0)
	test.That(t, x.Tick(true), test.ShouldBeNil)
	test.That(t, enc.Position(), test.ShouldEqual, int64(1))
}

func TestEncoderConcurrentLines(t *testing.T) {
	enc, x, y := newAttachedEncoder(t)
	defer enc.Close()

	// On Linux each line is delivered on its own goroutine.
	errs := make(chan error, 1)
	go func() {
		errs <- x.Tick(true)
	}()
	test.That(t, <-errs, test.ShouldBeNil)
	go func() {
		errs <- y.Tick(true)
	}()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, enc.Position(), test.ShouldEqual, int64(2))
	})
	test.That(t, <-errs, test.ShouldBeNil)
}
