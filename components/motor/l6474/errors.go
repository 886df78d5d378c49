package l6474

import "fmt"

// EncodingError is returned when a value cannot be represented in a register.
type EncodingError struct {
	Register string
	Value    int32
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("value %d cannot be encoded into register %s", e.Value, e.Register)
}

// ProtocolIntegrityWarning is returned when the acknowledgements of a batch of register writes do
// not add up to the expected value. It is a weak check that usually means the bus is miswired.
type ProtocolIntegrityWarning struct {
	Expected int
	Got      int
}

func (w *ProtocolIntegrityWarning) Error() string {
	return fmt.Sprintf("register write acknowledgements sum to %d, expected %d", w.Got, w.Expected)
}

// CheckAcknowledgement returns a *ProtocolIntegrityWarning when sum, as returned by SetDefault,
// deviates from what a healthy chip answers.
func CheckAcknowledgement(sum int) error {
	const expected = 0
	if sum != expected {
		return &ProtocolIntegrityWarning{Expected: expected, Got: sum}
	}
	return nil
}
