// Package l6474 drives the ST L6474 stepper driver of the X-NUCLEO-IHM01A1 expansion board: the
// SPI register protocol, the fast position read used every control tick, and the step clock and
// direction line used to actuate the motor.
package l6474

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/edukit/components/board"
	"go.viam.com/edukit/components/board/genericlinux/buses"
	"go.viam.com/edukit/logging"
)

// SPI settings. The chip accepts up to 5 MHz.
const (
	spiBaud = 4_000_000
	spiMode = 3
	// deselectTime is the minimum chip select high time between bytes (t_disCS).
	deselectTime = time.Microsecond
)

// Command opcodes.
const (
	opNop       = 0x00
	opSetParam  = 0x00
	opGetParam  = 0x20
	opEnable    = 0xB8
	opDisable   = 0xA8
	opGetStatus = 0xD0
)

// Step clock periods in ticks of 1/board.TimerTickHz seconds.
const (
	holdPeriod    = 100000
	slowestPeriod = 10000
	fastestPeriod = 1
	// periodScale converts a control value into a period: period = periodScale / control.
	periodScale = 10000.
)

// Driver talks to one L6474.
type Driver struct {
	bus        buses.SPI
	chipSelect string
	dirPin     board.GPIOPin
	stepClock  board.StepClock
	logger     logging.Logger

	// sleep waits out the chip select deselect time.
	sleep func(time.Duration)

	mu        sync.Mutex
	forward   bool
	absPosTx  [4]byte
	absPosRx  [4]byte
	oneByteTx [1]byte
}

// NewDriver returns a driver using chipSelect on bus, the direction output dirPin and the step
// clock. The direction line is assumed high, as the board's pull-up leaves it.
func NewDriver(
	bus buses.SPI,
	chipSelect string,
	dirPin board.GPIOPin,
	stepClock board.StepClock,
	logger logging.Logger,
) *Driver {
	return &Driver{
		bus:        bus,
		chipSelect: chipSelect,
		dirPin:     dirPin,
		stepClock:  stepClock,
		logger:     logger,
		sleep:      time.Sleep,
		forward:    true,
		absPosTx:   [4]byte{opGetParam | 0x01, opNop, opNop, opNop},
	}
}

// transfer must be called with the mutex held. Every byte is its own chip select cycle, and the
// chip answers each byte with the reply to the previous one, so rx[0] carries no data.
func (d *Driver) transfer(ctx context.Context, tx, rx []byte) error {
	handle, err := d.bus.OpenHandle()
	if err != nil {
		return err
	}
	defer func() {
		if err := handle.Close(); err != nil {
			d.logger.CWarnw(ctx, "cannot release spi bus", "error", err)
		}
	}()

	for i := range tx {
		d.oneByteTx[0] = tx[i]
		got, err := handle.Xfer(ctx, spiBaud, d.chipSelect, spiMode, d.oneByteTx[:])
		if err != nil {
			return errors.Wrapf(err, "spi transfer of byte %d failed", i)
		}
		if len(got) > 0 {
			rx[i] = got[0]
		}
		d.sleep(deselectTime)
	}
	return nil
}

func (d *Driver) sendReceive(ctx context.Context, tx []byte) ([]byte, error) {
	rx := make([]byte, len(tx))
	if err := d.transfer(ctx, tx, rx); err != nil {
		return nil, err
	}
	return rx[1:], nil
}

func (d *Driver) command(ctx context.Context, opcode byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sendReceive(ctx, []byte{opcode})
	return err
}

// GetStatus reads the STATUS register with the GET_STATUS command, which also clears the latched
// fault flags.
func (d *Driver) GetStatus(ctx context.Context) (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rx, err := d.sendReceive(ctx, []byte{opGetStatus, opNop, opNop})
	if err != nil {
		return 0, err
	}
	return uint16(decode(rx, false)), nil
}

// Enable switches the power bridges on.
func (d *Driver) Enable(ctx context.Context) error {
	return d.command(ctx, opEnable)
}

// Disable puts the power bridges in high impedance.
func (d *Driver) Disable(ctx context.Context) error {
	return d.command(ctx, opDisable)
}

// GetParam reads the named register.
func (d *Driver) GetParam(ctx context.Context, name string) (int32, error) {
	reg, ok := LookupRegister(name)
	if !ok {
		return 0, errors.Errorf("unknown L6474 register %q", name)
	}
	tx := make([]byte, 1+reg.Width)
	tx[0] = opGetParam | reg.Address

	d.mu.Lock()
	defer d.mu.Unlock()
	rx, err := d.sendReceive(ctx, tx)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot read %s", reg.Name)
	}
	value := decode(rx, reg.Signed)
	d.logger.CDebugw(ctx, "register read", "register", reg.Name, "raw", rx, "value", value)
	return value, nil
}

// SetParam writes value to the named register and returns the decoded bytes the chip answered
// with. A value that does not fit the register is rejected with an *EncodingError before anything
// is sent.
func (d *Driver) SetParam(ctx context.Context, name string, value int32) (int32, error) {
	reg, ok := LookupRegister(name)
	if !ok {
		return 0, errors.Errorf("unknown L6474 register %q", name)
	}
	payload, err := encode(reg, value)
	if err != nil {
		return 0, err
	}
	tx := append([]byte{opSetParam | reg.Address}, payload...)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.CDebugf(ctx, "write to %s (0x%02x): %v", reg.Name, reg.Address, payload)
	rx, err := d.sendReceive(ctx, tx)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot write %s", reg.Name)
	}
	return decode(rx, reg.Signed), nil
}

// GetAbsPosEfficient reads ABS_POS without any lookup or allocation in the driver. It is the read
// issued on every control tick.
func (d *Driver) GetAbsPosEfficient(ctx context.Context) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.transfer(ctx, d.absPosTx[:], d.absPosRx[:]); err != nil {
		return 0, err
	}
	return decodeAbsPos(d.absPosRx[1], d.absPosRx[2], d.absPosRx[3]), nil
}

// SetDefault writes the operating defaults and returns the sum of the acknowledgements. Pass the
// sum to CheckAcknowledgement for a coarse health check of the link.
func (d *Driver) SetDefault(ctx context.Context) (int, error) {
	sum := 0
	for _, def := range defaults {
		ack, err := d.SetParam(ctx, def.name, def.value)
		if err != nil {
			return sum, err
		}
		sum += int(ack)
	}
	return sum, nil
}

// Registers reads every register, keyed by name.
func (d *Driver) Registers(ctx context.Context) (map[string]int32, error) {
	values := make(map[string]int32, len(registers))
	for _, reg := range registers {
		value, err := d.GetParam(ctx, reg.Name)
		if err != nil {
			return nil, err
		}
		values[reg.Name] = value
	}
	return values, nil
}

// SetPeriodDirection actuates the motor. The step rate is proportional to control and its sign
// selects the direction. Zero holds the motor with a very long period and flips the direction
// line, which keeps the rotor dithering in place. Magnitudes below one run at the slowest speed.
// Otherwise the period is periodScale/control, with its magnitude clamped into
// [fastestPeriod, slowestPeriod] before the sign of control is applied.
func (d *Driver) SetPeriodDirection(ctx context.Context, control float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if control == 0 {
		if err := d.stepClock.SetPeriod(ctx, holdPeriod); err != nil {
			return err
		}
		return d.setDirection(ctx, !d.forward)
	}

	magnitude := float64(slowestPeriod)
	if math.Abs(control) >= 1 {
		magnitude = math.Max(fastestPeriod, math.Min(slowestPeriod, math.Abs(math.Round(periodScale/control))))
	}
	if err := d.stepClock.SetPeriod(ctx, uint32(magnitude)); err != nil {
		return err
	}
	return d.setDirection(ctx, control > 0)
}

// setDirection must be called with the mutex held.
func (d *Driver) setDirection(ctx context.Context, forward bool) error {
	if err := d.dirPin.Set(ctx, forward); err != nil {
		return errors.Wrap(err, "cannot set direction")
	}
	d.forward = forward
	return nil
}

// Forward reports the level last written to the direction line.
func (d *Driver) Forward() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.forward
}

// Close disables the bridges and stops the step clock.
func (d *Driver) Close(ctx context.Context) error {
	d.logger.Debug("closing l6474 driver")
	return multierr.Combine(
		d.Disable(ctx),
		d.stepClock.Close(ctx),
	)
}
