package l6474

import (
	"strings"

	"github.com/samber/lo"
)

// Register describes one parameter register of the L6474.
type Register struct {
	Name    string
	Address uint8
	// Width is the payload length in bytes: 1, 2 or 3.
	Width  int
	Signed bool
}

// Register addresses and widths, from the L6474 datasheet (DocID022529, table 11).
var registers = []Register{
	{Name: "ABS_POS", Address: 0x01, Width: 3, Signed: true},
	{Name: "EL_POS", Address: 0x02, Width: 2},
	{Name: "MARK", Address: 0x03, Width: 3, Signed: true},
	{Name: "TVAL", Address: 0x09, Width: 1},
	{Name: "T_FAST", Address: 0x0E, Width: 1},
	{Name: "TON_MIN", Address: 0x0F, Width: 1},
	{Name: "TOFF_MIN", Address: 0x10, Width: 1},
	{Name: "ADC_OUT", Address: 0x12, Width: 1},
	{Name: "OCD_TH", Address: 0x13, Width: 1},
	{Name: "STEP_MODE", Address: 0x16, Width: 1},
	{Name: "ALARM_EN", Address: 0x17, Width: 1},
	{Name: "CONFIG", Address: 0x18, Width: 2},
	{Name: "STATUS", Address: 0x19, Width: 2},
}

var registersByName = lo.KeyBy(registers, func(r Register) string { return r.Name })

// LookupRegister returns the register with the given name, ignoring case.
func LookupRegister(name string) (Register, bool) {
	reg, ok := registersByName[strings.ToUpper(name)]
	return reg, ok
}

// RegisterNames returns the register names ordered by address.
func RegisterNames() []string {
	return lo.Map(registers, func(r Register, _ int) string { return r.Name })
}

type registerDefault struct {
	name  string
	value int32
}

// Operating defaults for the X-NUCLEO-IHM01A1 with the EduKit motor, written in this order.
var defaults = []registerDefault{
	{"ABS_POS", 0x0},
	{"EL_POS", 0x0},
	{"MARK", 0x0},
	{"TVAL", 0x18}, // 0.78 A phase current.
	{"T_FAST", 0x17},
	{"TON_MIN", 0x29},
	{"TOFF_MIN", 0x29},
	{"OCD_TH", 0x2},    // 1.125 A overcurrent threshold.
	{"STEP_MODE", 0xF}, // 1/16 microstepping.
	{"ALARM_EN", 0xFF},
	{"CONFIG", 0x2E88},
}
