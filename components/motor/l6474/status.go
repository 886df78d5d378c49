package l6474

// Status holds the decoded STATUS register.
type Status struct {
	HighZ           bool `json:"high_z"`
	Forward         bool `json:"forward"`
	NotPerformed    bool `json:"not_performed"`
	WrongCommand    bool `json:"wrong_command"`
	Undervoltage    bool `json:"undervoltage"`
	ThermalWarning  bool `json:"thermal_warning"`
	ThermalShutdown bool `json:"thermal_shutdown"`
	Overcurrent     bool `json:"overcurrent"`
}

// STATUS register bits. The fault bits are active low.
const (
	statusHiZ        = 1 << 0
	statusDir        = 1 << 4
	statusNotPerfCmd = 1 << 7
	statusWrongCmd   = 1 << 8
	statusUVLO       = 1 << 9
	statusThWrn      = 1 << 10
	statusThSD       = 1 << 11
	statusOCD        = 1 << 12
)

// DecodeStatus splits a STATUS word into its flags.
func DecodeStatus(status uint16) Status {
	return Status{
		HighZ:           status&statusHiZ != 0,
		Forward:         status&statusDir != 0,
		NotPerformed:    status&statusNotPerfCmd != 0,
		WrongCommand:    status&statusWrongCmd != 0,
		Undervoltage:    status&statusUVLO == 0,
		ThermalWarning:  status&statusThWrn == 0,
		ThermalShutdown: status&statusThSD == 0,
		Overcurrent:     status&statusOCD == 0,
	}
}

// Faulted reports whether any fault flag is raised.
func (s Status) Faulted() bool {
	return s.Undervoltage || s.ThermalShutdown || s.Overcurrent || s.WrongCommand
}
