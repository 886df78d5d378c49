package robot

import (
	"context"
	"time"

	"go.viam.com/edukit/components/motor/l6474"
	"go.viam.com/edukit/control"
	"go.viam.com/edukit/utils"
)

// Status is a snapshot of the rig for diagnostics.
type Status struct {
	ControllerType  string              `json:"controller_type"`
	Running         bool                `json:"running"`
	Counter         uint64              `json:"counter"`
	Overrun         time.Duration       `json:"overrun"`
	OverrunCount    uint64              `json:"overrun_count"`
	Timings         utils.TimingSummary `json:"timings"`
	Sample          control.Sample      `json:"sample"`
	EncoderPosition int64               `json:"encoder_position"`
	Driver          l6474.Status        `json:"driver"`
	Faulted         bool                `json:"faulted"`
	LogState        string              `json:"log_state,omitempty"`
}

func (r *Rig) controllers() control.Set {
	return control.Set{PID: r.PID, PID1: r.PID1, StateSpace: r.StateSpace}
}

// Controller returns the controller currently selected.
func (r *Rig) Controller() control.Controller {
	return r.controllers().Select(control.ParseType(r.State.ControllerType()))
}

// Status reads the driver's STATUS register and collects the loop diagnostics.
func (r *Rig) Status(ctx context.Context) (Status, error) {
	raw, err := r.Driver.GetStatus(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		ControllerType:  r.State.ControllerType(),
		Running:         r.Loop.Running(),
		Counter:         r.State.Counter(),
		Overrun:         r.State.Overrun(),
		OverrunCount:    r.State.OverrunCount(),
		Timings:         r.Loop.Timings(),
		Sample:          r.Controller().Sample(),
		EncoderPosition: r.Encoder.Position(),
		Driver:          l6474.DecodeStatus(raw),
		Faulted:         r.Faulted(),
		LogState:        r.State.Log.State(),
	}, nil
}
