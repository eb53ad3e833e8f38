package handler

import (
	"errors"
	"fmt"
	"log"

	"telemetry-hub/internal/dsp"
	"telemetry-hub/internal/models"
	"telemetry-hub/internal/monitor"
)

var ErrUnknownCommand = errors.New("unknown command")

// Controller executes presentation-layer commands against the monitor.
type Controller struct {
	mon *monitor.Monitor
}

func NewController(mon *monitor.Monitor) *Controller {
	return &Controller{mon: mon}
}

// Execute runs cmd and reports the outcome. Rejected commands leave the
// monitor unchanged.
func (c *Controller) Execute(cmd models.Command) models.CommandResult {
	detail, err := c.execute(cmd)
	res := models.CommandResult{Command: cmd.Name, OK: err == nil, Detail: detail}
	if err != nil {
		res.Error = err.Error()
		log.Printf("Command %q rejected: %v", cmd.Name, err)
	}
	return res
}

func (c *Controller) execute(cmd models.Command) (any, error) {
	switch cmd.Name {
	case models.CmdToggleAutoRange:
		kind := cmd.Channel
		if kind == "" {
			kind = models.ChannelECG
		}
		on, err := c.mon.ToggleAutoRange(kind, cmd.DeviceID)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"autoRange": on}, nil

	case models.CmdToggleFilter:
		stage, err := dsp.ParseStage(cmd.Stage)
		if err != nil {
			return nil, err
		}
		on := false
		if cmd.Enabled != nil {
			on = *cmd.Enabled
			err = c.mon.SetFilterStage(cmd.DeviceID, stage, on)
		} else {
			on, err = c.mon.ToggleFilterStage(cmd.DeviceID, stage)
		}
		if err != nil {
			return nil, err
		}
		return map[string]bool{stage.String(): on}, nil

	case models.CmdClearPatients:
		c.mon.ClearPatients()
		return nil, nil

	case models.CmdStartRecording:
		st, err := c.mon.StartRecording(cmd.PatientName, cmd.PatientID, cmd.DeviceID)
		if err != nil {
			return nil, err
		}
		return st, nil

	case models.CmdStopRecording:
		path, err := c.mon.StopRecording()
		if err != nil {
			return nil, err
		}
		return map[string]string{"path": path}, nil

	case models.CmdStreaming:
		switch cmd.Action {
		case "start":
			c.mon.StartStreaming()
		case "pause":
			c.mon.PauseStreaming()
		case "stop":
			if err := c.mon.StopStreaming(); err != nil {
				return map[string]models.StreamingState{"streaming": c.mon.Streaming()}, err
			}
		default:
			return nil, fmt.Errorf("%w: streaming action %q", ErrUnknownCommand, cmd.Action)
		}
		return map[string]models.StreamingState{"streaming": c.mon.Streaming()}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
}
