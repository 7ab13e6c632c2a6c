package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "log/slog"

	"hark/internal/handsfree"
	"hark/internal/ipc"
)

var errBadArgs = errors.New("bad arguments")

// control maps hark-ctl commands onto the controller.
func control(ctrl *handsfree.Controller) ipc.Handler {
	return func(ctx context.Context, msg ipc.ControlMessage) ipc.Response {
		log.Debug("Control command", "cmd", msg.Cmd, "args", msg.Args)

		var err error
		switch msg.Cmd {
		case ipc.CmdHandsFree:
			var on bool
			if on, err = onOff(msg.Args); err == nil {
				err = ctrl.SetHandsFree(ctx, on)
			}
		case ipc.CmdRaw:
			var on bool
			if on, err = onOff(msg.Args); err == nil {
				confirmed := len(msg.Args) > 1 && msg.Args[1] == "confirm"
				err = ctrl.SetRawMic(ctx, on, confirmed)
			}
		case ipc.CmdTalk:
			switch arg(msg.Args, 0) {
			case "start":
				err = ctrl.StartTalk(ctx)
			case "stop":
				err = ctrl.StopTalk(ctx)
			default:
				err = fmt.Errorf("%w: talk start|stop", errBadArgs)
			}
		case ipc.CmdStop:
			ctrl.StopPlayback()
		case ipc.CmdStatus:
		default:
			err = fmt.Errorf("%w: unknown command %q", errBadArgs, msg.Cmd)
		}

		if err != nil {
			log.Warn("Control command failed", "cmd", msg.Cmd, "err", err)
			return ipc.Fail(errorCode(err), err)
		}
		status, err := json.Marshal(ctrl.Status())
		if err != nil {
			return ipc.Fail(ipc.CodeFailed, err)
		}
		return ipc.Response{OK: true, Status: status}
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, handsfree.ErrConfirmRawMic):
		return ipc.CodeConfirm
	case errors.Is(err, handsfree.ErrModeConflict):
		return ipc.CodeConflict
	case errors.Is(err, errBadArgs):
		return ipc.CodeBadArgs
	default:
		return ipc.CodeFailed
	}
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func onOff(args []string) (bool, error) {
	switch arg(args, 0) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("%w: expected on|off", errBadArgs)
	}
}

// logEvents writes controller events to the log until ctx ends.
func logEvents(ctx context.Context, events <-chan handsfree.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case handsfree.KindState:
				log.Info("State", "state", ev.State)
			case handsfree.KindMeter:
				log.Debug("Level", "rms", ev.RMS, "threshold", ev.Threshold)
			case handsfree.KindWarning:
				log.Warn(ev.Message)
			case handsfree.KindError:
				log.Error(ev.Message)
			case handsfree.KindMessage:
				log.Info("Message", "role", ev.Role, "text", ev.Message)
			default:
				log.Info(ev.Message)
			}
		}
	}
}
