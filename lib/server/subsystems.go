// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"strconv"
	"time"

	"github.com/al-berger/regd/lib/clock"
	"github.com/al-berger/regd/lib/command"
	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/logging"
	"github.com/al-berger/regd/lib/version"
	"github.com/al-berger/regd/lib/wire"
)

// Subsystem names.
const (
	ControlSubsystem = "control"
	InfoSubsystem    = "info"
)

// ControlDispatcher returns the stop command. stop must not block; the
// response is written before the daemon tears the server down.
func ControlDispatcher(stop func()) *command.Dispatcher {
	d := command.NewDispatcher(ControlSubsystem)
	d.Handle(command.Spec{
		Name:   "stop",
		Params: command.Exactly(0),
		Handler: func(context.Context, *wire.Request) (wire.Value, error) {
			stop()
			return wire.Null{}, nil
		},
	})
	return d
}

// Info is what the info subsystem reports about the running daemon.
type Info struct {
	Name     string
	Address  string
	Access   string
	Datafile string
	PID      int
	Started  time.Time

	Clock   clock.Clock
	Metrics *Metrics
	Ring    *logging.Ring

	// Storage answers fs_info for "report storage".
	Storage command.Handler
}

const defaultLogLines = 20

// InfoDispatcher returns check, info, version, report and show_log.
func InfoDispatcher(info Info) *command.Dispatcher {
	if info.Clock == nil {
		info.Clock = clock.Real()
	}
	d := command.NewDispatcher(InfoSubsystem)

	d.Handle(command.Spec{
		Name:   "check",
		Params: command.Exactly(0),
		Handler: func(context.Context, *wire.Request) (wire.Value, error) {
			uptime := info.Clock.Now().Sub(info.Started).Truncate(time.Second)
			return wire.String("Up and running since " + info.Started.Format(time.DateTime) +
				". Uptime: " + uptime.String()), nil
		},
	})

	d.Handle(command.Spec{
		Name:   "info",
		Params: command.Exactly(0),
		Handler: func(context.Context, *wire.Request) (wire.Value, error) {
			return wire.StringMap(map[string]string{
				"name":     info.Name,
				"version":  version.Short(),
				"address":  info.Address,
				"access":   info.Access,
				"datafile": info.Datafile,
				"pid":      strconv.Itoa(info.PID),
			}), nil
		},
	})

	d.Handle(command.Spec{
		Name:   "version",
		Params: command.Exactly(0),
		Handler: func(context.Context, *wire.Request) (wire.Value, error) {
			return wire.String(version.Info()), nil
		},
	})

	d.Handle(command.Spec{
		Name:   "report",
		Params: command.Exactly(1),
		Handler: func(ctx context.Context, request *wire.Request) (wire.Value, error) {
			switch request.Params[0] {
			case "access":
				return wire.String(info.Access), nil
			case "datafile":
				return wire.String(info.Datafile), nil
			case "commands":
				if info.Metrics == nil {
					return wire.List{}, nil
				}
				lines, err := info.Metrics.Report()
				if err != nil {
					return nil, err
				}
				return wire.Strings(lines), nil
			case "storage":
				if info.Storage == nil {
					return nil, failure.New(failure.OperationFailed, "no storage attached")
				}
				return info.Storage(ctx, wire.NewRequest("fs_info"))
			}
			return nil, failure.Errorf(failure.UnrecognizedParameter,
				"report %q: want access, datafile, commands or storage", request.Params[0])
		},
	})

	d.Handle(command.Spec{
		Name:   "show_log",
		Params: command.Optional(),
		Handler: func(_ context.Context, request *wire.Request) (wire.Value, error) {
			count := defaultLogLines
			if len(request.Params) == 1 {
				parsed, err := strconv.Atoi(request.Params[0])
				if err != nil || parsed < 0 {
					return nil, failure.Errorf(failure.UnrecognizedParameter,
						"show_log takes a number of lines, got %q", request.Params[0])
				}
				count = parsed
			}
			if info.Ring == nil {
				return wire.List{}, nil
			}
			return wire.Strings(info.Ring.Last(count)), nil
		},
	})
	return d
}
