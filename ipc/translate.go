package ipc

import (
	"encoding/json"
	"fmt"

	wisp "github.com/wisp-widgets/wisp"
)

// toDaemonCommand translates a wire Action into the DaemonCommand the
// dispatcher understands, attaching reply as its single-shot reply channel.
// This is the one place the IPC boundary and the dispatcher's vocabulary
// meet; everything upstream of it (the framed socket, the CLI client) never
// needs to know about DaemonCommand at all.
func toDaemonCommand(a Action, reply chan<- wisp.DaemonResponse) (wisp.DaemonCommand, error) {
	switch a.Kind {
	case ActionPing:
		return wisp.DaemonCommand{Kind: wisp.CommandNoOp, Reply: reply}, nil

	case ActionUpdate:
		vars := make(map[wisp.VarName]wisp.Dyn, len(a.Update))
		for name, raw := range a.Update {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return wisp.DaemonCommand{}, fmt.Errorf("ipc: decoding update value for %q: %w", name, err)
			}
			dyn, err := wisp.FromJSON(v)
			if err != nil {
				return wisp.DaemonCommand{}, fmt.Errorf("ipc: converting update value for %q: %w", name, err)
			}
			vars[name] = dyn
		}
		return wisp.DaemonCommand{Kind: wisp.CommandUpdateVars, UpdateVars: vars, Reply: reply}, nil

	case ActionOpenWindow:
		return wisp.DaemonCommand{Kind: wisp.CommandOpenWindow, Open: toWindowOpenRequest(a.Window), Reply: reply}, nil

	case ActionOpenMany:
		return wisp.DaemonCommand{Kind: wisp.CommandOpenMany, OpenNames: a.Names, Open: wisp.WindowOpenRequest{Toggle: a.Toggle}, Reply: reply}, nil

	case ActionReload:
		// A freshly parsed Config cannot travel over the wire in this
		// package, so a Reload action reaches the dispatcher with a nil
		// Config, which re-applies the resolver's current one.
		return wisp.DaemonCommand{Kind: wisp.CommandReloadConfigAndCss, Reply: reply}, nil

	case ActionKillServer:
		return wisp.DaemonCommand{Kind: wisp.CommandKillServer, Reply: reply}, nil

	case ActionCloseAll:
		return wisp.DaemonCommand{Kind: wisp.CommandCloseAll, Reply: reply}, nil

	case ActionShowState:
		return wisp.DaemonCommand{Kind: wisp.CommandPrintState, PrintAll: a.ShowAll, Reply: reply}, nil

	case ActionShowWindows:
		return wisp.DaemonCommand{Kind: wisp.CommandPrintWindows, Reply: reply}, nil

	case ActionShowDebug:
		return wisp.DaemonCommand{Kind: wisp.CommandPrintDebug, Reply: reply}, nil

	case ActionShowGraph:
		return wisp.DaemonCommand{Kind: wisp.CommandPrintGraph, Reply: reply}, nil

	case ActionGetVar:
		// There is no single-variable lookup DaemonCommand; GetVar is
		// served by the server directly from PrintState's full dump rather
		// than adding a new dispatcher command for it (see Server.handleGetVar).
		return wisp.DaemonCommand{Kind: wisp.CommandPrintState, PrintAll: true, Reply: reply}, nil

	default:
		return wisp.DaemonCommand{}, fmt.Errorf("ipc: unrecognized action kind %q", a.Kind)
	}
}

func toWindowOpenRequest(w WindowRequest) wisp.WindowOpenRequest {
	req := wisp.WindowOpenRequest{
		Name:   w.Name,
		Anchor: w.Anchor,
		Screen: w.Screen,
		Toggle: w.Toggle,
	}
	if w.Pos != nil {
		req.Pos = &wisp.ExprCoords{X: literalExpr(w.Pos.X), Y: literalExpr(w.Pos.Y)}
	}
	if w.Size != nil {
		req.Size = &wisp.ExprCoords{X: literalExpr(w.Size.X), Y: literalExpr(w.Size.Y)}
	}
	return req
}

// literalExpr wraps a wire-format numeric coordinate as a literal Expr,
// since OpenWindow's geometry override is evaluated against the global
// scope at open time even though an IPC-supplied coordinate is always
// already a concrete number.
func literalExpr(f float64) wisp.Expr {
	return &wisp.ExprLiteral{Value: wisp.FromFloat(f)}
}
