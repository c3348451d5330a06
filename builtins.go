package wisp

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Built-in system-stat variable names, injected by the resolver so widget
// configs can reference them without declaring anything.
const (
	VarSysMem     VarName = "SYS_MEM"
	VarSysLoad    VarName = "SYS_LOAD"
	VarSysDisk    VarName = "SYS_DISK"
	VarSysBattery VarName = "SYS_BATTERY"
	VarSysNet     VarName = "SYS_NET"
	VarSysTime    VarName = "SYS_TIME"
)

var builtinVarNames = map[VarName]bool{
	VarSysMem: true, VarSysLoad: true, VarSysDisk: true,
	VarSysBattery: true, VarSysNet: true, VarSysTime: true,
}

func isBuiltinVarName(v VarName) bool { return builtinVarNames[v] }

// builtinScriptVars returns the built-in system-stat variables as ordinary
// poll-variable registrations: the scope graph and dispatcher never
// special-case them. Each uses the VarSourceFunc path scriptvar.go already
// has for in-process poll sources.
func builtinScriptVars() []*ScriptVarDef {
	return []*ScriptVarDef{
		{Name: VarSysMem, Kind: ScriptVarPoll, Interval: 2 * time.Second, Func: sysMem},
		{Name: VarSysLoad, Kind: ScriptVarPoll, Interval: 2 * time.Second, Func: sysLoad},
		{Name: VarSysDisk, Kind: ScriptVarPoll, Interval: 10 * time.Second, Func: sysDisk},
		{Name: VarSysBattery, Kind: ScriptVarPoll, Interval: 10 * time.Second, Func: sysBattery},
		{Name: VarSysNet, Kind: ScriptVarPoll, Interval: 2 * time.Second, Func: sysNet},
		{Name: VarSysTime, Kind: ScriptVarPoll, Interval: time.Second, Func: sysTime},
	}
}

// toPollScriptVar adapts a resolver-level ScriptVarDef into the runtime
// PollScriptVar struct scriptvar.go's ScriptVarHandler schedules.
func toPollScriptVar(sv *ScriptVarDef) PollScriptVar {
	return PollScriptVar{
		Name:     sv.Name,
		Interval: sv.Interval,
		Initial:  sv.Initial,
		Source:   sourceKindOf(sv),
		Command:  sv.Command,
		Func:     sv.Func,
		RunWhile: sv.RunWhile,
	}
}

// toListenScriptVar adapts a resolver-level ScriptVarDef into the runtime
// ListenScriptVar struct.
func toListenScriptVar(sv *ScriptVarDef) ListenScriptVar {
	return ListenScriptVar{Name: sv.Name, Command: sv.Command}
}

func sourceKindOf(sv *ScriptVarDef) VarSourceKind {
	if sv.Func != nil {
		return VarSourceFunc
	}
	return VarSourceShell
}

func sysTime() (Dyn, error) {
	now := time.Now()
	return FromJSON(map[string]any{
		"unix":      now.Unix(),
		"formatted": now.Format(time.RFC3339),
	})
}

func sysMem() (Dyn, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return Dyn{}, fmt.Errorf("wisp: reading /proc/meminfo: %w", err)
	}
	defer f.Close()

	fields := map[string]int64{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		key := strings.TrimSuffix(parts[0], ":")
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		fields[key] = n * 1024 // kB -> bytes
	}
	total := fields["MemTotal"]
	available := fields["MemAvailable"]
	used := total - available
	usedPerc := 0.0
	if total > 0 {
		usedPerc = float64(used) / float64(total) * 100
	}
	return FromJSON(map[string]any{
		"total_mem":     total,
		"available_mem": available,
		"used_mem":      used,
		"used_mem_perc": usedPerc,
	})
}

func sysLoad() (Dyn, error) {
	raw, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return Dyn{}, fmt.Errorf("wisp: reading /proc/loadavg: %w", err)
	}
	parts := strings.Fields(string(raw))
	if len(parts) < 3 {
		return Dyn{}, fmt.Errorf("wisp: unexpected /proc/loadavg format")
	}
	one, _ := strconv.ParseFloat(parts[0], 64)
	five, _ := strconv.ParseFloat(parts[1], 64)
	fifteen, _ := strconv.ParseFloat(parts[2], 64)
	return FromJSON(map[string]any{"avg1": one, "avg5": five, "avg15": fifteen})
}

func sysDisk() (Dyn, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs("/", &stat); err != nil {
		return Dyn{}, fmt.Errorf("wisp: statfs /: %w", err)
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bfree * uint64(stat.Bsize)
	used := total - free
	usedPerc := 0.0
	if total > 0 {
		usedPerc = float64(used) / float64(total) * 100
	}
	return FromJSON(map[string]any{
		"total": total, "free": free, "used": used, "used_perc": usedPerc,
	})
}

func sysBattery() (Dyn, error) {
	capBytes, err := os.ReadFile("/sys/class/power_supply/BAT0/capacity")
	if err != nil {
		return FromJSON(nil)
	}
	cap, err := strconv.Atoi(strings.TrimSpace(string(capBytes)))
	if err != nil {
		return FromJSON(nil)
	}
	status := "unknown"
	if s, err := os.ReadFile("/sys/class/power_supply/BAT0/status"); err == nil {
		status = strings.TrimSpace(string(s))
	}
	return FromJSON(map[string]any{"capacity": cap, "status": status})
}

func sysNet() (Dyn, error) {
	f, err := os.Open("/proc/net/dev")
	if err != nil {
		return Dyn{}, fmt.Errorf("wisp: reading /proc/net/dev: %w", err)
	}
	defer f.Close()

	var totalRx, totalTx uint64
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= 2 {
			continue // header lines
		}
		line := scanner.Text()
		colon := strings.Index(line, ":")
		if colon < 0 {
			continue
		}
		fields := strings.Fields(line[colon+1:])
		if len(fields) < 9 {
			continue
		}
		rx, _ := strconv.ParseUint(fields[0], 10, 64)
		tx, _ := strconv.ParseUint(fields[8], 10, 64)
		totalRx += rx
		totalTx += tx
	}
	return FromJSON(map[string]any{"rx_bytes": totalRx, "tx_bytes": totalTx})
}
