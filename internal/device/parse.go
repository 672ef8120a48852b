package device

import (
	"bufio"
	"strings"
)

// StateDevice is the adb state of a device that accepts commands.
const StateDevice = "device"

// Info describes one line of "adb devices -l".
type Info struct {
	Serial string
	State  string

	// Props holds the key:value pairs adb reports (model, product, transport_id, ...).
	Props map[string]string
}

// Ready reports whether the device accepts commands.
func (i Info) Ready() bool {
	return i.State == StateDevice
}

// Emulator reports whether the serial names a local emulator.
func (i Info) Emulator() bool {
	return strings.HasPrefix(i.Serial, "emulator-")
}

// parseDevices parses "adb devices -l" output.
func parseDevices(out string) []Info {
	var devices []Info

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		info := Info{Serial: fields[0], State: fields[1]}
		for _, f := range fields[2:] {
			if k, v, ok := strings.Cut(f, ":"); ok {
				if info.Props == nil {
					info.Props = make(map[string]string)
				}
				info.Props[k] = v
			}
		}
		devices = append(devices, info)
	}

	return devices
}

// parseRunningActivities extracts package -> activity from
// "dumpsys activity activities". Task headers ("TaskRecord{...}" on older
// releases, "Task{...}" on newer ones) contribute their affinity package;
// activity records contribute "pkg/activity" components. A package whose
// activity is unknown maps to "".
func parseRunningActivities(out string) map[string]string {
	activities := make(map[string]string)

	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !isActivityLine(line) {
			continue
		}

		for _, tok := range strings.Fields(line) {
			pkg, activity, ok := parseComponentToken(tok)
			if !ok {
				continue
			}
			if activity != "" || activities[pkg] == "" {
				activities[pkg] = activity
			}
		}
	}

	return activities
}

func isActivityLine(line string) bool {
	return strings.Contains(line, "TaskRecord{") ||
		strings.Contains(line, "* Task{") ||
		strings.Contains(line, "ActivityRecord{")
}

// parseComponentToken recognises "pkg/activity", "A=pkg", "A=uid:pkg" and
// "I=pkg/activity" tokens.
func parseComponentToken(tok string) (pkg, activity string, ok bool) {
	tok = strings.TrimRight(tok, "}")
	if strings.HasPrefix(tok, "u0") || strings.ContainsAny(tok, "{#") {
		return "", "", false
	}

	affinity := false
	if k, v, found := strings.Cut(tok, "="); found {
		if k != "A" && k != "I" {
			return "", "", false
		}
		tok, affinity = v, true
	}
	if i := strings.LastIndex(tok, ":"); i >= 0 {
		tok = tok[i+1:]
	}

	pkg, activity, slash := strings.Cut(tok, "/")
	if !slash && !affinity {
		return "", "", false
	}
	if !strings.Contains(pkg, ".") {
		return "", "", false
	}
	if strings.HasPrefix(activity, ".") {
		activity = pkg + activity
	}
	return pkg, activity, true
}
