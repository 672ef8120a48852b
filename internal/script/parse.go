package script

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/droidpilot/internal/monitor"
)

// Script item types inside an image_search module.
const (
	itemIfResult    = "if_result"
	itemElif        = "elif"
	itemIfNotResult = "if_not_result"
)

// defaultSleep is used by time_sleep when no duration is given.
const defaultSleep = time.Second

// actionAliases maps accepted type names to canonical action kinds.
var actionAliases = map[string]string{
	"click":             ActionClick,
	"tap":               ActionClick,
	"swipe":             ActionSwipe,
	"time_sleep":        ActionSleep,
	"sleep":             ActionSleep,
	"get_coords":        ActionTapLastFound,
	"tap_last_found":    ActionTapLastFound,
	"stop_bot":          ActionStop,
	"stop":              ActionStop,
	"continue":          ActionContinue,
	"close_game":        ActionCloseApp,
	"stop_app":          ActionCloseApp,
	"start_game":        ActionLaunchApp,
	"start_app":         ActionLaunchApp,
	"restart_emulator":  ActionRebootDevice,
	"reboot":            ActionRebootDevice,
	"restart_from":      ActionRestartFrom,
	"restart_from_last": ActionRestartFromLast,
}

// record is the tagged {type, data} shape shared by modules, script
// items and actions.
type record struct {
	Type string    `yaml:"type"`
	Data yaml.Node `yaml:"data"`
}

type rawScript struct {
	Name      string   `yaml:"name"`
	ImagesDir string   `yaml:"images_dir"`
	Modules   []record `yaml:"modules"`
}

type activityData struct {
	Enabled         *bool    `yaml:"enabled"`
	Package         string   `yaml:"package"`
	LaunchActivity  string   `yaml:"launch_activity"`
	Launch          *bool    `yaml:"launch"`
	StartupDelay    *float64 `yaml:"startup_delay"`
	Action          string   `yaml:"action"`
	Lines           string   `yaml:"lines"`
	CheckInterval   float64  `yaml:"check_interval"`
	ContinueOptions []record `yaml:"continue_options"`
}

type imageSearchData struct {
	Images      []string `yaml:"images"`
	Timeout     float64  `yaml:"timeout"`
	Threshold   float64  `yaml:"threshold"`
	ScriptItems []record `yaml:"script_items"`
}

type branchData struct {
	Image     string   `yaml:"image"`
	LogEvent  string   `yaml:"log_event"`
	GetCoords bool     `yaml:"get_coords"`
	Continue  bool     `yaml:"continue"`
	StopBot   bool     `yaml:"stop_bot"`
	Actions   []record `yaml:"actions"`
}

type clickData struct {
	X           int     `yaml:"x"`
	Y           int     `yaml:"y"`
	Sleep       float64 `yaml:"sleep"`
	Description string  `yaml:"description"`
}

type swipeData struct {
	X1          int     `yaml:"x1"`
	Y1          int     `yaml:"y1"`
	X2          int     `yaml:"x2"`
	Y2          int     `yaml:"y2"`
	Duration    int     `yaml:"duration"` // milliseconds
	Sleep       float64 `yaml:"sleep"`
	Description string  `yaml:"description"`
}

type sleepData struct {
	Time  *float64 `yaml:"time"`
	Delay *float64 `yaml:"delay"`
}

type restartFromData struct {
	Line int `yaml:"line"`
}

// Load reads and validates a script file.
//
// A missing name defaults to the script's directory name. The images
// directory defaults to "images" next to the script; a relative
// images_dir is resolved against the script's directory.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Script path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if s.Name == "" {
		s.Name = filepath.Base(dir)
	}
	switch {
	case s.ImagesDir == "":
		s.ImagesDir = filepath.Join(dir, "images")
	case !filepath.IsAbs(s.ImagesDir):
		s.ImagesDir = filepath.Join(dir, s.ImagesDir)
	}
	return s, nil
}

// Parse decodes a script document. The document is either a mapping with
// a "modules" list or a bare list of module records.
func Parse(data []byte) (*Script, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidScript)
	}

	var raw rawScript
	root := doc.Content[0]
	var err error
	if root.Kind == yaml.SequenceNode {
		err = root.Decode(&raw.Modules)
	} else {
		err = root.Decode(&raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}

	p := &parser{}
	s := &Script{
		Name:      strings.TrimSpace(raw.Name),
		ImagesDir: raw.ImagesDir,
	}
	if len(raw.Modules) == 0 {
		return nil, fmt.Errorf("%w: no modules", ErrInvalidScript)
	}

	for i, rec := range raw.Modules {
		m, err := p.module(fmt.Sprintf("modules[%d]", i), rec)
		if err != nil {
			return nil, err
		}
		s.Modules = append(s.Modules, m)
	}

	if err := p.validate(s); err != nil {
		return nil, err
	}
	s.Warnings = p.warnings
	return s, nil
}

// parser carries state across one Parse call.
type parser struct {
	warnings []string

	// restartLines records restart_from targets for validation once the
	// module count is known.
	restartLines map[string]int
}

func (p *parser) warnf(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

func invalidf(path, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidScript, path, fmt.Sprintf(format, args...))
}

func decodeData(path string, rec record, v any) error {
	if rec.Data.Kind == 0 {
		return nil
	}
	if err := rec.Data.Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidScript, path, err)
	}
	return nil
}

func (p *parser) module(path string, rec record) (Module, error) {
	switch strings.ToLower(strings.TrimSpace(rec.Type)) {
	case KindActivity:
		return p.activity(path, rec)
	case KindImageSearch:
		return p.imageSearch(path, rec)
	case "":
		return nil, invalidf(path, "missing type")
	}

	a, err := p.action(path, rec)
	if err != nil {
		return nil, err
	}
	return &ActionModule{Action: a}, nil
}

func (p *parser) activity(path string, rec record) (*Activity, error) {
	var d activityData
	if err := decodeData(path, rec, &d); err != nil {
		return nil, err
	}

	a := &Activity{
		Enabled:        d.Enabled == nil || *d.Enabled,
		Package:        strings.TrimSpace(d.Package),
		LaunchActivity: strings.TrimSpace(d.LaunchActivity),
		Launch:         d.Launch == nil || *d.Launch,
		StartupDelay:   DefaultStartupDelay,
		CheckInterval:  seconds(d.CheckInterval),
	}
	if d.StartupDelay != nil {
		if *d.StartupDelay < 0 {
			return nil, invalidf(path, "startup_delay cannot be negative")
		}
		a.StartupDelay = seconds(*d.StartupDelay)
	}
	if d.CheckInterval < 0 {
		return nil, invalidf(path, "check_interval cannot be negative")
	}
	if a.Enabled && a.Package == "" {
		return nil, invalidf(path, "package is required")
	}

	a.CrashAction = monitor.ActionContinueBot
	if d.Action != "" {
		action, err := monitor.ParseAction(d.Action)
		if err != nil {
			return nil, invalidf(path, "%v", err)
		}
		a.CrashAction = action
	}

	ranges, bad := monitor.ParseLineRanges(d.Lines)
	for _, b := range bad {
		p.warnf("%s: skipping malformed line range %q", path, b)
	}
	a.Lines = ranges

	for i, opt := range d.ContinueOptions {
		act, err := p.action(fmt.Sprintf("%s.continue_options[%d]", path, i), opt)
		if err != nil {
			return nil, err
		}
		a.Recovery = append(a.Recovery, act)
	}
	return a, nil
}

func (p *parser) imageSearch(path string, rec record) (*ImageSearch, error) {
	var d imageSearchData
	if err := decodeData(path, rec, &d); err != nil {
		return nil, err
	}

	m := &ImageSearch{Timeout: DefaultSearchTimeout, Threshold: d.Threshold}
	for _, img := range d.Images {
		if img = strings.TrimSpace(img); img != "" {
			m.Images = append(m.Images, img)
		}
	}
	if len(m.Images) == 0 {
		return nil, invalidf(path, "images is required")
	}
	switch {
	case d.Timeout < 0:
		return nil, invalidf(path, "timeout cannot be negative")
	case d.Timeout > 0:
		m.Timeout = seconds(d.Timeout)
	}
	if d.Threshold < 0 || d.Threshold > 1 {
		return nil, invalidf(path, "threshold must be in [0, 1]")
	}

	unconditional := false
	for i, item := range d.ScriptItems {
		itemPath := fmt.Sprintf("%s.script_items[%d]", path, i)
		itemType := strings.ToLower(strings.TrimSpace(item.Type))

		var bd branchData
		if err := decodeData(itemPath, item, &bd); err != nil {
			return nil, err
		}
		branch, err := p.branch(itemPath, bd)
		if err != nil {
			return nil, err
		}

		switch itemType {
		case itemIfResult, itemElif:
			image := strings.TrimSpace(bd.Image)
			if itemType == itemElif && image == "" {
				return nil, invalidf(itemPath, "elif requires an image")
			}
			if unconditional {
				p.warnf("%s: unreachable after an unconditional if_result", itemPath)
			}
			if image == "" {
				unconditional = true
			}
			m.Clauses = append(m.Clauses, Clause{Image: image, Branch: branch})
		case itemIfNotResult:
			if m.NotFound != nil {
				return nil, invalidf(itemPath, "duplicate if_not_result")
			}
			m.NotFound = &branch
		default:
			return nil, invalidf(itemPath, "unknown script item type %q", item.Type)
		}
	}
	return m, nil
}

// branch folds the clause flags into the action list: get_coords taps
// first, continue and stop_bot run last.
func (p *parser) branch(path string, d branchData) (Branch, error) {
	b := Branch{LogEvent: strings.TrimSpace(d.LogEvent)}

	if d.GetCoords {
		b.Actions = append(b.Actions, TapLastFound{})
	}
	for i, rec := range d.Actions {
		a, err := p.action(fmt.Sprintf("%s.actions[%d]", path, i), rec)
		if err != nil {
			return Branch{}, err
		}
		b.Actions = append(b.Actions, a)
	}
	if d.Continue {
		b.Actions = append(b.Actions, Continue{})
	}
	if d.StopBot {
		b.Actions = append(b.Actions, Stop{})
	}
	return b, nil
}

func (p *parser) action(path string, rec record) (Action, error) {
	kind, ok := actionAliases[strings.ToLower(strings.TrimSpace(rec.Type))]
	if !ok {
		return nil, invalidf(path, "unknown type %q", rec.Type)
	}

	switch kind {
	case ActionClick:
		var d clickData
		if err := decodeData(path, rec, &d); err != nil {
			return nil, err
		}
		if d.X < 0 || d.Y < 0 {
			return nil, invalidf(path, "coordinates cannot be negative")
		}
		if d.Sleep < 0 {
			return nil, invalidf(path, "sleep cannot be negative")
		}
		return Click{X: d.X, Y: d.Y, Sleep: seconds(d.Sleep), Description: d.Description}, nil

	case ActionSwipe:
		var d swipeData
		if err := decodeData(path, rec, &d); err != nil {
			return nil, err
		}
		if d.X1 < 0 || d.Y1 < 0 || d.X2 < 0 || d.Y2 < 0 {
			return nil, invalidf(path, "coordinates cannot be negative")
		}
		if d.Sleep < 0 || d.Duration < 0 {
			return nil, invalidf(path, "sleep and duration cannot be negative")
		}
		return Swipe{
			X1: d.X1, Y1: d.Y1, X2: d.X2, Y2: d.Y2,
			Duration:    time.Duration(d.Duration) * time.Millisecond,
			Sleep:       seconds(d.Sleep),
			Description: d.Description,
		}, nil

	case ActionSleep:
		var d sleepData
		if err := decodeData(path, rec, &d); err != nil {
			return nil, err
		}
		dur := defaultSleep
		switch {
		case d.Time != nil:
			dur = seconds(*d.Time)
		case d.Delay != nil:
			dur = seconds(*d.Delay)
		}
		if dur < 0 {
			return nil, invalidf(path, "time cannot be negative")
		}
		return Sleep{Duration: dur}, nil

	case ActionRestartFrom:
		var d restartFromData
		if err := decodeData(path, rec, &d); err != nil {
			return nil, err
		}
		if p.restartLines == nil {
			p.restartLines = make(map[string]int)
		}
		p.restartLines[path] = d.Line
		return RestartFrom{Line: d.Line}, nil

	case ActionTapLastFound:
		return TapLastFound{}, nil
	case ActionStop:
		return Stop{}, nil
	case ActionContinue:
		return Continue{}, nil
	case ActionCloseApp:
		return CloseApp{}, nil
	case ActionLaunchApp:
		return LaunchApp{}, nil
	case ActionRebootDevice:
		return RebootDevice{}, nil
	default:
		return RestartFromLast{}, nil
	}
}

// validate runs checks that need the whole script.
func (p *parser) validate(s *Script) error {
	activities := 0
	for i, m := range s.Modules {
		if a, ok := m.(*Activity); ok && a.Enabled {
			activities++
			if activities > 1 {
				return invalidf(fmt.Sprintf("modules[%d]", i), "only one enabled activity module is allowed")
			}
		}
	}

	for path, line := range p.restartLines {
		if line < 1 || line > len(s.Modules) {
			return invalidf(path, "line %d outside 1..%d", line, len(s.Modules))
		}
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
