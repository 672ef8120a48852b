package script

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/droidpilot/internal/monitor"
)

const fullScript = `
name: farm
images_dir: pics
modules:
  - type: activity
    data:
      package: com.example.game
      launch_activity: .MainActivity
      startup_delay: 2.5
      action: continue_bot
      lines: "2-3, abc, 9-4"
      check_interval: 3
      continue_options:
        - type: close_game
        - type: time_sleep
          data: {time: 2}
        - type: start_game
        - type: restart_from
          data: {line: 2}
  - type: image_search
    data:
      images: [play.png, close.png]
      timeout: 15
      threshold: 0.9
      script_items:
        - type: if_result
          data:
            image: play.png
            log_event: play found
            get_coords: true
            actions:
              - type: time_sleep
                data: {time: 0.5}
        - type: elif
          data:
            image: close.png
            continue: true
            actions:
              - type: click
                data: {x: 540, y: 1600, sleep: 1, description: close popup}
        - type: if_not_result
          data:
            stop_bot: true
  - type: swipe
    data: {x1: 100, y1: 800, x2: 100, y2: 200, duration: 300}
`

func TestParse_FullScript(t *testing.T) {
	s, err := Parse([]byte(fullScript))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := &Script{
		Name:      "farm",
		ImagesDir: "pics",
		Modules: []Module{
			&Activity{
				Enabled:        true,
				Package:        "com.example.game",
				LaunchActivity: ".MainActivity",
				Launch:         true,
				StartupDelay:   2500 * time.Millisecond,
				CrashAction:    monitor.ActionContinueBot,
				Lines:          []monitor.LineRange{{Start: 2, End: 3}},
				CheckInterval:  3 * time.Second,
				Recovery: []Action{
					CloseApp{},
					Sleep{Duration: 2 * time.Second},
					LaunchApp{},
					RestartFrom{Line: 2},
				},
			},
			&ImageSearch{
				Images:    []string{"play.png", "close.png"},
				Timeout:   15 * time.Second,
				Threshold: 0.9,
				Clauses: []Clause{
					{
						Image: "play.png",
						Branch: Branch{
							LogEvent: "play found",
							Actions:  []Action{TapLastFound{}, Sleep{Duration: 500 * time.Millisecond}},
						},
					},
					{
						Image: "close.png",
						Branch: Branch{
							Actions: []Action{
								Click{X: 540, Y: 1600, Sleep: time.Second, Description: "close popup"},
								Continue{},
							},
						},
					},
				},
				NotFound: &Branch{Actions: []Action{Stop{}}},
			},
			&ActionModule{Action: Swipe{X1: 100, Y1: 800, X2: 100, Y2: 200, Duration: 300 * time.Millisecond}},
		},
		Warnings: []string{
			`modules[0]: skipping malformed line range "abc"`,
			`modules[0]: skipping malformed line range "9-4"`,
		},
	}

	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_BareList(t *testing.T) {
	s, err := Parse([]byte(`
- type: click
  data: {x: 1, y: 2}
- type: sleep
- type: stop
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []Module{
		&ActionModule{Action: Click{X: 1, Y: 2}},
		&ActionModule{Action: Sleep{Duration: time.Second}},
		&ActionModule{Action: Stop{}},
	}
	if diff := cmp.Diff(want, s.Modules); diff != "" {
		t.Errorf("modules mismatch (-want +got):\n%s", diff)
	}
	if s.Activity() != nil {
		t.Error("Activity() != nil for a script without one")
	}
}

func TestParse_Defaults(t *testing.T) {
	s, err := Parse([]byte(`
modules:
  - type: activity
    data: {package: com.example.game}
  - type: image_search
    data: {images: [a.png]}
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	act := s.Activity()
	if act == nil {
		t.Fatal("Activity() = nil")
	}
	if !act.Launch || act.StartupDelay != DefaultStartupDelay || act.CrashAction != monitor.ActionContinueBot {
		t.Errorf("activity defaults = %+v", act)
	}
	if act.Lines != nil || act.CheckInterval != 0 {
		t.Errorf("activity ranges/interval = %v/%v, want none", act.Lines, act.CheckInterval)
	}

	search := s.Modules[1].(*ImageSearch)
	if search.Timeout != DefaultSearchTimeout || search.Threshold != 0 || search.NotFound != nil {
		t.Errorf("image_search defaults = %+v", search)
	}
	if len(s.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", s.Warnings)
	}
}

func TestParse_Aliases(t *testing.T) {
	tests := []struct {
		typ  string
		want Action
	}{
		{typ: "tap", want: Click{}},
		{typ: "tap_last_found", want: TapLastFound{}},
		{typ: "get_coords", want: TapLastFound{}},
		{typ: "stop_bot", want: Stop{}},
		{typ: "stop_app", want: CloseApp{}},
		{typ: "start_app", want: LaunchApp{}},
		{typ: "reboot", want: RebootDevice{}},
		{typ: "restart_emulator", want: RebootDevice{}},
		{typ: "restart_from_last", want: RestartFromLast{}},
		{typ: "Continue", want: Continue{}},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			s, err := Parse([]byte("- type: " + tt.typ + "\n"))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			got := s.Modules[0].(*ActionModule).Action
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("action mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{name: "not yaml", doc: "modules: [", wantMsg: "invalid script"},
		{name: "empty", doc: "", wantMsg: "empty document"},
		{name: "no modules", doc: "name: x", wantMsg: "no modules"},
		{name: "missing type", doc: "- data: {x: 1}", wantMsg: "missing type"},
		{name: "unknown module", doc: "- type: teleport", wantMsg: `unknown type "teleport"`},
		{name: "activity without package", doc: "- type: activity", wantMsg: "package is required"},
		{
			name:    "unknown crash action",
			doc:     "- type: activity\n  data: {package: p, action: explode}",
			wantMsg: "unknown crash action",
		},
		{
			name: "two activities",
			doc: "- type: activity\n  data: {package: p}\n" +
				"- type: activity\n  data: {package: q}",
			wantMsg: "only one enabled activity",
		},
		{name: "search without images", doc: "- type: image_search\n  data: {timeout: 3}", wantMsg: "images is required"},
		{name: "negative timeout", doc: "- type: image_search\n  data: {images: [a.png], timeout: -1}", wantMsg: "timeout cannot be negative"},
		{name: "threshold too high", doc: "- type: image_search\n  data: {images: [a.png], threshold: 2}", wantMsg: "threshold"},
		{
			name: "elif without image",
			doc: "- type: image_search\n  data:\n    images: [a.png]\n" +
				"    script_items:\n      - type: elif\n        data: {}",
			wantMsg: "elif requires an image",
		},
		{
			name: "duplicate not-found",
			doc: "- type: image_search\n  data:\n    images: [a.png]\n" +
				"    script_items:\n      - type: if_not_result\n      - type: if_not_result",
			wantMsg: "duplicate if_not_result",
		},
		{
			name: "unknown script item",
			doc: "- type: image_search\n  data:\n    images: [a.png]\n" +
				"    script_items:\n      - type: else",
			wantMsg: `unknown script item type "else"`,
		},
		{name: "negative click", doc: "- type: click\n  data: {x: -1, y: 2}", wantMsg: "coordinates cannot be negative"},
		{name: "negative sleep", doc: "- type: time_sleep\n  data: {time: -2}", wantMsg: "time cannot be negative"},
		{name: "bad field type", doc: "- type: click\n  data: {x: left}", wantMsg: "modules[0]"},
		{name: "restart line out of range", doc: "- type: restart_from\n  data: {line: 3}", wantMsg: "line 3 outside 1..1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if !errors.Is(err, ErrInvalidScript) {
				t.Fatalf("Parse() error = %v, want ErrInvalidScript", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Parse() error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestParse_UnreachableClauseWarns(t *testing.T) {
	s, err := Parse([]byte(`
- type: image_search
  data:
    images: [a.png, b.png]
    script_items:
      - type: if_result
      - type: elif
        data: {image: b.png}
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(s.Warnings) != 1 || !strings.Contains(s.Warnings[0], "unreachable") {
		t.Errorf("Warnings = %v, want one unreachable warning", s.Warnings)
	}
}

func TestParse_DisabledActivity(t *testing.T) {
	s, err := Parse([]byte("- type: activity\n  data: {enabled: false}\n- type: continue"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if s.Activity() != nil {
		t.Error("Activity() returned a disabled module")
	}
}

func TestClause_Matches(t *testing.T) {
	tests := []struct {
		clause Clause
		found  string
		want   bool
	}{
		{clause: Clause{}, found: "a.png", want: true},
		{clause: Clause{Image: "a.png"}, found: "a.png", want: true},
		{clause: Clause{Image: "a.png"}, found: "b.png", want: false},
	}

	for _, tt := range tests {
		if got := tt.clause.Matches(tt.found); got != tt.want {
			t.Errorf("Clause{%q}.Matches(%q) = %v, want %v", tt.clause.Image, tt.found, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "farm")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name          string
		doc           string
		wantName      string
		wantImagesDir string
	}{
		{name: "defaults", doc: "- type: continue", wantName: "farm", wantImagesDir: filepath.Join(dir, "images")},
		{
			name:          "relative images dir",
			doc:           "name: crops\nimages_dir: shots\nmodules:\n  - type: continue",
			wantName:      "crops",
			wantImagesDir: filepath.Join(dir, "shots"),
		},
		{
			name:          "absolute images dir",
			doc:           "images_dir: /srv/images\nmodules:\n  - type: continue",
			wantName:      "farm",
			wantImagesDir: "/srv/images",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "script.yaml")
			if err := os.WriteFile(path, []byte(tt.doc), 0o600); err != nil {
				t.Fatal(err)
			}

			s, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if s.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", s.Name, tt.wantName)
			}
			if s.ImagesDir != tt.wantImagesDir {
				t.Errorf("ImagesDir = %q, want %q", s.ImagesDir, tt.wantImagesDir)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() error = nil for missing file")
	}
}
