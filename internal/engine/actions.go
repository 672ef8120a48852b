package engine

import (
	"context"
	"fmt"
	"image"

	"github.com/nerrad567/droidpilot/internal/runstate"
	"github.com/nerrad567/droidpilot/internal/script"
)

// actionContext carries what an action may refer to: the line it runs
// on and the current module's match, if any.
type actionContext struct {
	line  int
	found *image.Point
}

// do executes a single action. Device failures are returned; boolean
// device results (app start/stop) are logged and ignored.
func (in *Interpreter) do(ctx context.Context, a script.Action, ac *actionContext) error {
	in.stats.actions.Add(1)

	switch a := a.(type) {
	case script.Click:
		in.logger.Debug("click", "bot", in.bot, "x", a.X, "y", a.Y, "description", a.Description)
		if err := in.dev.Tap(ctx, a.X, a.Y); err != nil {
			return fmt.Errorf("click (%d,%d): %w", a.X, a.Y, err)
		}
		in.stats.clicks.Add(1)
		in.flag.Sleep(ctx, a.Sleep)

	case script.Swipe:
		in.logger.Debug("swipe", "bot", in.bot,
			"from", image.Pt(a.X1, a.Y1), "to", image.Pt(a.X2, a.Y2), "description", a.Description)
		if err := in.dev.Swipe(ctx, a.X1, a.Y1, a.X2, a.Y2, a.Duration); err != nil {
			return fmt.Errorf("swipe: %w", err)
		}
		in.stats.swipes.Add(1)
		in.flag.Sleep(ctx, a.Sleep)

	case script.Sleep:
		in.flag.Sleep(ctx, a.Duration)

	case script.TapLastFound:
		if ac.found == nil {
			in.logger.Warn("no match to tap", "bot", in.bot, "line", ac.line)
			return nil
		}
		if err := in.dev.Tap(ctx, ac.found.X, ac.found.Y); err != nil {
			return fmt.Errorf("tap match (%d,%d): %w", ac.found.X, ac.found.Y, err)
		}
		in.stats.clicks.Add(1)

	case script.Stop:
		in.logger.Info("stop action", "bot", in.bot, "line", ac.line)
		in.flag.Clear(runstate.OutcomeStopped)

	case script.Continue:
		// Explicit no-op.

	case script.CloseApp:
		if in.pkg == "" {
			in.logger.Warn("close_game without an activity module", "bot", in.bot, "line", ac.line)
			return nil
		}
		if !in.dev.StopApp(ctx, in.pkg) {
			in.logger.Warn("app stop failed", "package", in.pkg)
		}

	case script.LaunchApp:
		if in.pkg == "" {
			in.logger.Warn("start_game without an activity module", "bot", in.bot, "line", ac.line)
			return nil
		}
		if !in.dev.StartApp(ctx, in.pkg, in.launchActivity) {
			in.logger.Warn("app launch failed", "package", in.pkg)
		}

	case script.RebootDevice:
		in.logger.Info("rebooting device", "bot", in.bot)
		if err := in.dev.Reboot(ctx); err != nil {
			return fmt.Errorf("reboot: %w", err)
		}

	case script.RestartFrom:
		in.jump.Store(int64(a.Line))

	case script.RestartFromLast:
		in.jump.Store(int64(ac.line))

	default:
		return fmt.Errorf("unsupported action %T", a)
	}
	return nil
}
