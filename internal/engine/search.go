package engine

import (
	"context"
	"image"
	"time"

	"github.com/nerrad567/droidpilot/internal/script"
)

// searchResult is the outcome of polling for an image-search module.
type searchResult struct {
	image      string
	found      bool
	location   *image.Point
	confidence float64
	polls      int

	// aborted is set when the run flag cleared mid-search. No branch runs.
	aborted bool
}

// imageSearch runs one image-search module: poll, then branch.
func (in *Interpreter) imageSearch(ctx context.Context, m *script.ImageSearch, line int) error {
	started := time.Now()
	res := in.poll(ctx, m, line)
	if res.aborted {
		in.logger.Debug("search interrupted", "bot", in.bot, "line", line, "polls", res.polls)
		return nil
	}

	in.observer.SearchCompleted(SearchEvent{
		RunID:      in.runID,
		Bot:        in.bot,
		Line:       line,
		Images:     m.Images,
		Image:      res.image,
		Found:      res.found,
		Location:   res.location,
		Confidence: res.confidence,
		Polls:      res.polls,
		Duration:   time.Since(started),
		At:         time.Now(),
	})

	ac := &actionContext{line: line}
	var branch *script.Branch
	if res.found {
		in.stats.imagesFound.Add(1)
		ac.found = res.location
		in.logger.Info("image found",
			"bot", in.bot,
			"line", line,
			"image", res.image,
			"confidence", res.confidence,
			"x", res.location.X,
			"y", res.location.Y,
		)
		for i := range m.Clauses {
			if m.Clauses[i].Matches(res.image) {
				branch = &m.Clauses[i].Branch
				break
			}
		}
	} else {
		in.stats.imagesNotFound.Add(1)
		in.logger.Info("image not found",
			"bot", in.bot,
			"line", line,
			"images", m.Images,
			"timeout", m.Timeout,
			"best_confidence", res.confidence,
		)
		branch = m.NotFound
	}

	if branch == nil {
		return nil
	}
	if branch.LogEvent != "" {
		in.logger.Info(branch.LogEvent, "bot", in.bot, "line", line, "image", res.image)
	}
	for _, a := range branch.Actions {
		if !in.flag.Running() {
			return nil
		}
		if err := in.do(ctx, a, ac); err != nil {
			return err
		}
	}
	return nil
}

// poll captures and matches until one of the module's images is found,
// the timeout elapses, or the run flag clears. A timed-out search returns
// no earlier than the timeout and at most one poll interval after it.
//
// Capture failures count as a miss for that poll.
func (in *Interpreter) poll(ctx context.Context, m *script.ImageSearch, line int) searchResult {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = script.DefaultSearchTimeout
	}
	start := time.Now()
	deadline := start.Add(timeout)
	nextProgress := start.Add(in.cfg.ProgressInterval)

	var res searchResult
	for {
		res.polls++

		frame, err := in.dev.CaptureFrame(ctx)
		if err != nil {
			in.logger.Warn("screen capture failed", "bot", in.bot, "line", line, "error", err)
		} else {
			matches := in.matcher.FindMany(ctx, frame, m.Images, m.Threshold)
			// Declaration order decides between several visible images.
			for _, name := range m.Images {
				r := matches[name]
				if r.Found {
					res.image = name
					res.found = true
					res.location = r.Location
					res.confidence = r.Confidence
					return res
				}
				if r.Confidence > res.confidence {
					res.confidence = r.Confidence
				}
			}
		}

		now := time.Now()
		if !now.Before(deadline) {
			return res
		}
		if !now.Before(nextProgress) {
			in.logger.Info("still searching",
				"bot", in.bot,
				"line", line,
				"images", m.Images,
				"elapsed", now.Sub(start).Round(time.Second),
				"timeout", timeout,
			)
			nextProgress = nextProgress.Add(in.cfg.ProgressInterval)
		}

		if !in.flag.Sleep(ctx, min(in.cfg.PollInterval, deadline.Sub(now))) {
			res.aborted = true
			return res
		}
	}
}
