// Package vision locates reference images ("templates") inside captured
// device frames.
//
// Matching is masked normalized cross-correlation: transparent template
// pixels are ignored, and the score of the best window is reported as a
// confidence in [0, 1]. A lookup is "found" when the confidence reaches
// the threshold, and the reported location is the centre of that window.
//
// Templates are resolved by name (an existing path, or a file under the
// bot's images directory), decoded once and kept in a bounded LRU cache.
// Concurrent lookups of the same path share a single decode.
//
// # Usage
//
//	m, err := vision.NewMatcher(vision.Config{ImagesDir: "bots/farm/images"}, logger)
//	if err != nil {
//	    return err
//	}
//	res := m.Find(frame, "start.png", 0) // 0 uses the default threshold
//	if res.Found {
//	    ctrl.Tap(ctx, res.Location.X, res.Location.Y)
//	}
package vision
