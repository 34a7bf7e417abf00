package detector

// LoadResult is delivered once a background load finishes.
type LoadResult struct {
	Detector Detector
	Err      error
}

// Opener builds a detector from a Config. Open is the production opener.
type Opener func(Config) (Detector, error)

// LoadAsync opens the model on its own goroutine so callers stay responsive
// while weights load. progress, if non-nil, receives short status messages
// from the loading goroutine. The returned channel yields exactly one result.
func LoadAsync(cfg Config, open Opener, progress func(string)) <-chan LoadResult {
	if open == nil {
		open = Open
	}
	done := make(chan LoadResult, 1)

	go func() {
		if progress != nil {
			progress("Loading model " + cfg.ModelPath)
		}
		d, err := open(cfg)
		if err != nil {
			if progress != nil {
				progress("Model load failed: " + err.Error())
			}
			done <- LoadResult{Err: err}
			return
		}
		if progress != nil {
			progress("Model loaded")
		}
		done <- LoadResult{Detector: d}
	}()

	return done
}
