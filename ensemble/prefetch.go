package ensemble

import "context"

// ModelWarmer opens (and caches) the wind file for one model id.
type ModelWarmer func(ctx context.Context, modelID string) error

// PrefetchModels best-effort warms every configured model id in the
// background, grounded on simulate.py's _prefetch_ensemble_models: once
// ensemble mode is entered, the first ensemble run's latency should be
// bounded by the slowest model's cold-start rather than the sum of all of
// them loading serially on first access.
func PrefetchModels(ctx context.Context, modelIDs []string, warm ModelWarmer) {
	for _, id := range modelIDs {
		id := id
		go func() {
			if err := warm(ctx, id); err != nil {
				log.Warnf("prefetch model %s: %v", id, err)
			}
		}()
	}
}
