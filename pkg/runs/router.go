package runs

import (
	"github.com/go-chi/chi/v5"
)

// Router creates a chi.Router for the run status API. When scheduler is nil
// the API is read-only.
func Router(store *Store, scheduler *Scheduler) chi.Router {
	r := chi.NewRouter()

	r.Get("/runs", ListRunsHandler(store))
	r.Get("/runs/{runId}", GetRunHandler(store))
	r.Get("/sources", ListSourcesHandler(store))
	if scheduler != nil {
		r.Post("/runs", TriggerRunHandler(scheduler))
	}

	return r
}
