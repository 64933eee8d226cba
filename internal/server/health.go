package server

import "net/http"

type healthResponse struct {
	Status     string `json:"status"`
	Transport  string `json:"transport"`
	QueueDepth int    `json:"queue_depth"`
	Dispatcher string `json:"dispatcher"`
}

// health reports ok while the dispatcher is running and 503 otherwise, since
// recognized emails would then only accumulate in the queue.
func health(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:    "ok",
			Transport: deps.Transport,
		}
		if deps.QueueDepth != nil {
			resp.QueueDepth = deps.QueueDepth()
		}
		if deps.DispatcherState != nil {
			resp.Dispatcher = deps.DispatcherState()
		}

		status := http.StatusOK
		if resp.Dispatcher != "running" {
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
