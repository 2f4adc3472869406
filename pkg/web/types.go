package web

// TickResponse is the JSON body of a successful tick.
type TickResponse struct {
	RunsProcessed int      `json:"runs_processed"`
	RunsAdvanced  int      `json:"runs_advanced"`
	RunsErrored   int      `json:"runs_errored"`
	ItemsClaimed  int      `json:"items_claimed"`
	ItemsSent     int      `json:"items_sent"`
	ItemsFailed   int      `json:"items_failed"`
	Errors        []string `json:"errors,omitempty"`
}

// HealthResponse is the JSON body of the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}
