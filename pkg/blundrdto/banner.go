package blundrdto

type Banner struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Endpoints map[string]string `json:"endpoints"`
}

type Health struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	Engine  string `json:"engine,omitempty"`
	Cache   string `json:"cache,omitempty"`
}
