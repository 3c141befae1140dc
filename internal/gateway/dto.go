package gateway

// PeriodInfo is the REST response type for /api/v1/periods.
type PeriodInfo struct {
	Mark    string `json:"mark"`
	Seconds int64  `json:"seconds"`
}

// SeriesInfo is the REST response type for /api/v1/series/list.
type SeriesInfo struct {
	Key       string `json:"key"`
	Symbol    string `json:"symbol"`
	Period    int64  `json:"period"`
	Length    int    `json:"length"`
	Rows      int    `json:"rows"`
	Seq       int64  `json:"seq"`
	UpdatedAt string `json:"updated_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}
