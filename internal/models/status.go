package models

// Status describes the running service and its index.
type Status struct {
	Version    string `json:"version"`
	IndexType  string `json:"index_type"`
	Collection string `json:"collection,omitempty"`
	Points     int    `json:"points"`
	Dimensions int    `json:"dimensions"`
	Embedder   string `json:"embedder"`
	// DiskUsageBytes is set for indexes stored in local files.
	DiskUsageBytes *int64 `json:"disk_usage_bytes,omitempty"`
}
