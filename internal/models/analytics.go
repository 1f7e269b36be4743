package models

import "time"

// AnalyticsEvent se escribe desde el orquestador y solo se lee agregado.
type AnalyticsEvent struct {
	SKU            string    `json:"sku"`
	Success        bool      `json:"success"`
	Cached         bool      `json:"cached"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	Timestamp      time.Time `json:"timestamp"`
	VendorCount    *int      `json:"vendorCount,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
}

// ActivityEntry es una entrada del log de actividad reciente.
type ActivityEntry struct {
	ID             string    `json:"id"`
	SKU            string    `json:"sku"`
	Success        bool      `json:"success"`
	Cached         bool      `json:"cached"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	Timestamp      time.Time `json:"timestamp"`
	VendorCount    *int      `json:"vendorCount,omitempty"`
	Error          string    `json:"error,omitempty"`
}

type SkuPopularity struct {
	SKU   string  `json:"sku"`
	Score float64 `json:"score"`
}

// Stats es el agregado devuelto por el recorder.
type Stats struct {
	TotalScans          int64           `json:"totalScans"`
	SuccessfulScans     int64           `json:"successfulScans"`
	FailedScans         int64           `json:"failedScans"`
	SuccessRate         float64         `json:"successRate"`
	CacheHits           int64           `json:"cacheHits"`
	CacheMisses         int64           `json:"cacheMisses"`
	CacheHitRate        float64         `json:"cacheHitRate"`
	AvgResponseTimeMs   float64         `json:"avgResponseTimeMs"`
	ResponseTimeSamples int             `json:"responseTimeSamples"`
	TopSkus             []SkuPopularity `json:"topSkus"`
	RecentActivity      []ActivityEntry `json:"recentActivity"`
}
