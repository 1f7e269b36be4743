package models

// ScanRequest representa el body de POST /api/scan
type ScanRequest struct {
	SKU string `json:"sku"`
}

// GetSKU implementa la interfaz del validator
func (r *ScanRequest) GetSKU() string {
	return r.SKU
}
