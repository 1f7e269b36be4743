package compare

import (
	"github.com/shopspring/decimal"

	"github.com/juancollazo-ch/sku-price-scanner/internal/models"
)

var (
	// Umbral absoluto en unidades de moneda, igual para todas las monedas.
	significantDelta   = decimal.NewFromInt(1)
	significantPercent = decimal.NewFromInt(2)
	hundred            = decimal.NewFromInt(100)
)

const percentPlaces = 4

// DetectChanges compara el scan actual con el anterior y devuelve un nuevo
// resultado con los cambios por vendor. Nunca modifica sus entradas.
// Sin scan previo devuelve una copia sin anotaciones.
func DetectChanges(current, previous *models.ScanResult) *models.ScanResult {
	out := current.Clone()
	if out == nil || previous == nil {
		return out
	}

	for i := range out.Vendors {
		v := &out.Vendors[i]
		v.Changes = nil

		prev, ok := previous.VendorByName(v.Name)
		if !ok {
			// Primera observación de este vendor
			continue
		}

		changes := models.VendorChanges{}
		if v.Price != nil && prev.Price != nil {
			pc := PriceDiff(*prev.Price, *v.Price)
			changes.Price = &pc
		}
		if v.InStock != prev.InStock {
			changes.Stock = &models.StockChange{
				Changed:  true,
				Previous: prev.InStock,
				Current:  v.InStock,
			}
		}

		if changes.Price != nil || changes.Stock != nil {
			v.Changes = &changes
		}
	}
	return out
}

// PriceDiff calcula delta, porcentaje y si el cambio es significativo:
// |delta| > 1 o |porcentaje| > 2. El porcentaje se omite si el precio
// anterior es 0.
func PriceDiff(oldPrice, newPrice decimal.Decimal) models.PriceChange {
	delta := newPrice.Sub(oldPrice)
	pc := models.PriceChange{
		Previous: oldPrice,
		Current:  newPrice,
		Delta:    delta,
	}

	significant := delta.Abs().GreaterThan(significantDelta)
	if !oldPrice.IsZero() {
		// el umbral se evalúa sin redondear; solo se redondea lo que se publica
		pct := delta.Mul(hundred).Div(oldPrice)
		if pct.Abs().GreaterThan(significantPercent) {
			significant = true
		}
		rounded := pct.Round(percentPlaces)
		pc.PercentChange = &rounded
	}
	pc.IsSignificant = significant
	return pc
}

// HasSignificantChanges es true si algún vendor tiene un cambio de precio
// significativo o un cambio de stock.
func HasSignificantChanges(result *models.ScanResult) bool {
	if result == nil {
		return false
	}
	_, ok := result.ToChangeNotification()
	return ok
}
