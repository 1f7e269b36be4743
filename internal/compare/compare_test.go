package compare

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juancollazo-ch/sku-price-scanner/internal/models"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func result(vendors ...models.VendorResult) *models.ScanResult {
	return &models.ScanResult{
		SKU:       "RTX-4090",
		ScannedAt: time.Date(2025, 11, 18, 12, 0, 0, 0, time.UTC),
		Vendors:   vendors,
	}
}

func TestPriceDiff(t *testing.T) {
	tests := []struct {
		name        string
		old, new    string
		delta       string
		percent     string
		significant bool
	}{
		{name: "above both thresholds", old: "100.00", new: "103.50", delta: "3.5", percent: "3.5", significant: true},
		{name: "below both thresholds", old: "100.00", new: "100.50", delta: "0.5", percent: "0.5", significant: false},
		{name: "absolute threshold only", old: "1000.00", new: "1001.50", delta: "1.5", percent: "0.15", significant: true},
		{name: "percent threshold only", old: "10.00", new: "10.50", delta: "0.5", percent: "5", significant: true},
		{name: "price drop", old: "200.00", new: "150.00", delta: "-50", percent: "-25", significant: true},
		{name: "exactly one unit is not significant", old: "100.00", new: "101.00", delta: "1", percent: "1", significant: false},
		{name: "no change", old: "99.99", new: "99.99", delta: "0", percent: "0", significant: false},
		{name: "exactly two percent is not significant", old: "40.00", new: "40.80", delta: "0.8", percent: "2", significant: false},
		{name: "just above two percent before rounding", old: "40.00", new: "40.800004", delta: "0.800004", percent: "2", significant: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pc := PriceDiff(*dec(tc.old), *dec(tc.new))
			assert.True(t, pc.Delta.Equal(*dec(tc.delta)), "delta %s", pc.Delta)
			require.NotNil(t, pc.PercentChange)
			assert.True(t, pc.PercentChange.Equal(*dec(tc.percent)), "percent %s", pc.PercentChange)
			assert.Equal(t, tc.significant, pc.IsSignificant)
		})
	}

	t.Run("zero previous price omits percent", func(t *testing.T) {
		pc := PriceDiff(decimal.Zero, *dec("0.50"))
		assert.Nil(t, pc.PercentChange)
		assert.False(t, pc.IsSignificant)

		pc = PriceDiff(decimal.Zero, *dec("5"))
		assert.Nil(t, pc.PercentChange)
		assert.True(t, pc.IsSignificant)
	})
}

func TestDetectChanges(t *testing.T) {
	t.Run("no previous result returns copy without annotations", func(t *testing.T) {
		cur := result(models.VendorResult{Name: "scan", Price: dec("100"), InStock: true})
		out := DetectChanges(cur, nil)

		require.NotSame(t, cur, out)
		assert.Empty(t, cmp.Diff(cur, out))
		assert.Nil(t, out.Vendors[0].Changes)
	})

	t.Run("price and stock changes", func(t *testing.T) {
		prev := result(
			models.VendorResult{Name: "scan", Price: dec("100.00"), InStock: false},
			models.VendorResult{Name: "ebuyer", Price: dec("100.00"), InStock: true},
		)
		cur := result(
			models.VendorResult{Name: "scan", Price: dec("103.50"), InStock: true},
			models.VendorResult{Name: "ebuyer", Price: dec("100.50"), InStock: true},
			models.VendorResult{Name: "overclockers", Price: dec("90"), InStock: true},
		)

		out := DetectChanges(cur, prev)

		scan := out.Vendors[0].Changes
		require.NotNil(t, scan)
		require.NotNil(t, scan.Price)
		assert.True(t, scan.Price.Delta.Equal(*dec("3.5")))
		assert.True(t, scan.Price.IsSignificant)
		assert.Equal(t, &models.StockChange{Changed: true, Previous: false, Current: true}, scan.Stock)

		ebuyer := out.Vendors[1].Changes
		require.NotNil(t, ebuyer)
		assert.False(t, ebuyer.Price.IsSignificant)
		assert.Nil(t, ebuyer.Stock)

		assert.Nil(t, out.Vendors[2].Changes, "first observation gets no annotation")
		assert.True(t, HasSignificantChanges(out))
	})

	t.Run("null price yields no price change", func(t *testing.T) {
		prev := result(models.VendorResult{Name: "scan", Price: dec("100"), InStock: true})
		cur := result(models.VendorResult{Name: "scan", Price: nil, InStock: true})

		out := DetectChanges(cur, prev)
		assert.Nil(t, out.Vendors[0].Changes)

		out = DetectChanges(prev, cur)
		assert.Nil(t, out.Vendors[0].Changes)
		assert.False(t, HasSignificantChanges(out))
	})

	t.Run("inputs are not mutated", func(t *testing.T) {
		prev := result(models.VendorResult{Name: "scan", Price: dec("100"), InStock: false})
		cur := result(models.VendorResult{Name: "scan", Price: dec("120"), InStock: true})
		prevBefore := prev.Clone()
		curBefore := cur.Clone()

		out := DetectChanges(cur, prev)
		require.NotNil(t, out.Vendors[0].Changes)

		assert.Empty(t, cmp.Diff(prevBefore, prev))
		assert.Empty(t, cmp.Diff(curBefore, cur))
		assert.Nil(t, cur.Vendors[0].Changes)
	})

	t.Run("stale annotations from the current input are replaced", func(t *testing.T) {
		prev := result(models.VendorResult{Name: "scan", Price: dec("100"), InStock: true})
		cur := result(models.VendorResult{
			Name: "scan", Price: dec("100"), InStock: true,
			Changes: &models.VendorChanges{Stock: &models.StockChange{Changed: true}},
		})

		out := DetectChanges(cur, prev)
		require.NotNil(t, out.Vendors[0].Changes)
		assert.Nil(t, out.Vendors[0].Changes.Stock)
		assert.False(t, out.Vendors[0].Changes.Price.IsSignificant)
	})
}
