// Package pricing рассчитывает стоимость корзины.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/localhub-client/internal/model"
)

var (
	// DefaultTaxRate задаёт ставку налога (GST 5%).
	DefaultTaxRate = decimal.NewFromFloat(0.05)
	// DefaultAgentFee задаёт стоимость доставки курьером.
	DefaultAgentFee = decimal.NewFromInt(30)
)

// Options задаёт параметры расчёта.
type Options struct {
	TaxRate  decimal.Decimal
	AgentFee decimal.Decimal
}

// DefaultOptions возвращает стандартные параметры расчёта.
func DefaultOptions() Options {
	return Options{
		TaxRate:  DefaultTaxRate,
		AgentFee: DefaultAgentFee,
	}
}

// DeliveryFee возвращает стоимость доставки по таблице тарифов.
func (o Options) DeliveryFee(deliveryType model.DeliveryType) decimal.Decimal {
	if deliveryType == model.DeliveryAgent {
		return o.AgentFee
	}
	return decimal.Zero
}

// ComputeTotals рассчитывает итоговую стоимость корзины.
//
// Налог округляется один раз до целой денежной единицы от суммы всех позиций.
// Позиции без товара в каталоге считаются нулевыми и попадают в MissingProducts.
// Доставка магазином бесплатна, только если продавец её поддерживает; иначе применяется тариф курьера.
func ComputeTotals(
	items []model.CartItem,
	products map[string]model.Product,
	deliveryType model.DeliveryType,
	vendor model.Vendor,
	opts Options,
) model.PricingBreakdown {
	subtotal := decimal.Zero
	var missing []string

	for _, it := range items {
		p, ok := products[it.ProductID]
		if !ok {
			missing = append(missing, it.ProductID)
			continue
		}
		subtotal = subtotal.Add(p.EffectivePrice().Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	tax := subtotal.Mul(opts.TaxRate).Round(0)

	feeType := deliveryType
	if deliveryType == model.DeliveryShop && !vendor.HasOwnDelivery {
		feeType = model.DeliveryAgent
	}
	fee := opts.DeliveryFee(feeType)

	return model.PricingBreakdown{
		Subtotal:        subtotal,
		TaxRate:         opts.TaxRate,
		Tax:             tax,
		DeliveryFee:     fee,
		GrandTotal:      subtotal.Add(tax).Add(fee),
		MissingProducts: missing,
	}
}
