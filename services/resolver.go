package services

import (
	"sort"
	"time"

	"github.com/moneyflowz367/affilync-bigcommerce/models"

	"github.com/shopspring/decimal"
)

// AttributionResolver applies an attribution model to an order's candidate clicks.
type AttributionResolver struct {
	defaultModel models.AttributionModel
}

func NewAttributionResolver(defaultModel models.AttributionModel) *AttributionResolver {
	if !defaultModel.Known() {
		defaultModel = models.ModelLastClick
	}
	return &AttributionResolver{defaultModel: defaultModel}
}

// Resolve computes a fresh conversion record from scratch. Clicks inside the window win;
// without any, the order's own tracking code takes full credit. It reports false when
// neither exists, which is the NoAttribution outcome.
func (r *AttributionResolver) Resolve(order *models.OrderPayload, candidates []models.ClickRecord, model models.AttributionModel, storeID string, now time.Time) (*models.ConversionRecord, bool) {
	if order == nil {
		return nil, false
	}
	if len(candidates) == 0 {
		if order.TrackingCode == "" {
			return nil, false
		}
		return newRecord(order, storeID, []string{order.TrackingCode}, models.ModelTrackingCode, now), true
	}
	if !model.Known() {
		model = r.defaultModel
	}

	ordered := append([]models.ClickRecord(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	var affiliates []string
	switch model {
	case models.ModelFirstClick:
		affiliates = []string{ordered[0].AffiliateID}
	case models.ModelLinear:
		seen := make(map[string]bool, len(ordered))
		for _, c := range ordered {
			if !seen[c.AffiliateID] {
				seen[c.AffiliateID] = true
				affiliates = append(affiliates, c.AffiliateID)
			}
		}
	default:
		affiliates = []string{ordered[len(ordered)-1].AffiliateID}
	}

	return newRecord(order, storeID, affiliates, model, now), true
}

func newRecord(order *models.OrderPayload, storeID string, affiliates []string, model models.AttributionModel, now time.Time) *models.ConversionRecord {
	return &models.ConversionRecord{
		StoreID:          storeID,
		OrderID:          order.OrderID,
		OrderTotal:       order.OrderTotal,
		Currency:         order.Currency,
		Attributions:     splitCredit(affiliates, order.OrderTotal),
		AttributionModel: model,
		ResolvedAt:       now.UTC(),
		ResolutionCount:  1,
	}
}

// splitCredit gives each affiliate an equal share. The last one absorbs rounding so shares
// sum to 1 and amounts sum to total.
func splitCredit(affiliates []string, total decimal.Decimal) []models.AffiliateAttribution {
	n := len(affiliates)
	out := make([]models.AffiliateAttribution, n)
	each := total.DivRound(decimal.NewFromInt(int64(n)), 2)

	shareSum := 0.0
	amountSum := decimal.Zero
	for i, id := range affiliates {
		out[i].AffiliateID = id
		if i == n-1 {
			out[i].CreditedShare = 1 - shareSum
			out[i].CreditedAmount = total.Sub(amountSum)
			break
		}
		out[i].CreditedShare = 1 / float64(n)
		out[i].CreditedAmount = each
		shareSum += out[i].CreditedShare
		amountSum = amountSum.Add(each)
	}
	return out
}
