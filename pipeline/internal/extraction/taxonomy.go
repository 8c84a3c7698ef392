package extraction

import (
	"strings"
	"unicode"

	"github.com/impactwatch/impactwatch/pipeline/internal/model"
)

var eventAliases = map[string]model.EventType{
	"launch": model.EventLaunch, "productlaunch": model.EventLaunch, "newproduct": model.EventLaunch,

	"pricingchange": model.EventPricingChange, "pricechange": model.EventPricingChange,
	"pricing": model.EventPricingChange, "priceincrease": model.EventPricingChange, "pricecut": model.EventPricingChange,

	"partnership": model.EventPartnership, "partner": model.EventPartnership, "alliance": model.EventPartnership,

	"regulatory": model.EventRegulatory, "regulation": model.EventRegulatory,
	"regulatoryaction": model.EventRegulatory, "legal": model.EventRegulatory, "lawsuit": model.EventRegulatory,

	"securityincident": model.EventSecurityIncident, "security": model.EventSecurityIncident,
	"breach": model.EventSecurityIncident, "databreach": model.EventSecurityIncident,
	"cyberattack": model.EventSecurityIncident, "vulnerability": model.EventSecurityIncident,

	"ma": model.EventMerger, "mergersandacquisitions": model.EventMerger, "mergersacquisitions": model.EventMerger, "mergeracquisition": model.EventMerger,
	"merger": model.EventMerger, "acquisition": model.EventMerger, "acquired": model.EventMerger,

	"funding": model.EventFunding, "fundraising": model.EventFunding, "fundinground": model.EventFunding,
	"investment": model.EventFunding,

	"hiring": model.EventHiring, "hire": model.EventHiring, "executivehire": model.EventHiring,

	"layoff": model.EventLayoff, "layoffs": model.EventLayoff, "jobcuts": model.EventLayoff,
	"restructuring": model.EventLayoff,

	"featureupdate": model.EventFeatureUpdate, "feature": model.EventFeatureUpdate,
	"productupdate": model.EventFeatureUpdate,

	"outage": model.EventOutage, "downtime": model.EventOutage, "serviceoutage": model.EventOutage,

	"rebranding": model.EventRebranding, "rebrand": model.EventRebranding, "namechange": model.EventRebranding,

	"marketexpansion": model.EventMarketExpansion, "expansion": model.EventMarketExpansion,
	"geographicexpansion": model.EventMarketExpansion,

	"unclassified": model.EventUnclassified, "other": model.EventUnclassified, "unknown": model.EventUnclassified,
}

// ResolveEventType maps a provider label onto the taxonomy, ignoring case,
// spaces and punctuation. ok is false when the label is not recognized.
func ResolveEventType(label string) (model.EventType, bool) {
	key := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, label)
	t, ok := eventAliases[key]
	return t, ok
}

// detailsFor keeps the variant that matches eventType and drops the rest.
func detailsFor(t model.EventType, d *wireDetails) model.EventDetails {
	var out model.EventDetails
	if d == nil {
		return out
	}
	switch t {
	case model.EventLaunch, model.EventFeatureUpdate:
		if d.Product == "" && d.Availability == "" {
			return out
		}
		v := &model.LaunchDetails{Product: d.Product, Availability: d.Availability}
		if t == model.EventLaunch {
			out.Launch = v
		} else {
			out.FeatureUpdate = v
		}
	case model.EventPricingChange:
		if d.OldPrice != "" || d.NewPrice != "" || d.ChangePct != 0 {
			out.PricingChange = &model.PricingChangeDetails{
				OldPrice: d.OldPrice, NewPrice: d.NewPrice, Currency: d.Currency, ChangePct: d.ChangePct,
			}
		}
	case model.EventPartnership:
		if len(d.Partners) > 0 || d.Scope != "" {
			out.Partnership = &model.PartnershipDetails{Partners: d.Partners, Scope: d.Scope}
		}
	case model.EventRegulatory:
		if d.Regulator != "" || d.Jurisdiction != "" || d.Action != "" {
			out.Regulatory = &model.RegulatoryDetails{Regulator: d.Regulator, Jurisdiction: d.Jurisdiction, Action: d.Action}
		}
	case model.EventSecurityIncident:
		if d.Severity != "" || d.RecordsAffected != 0 {
			out.SecurityIncident = &model.SecurityIncidentDetails{Severity: d.Severity, RecordsAffected: d.RecordsAffected}
		}
	case model.EventMerger:
		if d.Acquirer != "" || d.Target != "" || d.DealValue != "" {
			out.Merger = &model.MergerDetails{Acquirer: d.Acquirer, Target: d.Target, DealValue: d.DealValue}
		}
	case model.EventFunding:
		if d.Amount != "" || d.Round != "" || len(d.Investors) > 0 {
			out.Funding = &model.FundingDetails{Amount: d.Amount, Round: d.Round, Investors: d.Investors}
		}
	case model.EventHiring, model.EventLayoff:
		if d.Headcount == 0 && d.Teams == "" {
			return out
		}
		v := &model.HeadcountDetails{Headcount: d.Headcount, Teams: d.Teams}
		if t == model.EventHiring {
			out.Hiring = v
		} else {
			out.Layoff = v
		}
	case model.EventOutage:
		if d.Service != "" || d.Duration != "" {
			out.Outage = &model.OutageDetails{Service: d.Service, Duration: d.Duration}
		}
	case model.EventRebranding:
		if d.OldName != "" || d.NewName != "" {
			out.Rebranding = &model.RebrandingDetails{OldName: d.OldName, NewName: d.NewName}
		}
	case model.EventMarketExpansion:
		if len(d.Regions) > 0 {
			out.MarketExpansion = &model.MarketExpansionDetails{Regions: d.Regions}
		}
	}
	return out
}
