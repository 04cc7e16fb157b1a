package subsync

// Features is the static feature set granted by a plan.
type Features struct {
	// MaxProjects is the number of projects the member may create
	MaxProjects int `json:"max_projects"`

	// MaxStorageGB is the storage allowance in gigabytes
	MaxStorageGB int `json:"max_storage_gb"`

	// APIAccess enables the public API
	APIAccess bool `json:"api_access"`

	// PrioritySupport enables the priority support queue
	PrioritySupport bool `json:"priority_support"`

	// CustomDomain enables serving from a custom domain
	CustomDomain bool `json:"custom_domain"`
}

// planFeatures is the static plan -> features table. Entitlement is always
// resolved through this table, never stored, so catalog changes apply to
// existing subscribers without a migration.
var planFeatures = map[PlanType]Features{
	PlanFree: {
		MaxProjects:  1,
		MaxStorageGB: 1,
	},
	PlanStandard: {
		MaxProjects:  5,
		MaxStorageGB: 10,
		APIAccess:    true,
	},
	PlanPlus: {
		MaxProjects:     25,
		MaxStorageGB:    100,
		APIAccess:       true,
		PrioritySupport: true,
	},
	PlanPremium: {
		MaxProjects:     100,
		MaxStorageGB:    1000,
		APIAccess:       true,
		PrioritySupport: true,
		CustomDomain:    true,
	},
}

// FeaturesForPlan returns the feature set for a plan. Unknown plans fall
// back to the free tier rather than failing the read path.
func FeaturesForPlan(plan PlanType) Features {
	if f, ok := planFeatures[plan]; ok {
		return f
	}
	return planFeatures[PlanFree]
}

// ValidPlan reports whether plan names a purchasable paid plan.
func ValidPlan(plan PlanType) bool {
	switch plan {
	case PlanStandard, PlanPlus, PlanPremium:
		return true
	default:
		return false
	}
}

// ValidBillingPeriod reports whether period is a supported billing cycle.
func ValidBillingPeriod(period BillingPeriod) bool {
	return period == BillingMonthly || period == BillingYearly
}
