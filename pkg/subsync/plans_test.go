package subsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeaturesForPlan(t *testing.T) {
	free := FeaturesForPlan(PlanFree)
	assert.Equal(t, 1, free.MaxProjects)
	assert.False(t, free.APIAccess)

	standard := FeaturesForPlan(PlanStandard)
	assert.True(t, standard.APIAccess)
	assert.False(t, standard.PrioritySupport)

	premium := FeaturesForPlan(PlanPremium)
	assert.True(t, premium.CustomDomain)
	assert.Equal(t, 100, premium.MaxProjects)

	// Unknown plans degrade to the free tier rather than failing reads
	unknown := FeaturesForPlan("platinum")
	assert.Equal(t, free, unknown)
}

func TestValidPlan(t *testing.T) {
	assert.True(t, ValidPlan(PlanStandard))
	assert.True(t, ValidPlan(PlanPlus))
	assert.True(t, ValidPlan(PlanPremium))

	// Free is not purchasable
	assert.False(t, ValidPlan(PlanFree))
	assert.False(t, ValidPlan(""))
	assert.False(t, ValidPlan("platinum"))
}

func TestValidBillingPeriod(t *testing.T) {
	assert.True(t, ValidBillingPeriod(BillingMonthly))
	assert.True(t, ValidBillingPeriod(BillingYearly))
	assert.False(t, ValidBillingPeriod("weekly"))
	assert.False(t, ValidBillingPeriod(""))
}
