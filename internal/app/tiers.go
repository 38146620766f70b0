package app

import "github.com/neomorfeo/provisioniq/internal/domain"

// tierSpecs is the static per-tier compute table. Allowances increase
// strictly from trial to enterprise.
var tierSpecs = map[string]domain.WorkloadSpec{
	domain.PlanTrial: {
		Replicas:      1,
		CPURequest:    "100m",
		CPULimit:      "250m",
		MemoryRequest: "128Mi",
		MemoryLimit:   "256Mi",
	},
	domain.PlanStarter: {
		Replicas:      1,
		CPURequest:    "250m",
		CPULimit:      "500m",
		MemoryRequest: "256Mi",
		MemoryLimit:   "512Mi",
	},
	domain.PlanProfessional: {
		Replicas:      2,
		CPURequest:    "500m",
		CPULimit:      "1",
		MemoryRequest: "512Mi",
		MemoryLimit:   "1Gi",
	},
	domain.PlanEnterprise: {
		Replicas:      3,
		CPURequest:    "1",
		CPULimit:      "2",
		MemoryRequest: "1Gi",
		MemoryLimit:   "2Gi",
	},
}

// SpecForTier returns the workload spec for a subscription tier. Unknown
// tiers fall back to the trial allowance; intake validation rejects them
// before provisioning starts, so this is a safety net only.
func SpecForTier(tier string) domain.WorkloadSpec {
	if spec, ok := tierSpecs[tier]; ok {
		return spec
	}
	return tierSpecs[domain.PlanTrial]
}
