package app_test

import (
	"testing"

	"github.com/neomorfeo/provisioniq/internal/app"
	"github.com/neomorfeo/provisioniq/internal/domain"
)

func TestSpecForTier_StrictlyIncreasingReplicas(t *testing.T) {
	tiers := []string{domain.PlanTrial, domain.PlanStarter, domain.PlanProfessional, domain.PlanEnterprise}

	prev := 0
	for _, tier := range tiers {
		spec := app.SpecForTier(tier)
		if spec.Replicas < prev {
			t.Errorf("tier %q has %d replicas, less than lower tier's %d", tier, spec.Replicas, prev)
		}
		prev = spec.Replicas
		if spec.CPURequest == "" || spec.MemoryRequest == "" {
			t.Errorf("tier %q has empty resource requests", tier)
		}
	}

	if app.SpecForTier(domain.PlanEnterprise).Replicas <= app.SpecForTier(domain.PlanTrial).Replicas {
		t.Error("enterprise must allow strictly more replicas than trial")
	}
}

func TestSpecForTier_UnknownFallsBackToTrial(t *testing.T) {
	if got, want := app.SpecForTier("platinum"), app.SpecForTier(domain.PlanTrial); got != want {
		t.Errorf("unknown tier spec = %+v, want trial %+v", got, want)
	}
}
