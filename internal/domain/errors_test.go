package domain_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/neomorfeo/provisioniq/internal/domain"
)

func TestSlugConflictError_Message(t *testing.T) {
	err := &domain.SlugConflictError{Slug: "acme"}
	if !strings.Contains(err.Error(), `"acme"`) {
		t.Errorf("message should contain the slug: %q", err.Error())
	}
}

func TestTransitionError_Message(t *testing.T) {
	err := &domain.TransitionError{Event: domain.EventResume, Current: domain.StatusActive}
	msg := err.Error()
	if !strings.Contains(msg, "resume") || !strings.Contains(msg, "active") {
		t.Errorf("message should name event and state: %q", msg)
	}
}

func TestStageError_WrapsCause(t *testing.T) {
	cause := errors.New("quota exceeded")
	err := &domain.StageError{Stage: domain.StageDeployment, Err: cause}

	if !errors.Is(err, cause) {
		t.Error("StageError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "deployment") {
		t.Errorf("message should name the stage: %q", err.Error())
	}

	wrapped := fmt.Errorf("running provisioning: %w", err)
	var stageErr *domain.StageError
	if !errors.As(wrapped, &stageErr) {
		t.Error("StageError should survive wrapping")
	}
	if stageErr.Stage != domain.StageDeployment {
		t.Errorf("Stage = %q, want %q", stageErr.Stage, domain.StageDeployment)
	}
}

func TestInvalidConfigurationError_Message(t *testing.T) {
	err := &domain.InvalidConfigurationError{Reason: "no character classes enabled"}
	if !strings.Contains(err.Error(), "no character classes enabled") {
		t.Errorf("message should contain the reason: %q", err.Error())
	}
}
