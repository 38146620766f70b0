package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/provisioniq/internal/app"
	"github.com/neomorfeo/provisioniq/internal/domain"
)

// InstanceResponse is the API representation of an instance.
type InstanceResponse struct {
	ID             string `json:"id" doc:"Unique identifier"`
	Name           string `json:"name" doc:"Company display name"`
	Slug           string `json:"slug" doc:"Subdomain-safe identifier"`
	Status         string `json:"status" doc:"Lifecycle state"`
	Stage          string `json:"stage" doc:"Last completed provisioning stage"`
	Plan           string `json:"plan" doc:"Subscription plan"`
	OwnerEmail     string `json:"owner_email" doc:"Owner contact email"`
	URL            string `json:"url,omitempty" doc:"Instance web address"`
	APIURL         string `json:"api_url,omitempty" doc:"Instance API address"`
	FailureMessage string `json:"failure_message,omitempty" doc:"Why provisioning failed, if it did"`
	TrialEndsAt    string `json:"trial_ends_at,omitempty" doc:"Trial expiry (ISO 8601)"`
	CreatedAt      string `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	UpdatedAt      string `json:"updated_at" doc:"Last update timestamp (ISO 8601)"`
	ActivatedAt    string `json:"activated_at,omitempty" doc:"Activation timestamp (ISO 8601)"`
	SuspendedAt    string `json:"suspended_at,omitempty" doc:"Suspension timestamp (ISO 8601)"`
}

const timeFormat = "2006-01-02T15:04:05Z"

func toInstanceResponse(inst domain.Instance, baseDomain string) InstanceResponse {
	resp := InstanceResponse{
		ID:             inst.ID,
		Name:           inst.Name,
		Slug:           inst.Slug,
		Status:         string(inst.Status),
		Stage:          string(inst.Stage),
		Plan:           inst.Plan,
		OwnerEmail:     inst.OwnerEmail,
		FailureMessage: inst.FailureMessage,
		TrialEndsAt:    formatOptional(inst.TrialEndsAt),
		CreatedAt:      inst.CreatedAt.Format(timeFormat),
		UpdatedAt:      inst.UpdatedAt.Format(timeFormat),
		ActivatedAt:    formatOptional(inst.ActivatedAt),
		SuspendedAt:    formatOptional(inst.SuspendedAt),
	}

	// Addresses only make sense once the instance is reachable.
	if inst.Status == domain.StatusActive || inst.Status == domain.StatusSuspended {
		resp.URL = inst.URL(baseDomain)
		resp.APIURL = inst.APIURL(baseDomain)
	}

	return resp
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeFormat)
}

// --- Provision Instance ---

type ProvisionInstanceInput struct {
	Body struct {
		CompanyName   string `json:"companyName" minLength:"1" maxLength:"255" doc:"Company display name"`
		Industry      string `json:"industry,omitempty" doc:"Company industry"`
		OwnerEmail    string `json:"ownerEmail" format:"email" doc:"Owner contact email"`
		OwnerName     string `json:"ownerName" minLength:"1" maxLength:"255" doc:"Owner full name"`
		OwnerPassword string `json:"ownerPassword" minLength:"8" doc:"Initial owner password"`
		OwnerPhone    string `json:"ownerPhone,omitempty" doc:"Owner phone number"`
		Plan          string `json:"plan,omitempty" default:"trial" enum:"trial,starter,professional,enterprise" doc:"Subscription plan"`
		RequestID     string `json:"requestId" minLength:"1" doc:"Idempotency key for this provisioning request"`
		CreatorID     string `json:"creatorId,omitempty" doc:"Identifier of the operator triggering provisioning"`
	}
}

type ProvisionInstanceOutput struct {
	Status int
	Body   struct {
		InstanceID string `json:"instanceId" doc:"Identifier to poll for provisioning progress"`
		Status     string `json:"status" doc:"Always \"provisioning\" on acceptance"`
	}
}

// --- Get Instance ---

type GetInstanceInput struct {
	ID string `path:"id" doc:"Instance ID"`
}

type GetInstanceOutput struct {
	Body InstanceResponse
}

// --- List Instances ---

type ListInstancesInput struct {
	Status string `query:"status" required:"false" doc:"Filter by status"`
	Limit  int    `query:"limit" required:"false" default:"50" doc:"Max results"`
	Offset int    `query:"offset" required:"false" default:"0" doc:"Pagination offset"`
}

type ListInstancesOutput struct {
	Body []InstanceResponse
}

// --- Lifecycle actions ---

type LifecycleInput struct {
	ID string `path:"id" doc:"Instance ID"`
}

type LifecycleOutput struct {
	Body InstanceResponse
}

// Register adds all instance API routes to the Huma API.
func Register(api huma.API, svc *app.InstanceService) {
	huma.Register(api, huma.Operation{
		OperationID:   "provision-instance",
		Method:        http.MethodPost,
		Path:          "/api/v1/instances",
		Summary:       "Trigger provisioning of a new instance",
		Tags:          []string{"Instances"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *ProvisionInstanceInput) (*ProvisionInstanceOutput, error) {
		intake := domain.Intake{
			CompanyName:   input.Body.CompanyName,
			Industry:      input.Body.Industry,
			OwnerEmail:    input.Body.OwnerEmail,
			OwnerName:     input.Body.OwnerName,
			OwnerPassword: input.Body.OwnerPassword,
			OwnerPhone:    input.Body.OwnerPhone,
			Plan:          input.Body.Plan,
			RequestID:     input.Body.RequestID,
			CreatorID:     input.Body.CreatorID,
		}

		id, err := svc.ProvisionInstance(ctx, intake)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &ProvisionInstanceOutput{Status: http.StatusAccepted}
		out.Body.InstanceID = id
		out.Body.Status = string(domain.StatusProvisioning)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-instance",
		Method:      http.MethodGet,
		Path:        "/api/v1/instances/{id}",
		Summary:     "Get an instance by ID",
		Tags:        []string{"Instances"},
	}, func(ctx context.Context, input *GetInstanceInput) (*GetInstanceOutput, error) {
		inst, err := svc.GetByID(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetInstanceOutput{Body: toInstanceResponse(inst, svc.BaseDomain())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-instances",
		Method:      http.MethodGet,
		Path:        "/api/v1/instances",
		Summary:     "List instances",
		Tags:        []string{"Instances"},
	}, func(ctx context.Context, input *ListInstancesInput) (*ListInstancesOutput, error) {
		filter := domain.ListFilter{
			Limit:  input.Limit,
			Offset: input.Offset,
		}
		if input.Status != "" {
			s := domain.Status(input.Status)
			filter.Status = &s
		}

		instances, err := svc.List(ctx, filter)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]InstanceResponse, len(instances))
		for i, inst := range instances {
			resp[i] = toInstanceResponse(inst, svc.BaseDomain())
		}
		return &ListInstancesOutput{Body: resp}, nil
	})

	registerLifecycle(api, "suspend-instance", "suspend", "Suspend an active instance", svc.Suspend, svc)
	registerLifecycle(api, "resume-instance", "resume", "Resume a suspended instance", svc.Resume, svc)
	registerLifecycle(api, "terminate-instance", "terminate", "Terminate an instance and release its resources", svc.Terminate, svc)
}

func registerLifecycle(
	api huma.API,
	operationID, action, summary string,
	fn func(context.Context, string) (domain.Instance, error),
	svc *app.InstanceService,
) {
	huma.Register(api, huma.Operation{
		OperationID: operationID,
		Method:      http.MethodPost,
		Path:        "/api/v1/instances/{id}/" + action,
		Summary:     summary,
		Tags:        []string{"Instances"},
	}, func(ctx context.Context, input *LifecycleInput) (*LifecycleOutput, error) {
		inst, err := fn(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &LifecycleOutput{Body: toInstanceResponse(inst, svc.BaseDomain())}, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrInstanceNotFound) {
		return huma.Error404NotFound("instance not found")
	}

	var intakeErr *domain.IntakeValidationError
	if errors.As(err, &intakeErr) {
		return huma.Error422UnprocessableEntity(intakeErr.Error())
	}

	var slugErr *domain.SlugConflictError
	if errors.As(err, &slugErr) {
		return huma.Error409Conflict(slugErr.Error())
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return huma.Error422UnprocessableEntity(trErr.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}
