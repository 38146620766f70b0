package domain

// Intake carries the tenant data handed over by the conversion endpoint.
// It is validated synchronously before any background work starts; the
// caller only ever sees this validation or an immediate acknowledgment.
type Intake struct {
	CompanyName   string
	Industry      string
	OwnerEmail    string
	OwnerName     string
	OwnerPassword string
	OwnerPhone    string // optional
	Plan          string
	RequestID     string
	CreatorID     string
}

// Validate checks the intake for the fields provisioning cannot proceed
// without. It returns an IntakeValidationError naming the first problem.
func (in Intake) Validate() error {
	switch {
	case in.CompanyName == "":
		return &IntakeValidationError{Field: "companyName", Reason: "is required"}
	case in.OwnerEmail == "":
		return &IntakeValidationError{Field: "ownerEmail", Reason: "is required"}
	case in.OwnerName == "":
		return &IntakeValidationError{Field: "ownerName", Reason: "is required"}
	case in.OwnerPassword == "":
		return &IntakeValidationError{Field: "ownerPassword", Reason: "is required"}
	case in.RequestID == "":
		return &IntakeValidationError{Field: "requestId", Reason: "is required"}
	case !ValidPlan(in.Plan):
		return &IntakeValidationError{Field: "plan", Reason: "must be one of trial, starter, professional, enterprise"}
	}
	return nil
}
