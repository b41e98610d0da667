package validation

import "github.com/morphos-dev/morphos/pkg/schema"

// WorkflowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (IDs, edge endpoints, type tags, per-type config)
// 3. DAG (cycles, reachability)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewWorkflowValidator creates a WorkflowValidator.
func NewWorkflowValidator() (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv}, nil
}

// Validate runs the full 3-stage pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and DAG stages are skipped.
func (wv *WorkflowValidator) Validate(wf *schema.Workflow) *schema.ValidationResult {
	if wf == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow is nil")
		return r
	}

	// Stage 1: Structural (JSON Schema).
	result := validateStructural(wv.jsonSchema, wf)
	if !result.Valid() {
		return result
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(wf))

	// Stage 3: DAG (skip if semantic errors, graph may be invalid).
	if result.Valid() {
		result.Merge(validateDAG(wf))
	}

	return result
}

// ValidateWorkflow runs the pipeline and returns an error if invalid.
func (wv *WorkflowValidator) ValidateWorkflow(wf *schema.Workflow) error {
	return wv.Validate(wf).ToError()
}

// validateStructural wraps JSONSchemaValidator.ValidateWorkflow, converting
// its error output into ValidationResult.
func validateStructural(v *JSONSchemaValidator, wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateWorkflow(wf)
	if err == nil {
		return result
	}

	serr, ok := err.(*schema.Error)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if serr.Details != nil {
		if violations, ok := serr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, serr.Message)
	return result
}
