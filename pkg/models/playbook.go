package models

// Playbook is an ordered remediation plan for a class of exceptions.
// Conditions are evaluated by the matcher; Priority breaks ties.
type Playbook struct {
	ID            int64          `json:"playbook_id"`
	TenantID      string         `json:"tenant_id"`
	Name          string         `json:"name"`
	Version       int            `json:"version"`
	ExceptionType string         `json:"exception_type"`
	Conditions    map[string]any `json:"conditions,omitempty"`
	Priority      int            `json:"priority"`
	Steps         []PlaybookStep `json:"steps,omitempty"`
}

// PlaybookStep is one step of a playbook. StepOrder is 1-based and dense.
type PlaybookStep struct {
	ID         int64          `json:"step_id"`
	PlaybookID int64          `json:"playbook_id"`
	StepOrder  int            `json:"step_order"`
	Name       string         `json:"name"`
	ActionType ActionType     `json:"action_type"`
	Params     map[string]any `json:"params,omitempty"`
}

// StepAt returns the step with the given 1-based order, or nil.
func (p *Playbook) StepAt(order int) *PlaybookStep {
	for i := range p.Steps {
		if p.Steps[i].StepOrder == order {
			return &p.Steps[i]
		}
	}
	return nil
}

// LastStepOrder returns the highest step order, 0 when the playbook is empty.
func (p *Playbook) LastStepOrder() int {
	last := 0
	for i := range p.Steps {
		if p.Steps[i].StepOrder > last {
			last = p.Steps[i].StepOrder
		}
	}
	return last
}
