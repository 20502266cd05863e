package services

import "strings"

// ModelRouter picks a model for a single request from the content of the
// latest user message. It is a pure function of that text; conversation
// history plays no part in the decision.
type ModelRouter struct {
	indicators   []string
	simpleModel  string
	complexModel string
}

// NewModelRouter creates a router over a configured indicator list. A message
// containing any indicator, in any case mix, is classified as complex.
func NewModelRouter(indicators []string, simpleModel, complexModel string) *ModelRouter {
	lowered := make([]string, 0, len(indicators))
	for _, ind := range indicators {
		lowered = append(lowered, strings.ToLower(ind))
	}
	return &ModelRouter{
		indicators:   lowered,
		simpleModel:  simpleModel,
		complexModel: complexModel,
	}
}

// SelectModel returns the model id to use for content. Empty or
// whitespace-only content matches no indicator and routes to the simple model.
func (r *ModelRouter) SelectModel(content string) string {
	lowered := strings.ToLower(content)
	for _, ind := range r.indicators {
		if strings.Contains(lowered, ind) {
			return r.complexModel
		}
	}
	return r.simpleModel
}
