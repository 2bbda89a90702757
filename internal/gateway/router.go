package gateway

// ModelRouter picks the backend model variant for a request. The rule
// is deterministic: any inline binary payload routes to the multimodal
// model, everything else to the text model. There is no fallback and no
// cross-model retry; a failure on the selected model is surfaced.
type ModelRouter struct {
	textModel       string
	multimodalModel string
}

func NewModelRouter(textModel, multimodalModel string) *ModelRouter {
	return &ModelRouter{
		textModel:       textModel,
		multimodalModel: multimodalModel,
	}
}

func (r *ModelRouter) Select(req *Request) string {
	if len(req.Payload) > 0 {
		return r.multimodalModel
	}
	return r.textModel
}
