package core

// BaseInput provides common fields for structured tool inputs.
// Tools embed this struct so the model can explain the call it makes.
type BaseInput struct {
	// Thought is the model's reasoning for the operations it emits.
	Thought string `json:"thought,omitempty"`
}
