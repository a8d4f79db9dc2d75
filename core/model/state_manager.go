package model

import (
	"sync"

	scierrors "github.com/YuminosukeSato/exoml/pkg/errors"
)

// StateManager tracks the fitted state of an estimator. Fields are exported
// so that estimators holding a *StateManager stay gob-encodable.
type StateManager struct {
	Fitted    bool
	NFeatures int
	NSamples  int
	NClasses  int

	mu sync.RWMutex
}

// NewStateManager creates an unfitted StateManager.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// IsFitted returns whether the model has been fitted. A nil manager is unfitted.
func (s *StateManager) IsFitted() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Fitted
}

// MarkFitted records the training shape and marks the model as fitted.
func (s *StateManager) MarkFitted(nFeatures, nSamples, nClasses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = true
	s.NFeatures = nFeatures
	s.NSamples = nSamples
	s.NClasses = nClasses
}

// Reset resets the fitted state.
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = false
	s.NFeatures = 0
	s.NSamples = 0
	s.NClasses = 0
}

// GetDimensions returns the number of features and samples seen during fitting.
func (s *StateManager) GetDimensions() (nFeatures, nSamples int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.NFeatures, s.NSamples
}

// RequireFitted returns a NotFittedError naming modelName and method when unfitted.
func (s *StateManager) RequireFitted(modelName, method string) error {
	if !s.IsFitted() {
		return scierrors.NewNotFittedError(modelName, method)
	}
	return nil
}

// CheckFeatures returns a DimensionError when X has a different feature count
// than the training data.
func (s *StateManager) CheckFeatures(op string, got int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if got != s.NFeatures {
		return scierrors.NewDimensionError(op, s.NFeatures, got, 1)
	}
	return nil
}

// ModelState is a JSON view of the fitted state, used in artifact metadata.
type ModelState struct {
	Fitted    bool                   `json:"fitted"`
	NFeatures int                    `json:"n_features,omitempty"`
	NSamples  int                    `json:"n_samples,omitempty"`
	NClasses  int                    `json:"n_classes,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// GetState returns the current state as a ModelState struct.
func (s *StateManager) GetState() ModelState {
	if s == nil {
		return ModelState{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ModelState{
		Fitted:    s.Fitted,
		NFeatures: s.NFeatures,
		NSamples:  s.NSamples,
		NClasses:  s.NClasses,
	}
}
