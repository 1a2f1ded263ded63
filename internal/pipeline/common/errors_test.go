package common

import (
	"errors"
	"testing"
)

func TestPipelineError_Error(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		e := NewPipelineError(StageRetrieval, "failed", nil)
		s := e.Error()
		if s == "" || len(s) < 10 {
			t.Errorf("Error() = %q", s)
		}
		if !errors.As(e, new(*PipelineError)) {
			t.Error("should be *PipelineError")
		}
	})
	t.Run("with cause", func(t *testing.T) {
		e := NewPipelineError(StageAnswer, "llm", ErrGenerationFailed)
		if e.Error() == "" {
			t.Error("Error() should not be empty")
		}
		if e.Unwrap() != ErrGenerationFailed {
			t.Error("Unwrap() should return cause")
		}
		if !errors.Is(e, ErrGenerationFailed) {
			t.Error("errors.Is should see the sentinel")
		}
	})
}

func TestIsPipelineError_GetPipelineError(t *testing.T) {
	e := NewPipelineError("stage", "msg", nil)
	if !IsPipelineError(e) {
		t.Error("IsPipelineError should be true")
	}
	got, ok := GetPipelineError(e)
	if !ok || got != e {
		t.Errorf("GetPipelineError: ok=%v got=%v", ok, got)
	}
	if IsPipelineError(errors.New("other")) {
		t.Error("IsPipelineError(other) should be false")
	}
	_, ok = GetPipelineError(errors.New("other"))
	if ok {
		t.Error("GetPipelineError(other) should be false")
	}
}

func TestValidationError(t *testing.T) {
	e := NewValidationError("question", "required")
	if e.Error() == "" {
		t.Error("Error() should not be empty")
	}
	if !IsValidationError(e) {
		t.Error("IsValidationError should be true")
	}
	got, ok := GetValidationError(e)
	if !ok || got != e {
		t.Errorf("GetValidationError: ok=%v got=%v", ok, got)
	}
	if _, ok := GetValidationError(errors.New("other")); ok {
		t.Error("GetValidationError(other) should be false")
	}
}
