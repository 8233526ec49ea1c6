package regularizer

import (
	"errors"
	"testing"
)

func TestCTDRConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*CTDRConfig)
		wantErr bool
	}{
		{"defaults", func(c *CTDRConfig) {}, false},
		{"zero lambda", func(c *CTDRConfig) { c.LambdaReg = 0 }, true},
		{"negative lambda", func(c *CTDRConfig) { c.LambdaReg = -1 }, true},
		{"zero alpha", func(c *CTDRConfig) { c.AlphaSensitivity = 0 }, true},
		{"zero epsilon", func(c *CTDRConfig) { c.Epsilon = 0 }, true},
		{"negative epsilon", func(c *CTDRConfig) { c.Epsilon = -1e-8 }, true},
	}

	for _, c := range cases {
		cfg := DefaultCTDRConfig()
		c.mutate(&cfg)
		err := cfg.Validate()
		if c.wantErr && err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
		if !c.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", c.name, err)
		}
		if c.wantErr && err != nil && !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: error should wrap ErrInvalidConfig, got %v", c.name, err)
		}
	}
}

func TestAnchorStateZeroValueIsUninitialized(t *testing.T) {
	var st AnchorState

	if st.HasCheckpoint() {
		t.Error("zero-value state should have no checkpoint")
	}
	if st.Len() != 0 {
		t.Errorf("expected length 0, got %d", st.Len())
	}
	if st.Importance != nil {
		t.Error("zero-value state should have no importance weights")
	}
}

func TestAnchorStateCommitDetachesInputs(t *testing.T) {
	st := &AnchorState{}
	ckpt := []float64{1, 2, 3}
	weights := []float64{1, 1, 1}

	if err := st.Commit(ckpt, weights); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	ckpt[0] = 99
	weights[0] = 99
	if st.Checkpoint[0] != 1 {
		t.Errorf("checkpoint aliased caller slice: got %v", st.Checkpoint[0])
	}
	if st.Importance[0] != 1 {
		t.Errorf("importance aliased caller slice: got %v", st.Importance[0])
	}
	if !st.HasCheckpoint() {
		t.Error("state should be anchored after commit")
	}
	if st.TaskCount != 1 {
		t.Errorf("expected task count 1, got %d", st.TaskCount)
	}
	if st.CommittedAt.IsZero() {
		t.Error("commit should stamp CommittedAt")
	}
}

func TestAnchorStateCommitRejectsMismatch(t *testing.T) {
	st := &AnchorState{}

	err := st.Commit([]float64{1, 2}, []float64{1})
	if err == nil {
		t.Fatal("expected length mismatch error")
	}
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("error should wrap ErrLengthMismatch, got %v", err)
	}
	if st.HasCheckpoint() {
		t.Error("failed commit must not leave partial state")
	}

	if err := st.Commit(nil, []float64{1}); err == nil {
		t.Error("expected error for nil checkpoint")
	}
}

func TestAnchorStateCommitReplacesWholesale(t *testing.T) {
	st := &AnchorState{}
	if err := st.Commit([]float64{1, 1}, []float64{1, 1}); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if err := st.Commit([]float64{5, 6}, []float64{0.2, 0.4}); err != nil {
		t.Fatalf("second commit failed: %v", err)
	}

	if st.Checkpoint[0] != 5 || st.Checkpoint[1] != 6 {
		t.Errorf("checkpoint not replaced: %v", st.Checkpoint)
	}
	if st.Importance[0] != 0.2 || st.Importance[1] != 0.4 {
		t.Errorf("importance not replaced: %v", st.Importance)
	}
	if st.TaskCount != 2 {
		t.Errorf("expected task count 2, got %d", st.TaskCount)
	}
}

func TestAnchorStateReset(t *testing.T) {
	st := &AnchorState{}
	if err := st.Commit([]float64{1}, []float64{1}); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	st.Reset()
	if st.HasCheckpoint() || st.TaskCount != 0 || st.Importance != nil {
		t.Errorf("reset did not return to uninitialized: %+v", st)
	}
}

func TestAnchorStateCloneIsDeep(t *testing.T) {
	st := &AnchorState{}
	if err := st.Commit([]float64{1, 2}, []float64{0.5, 0.5}); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	cl := st.Clone()
	cl.Checkpoint[0] = 42
	cl.Importance[0] = 42
	if st.Checkpoint[0] != 1 || st.Importance[0] != 0.5 {
		t.Error("clone shares storage with original")
	}
	if cl.TaskCount != st.TaskCount {
		t.Errorf("clone task count %d != %d", cl.TaskCount, st.TaskCount)
	}
}
