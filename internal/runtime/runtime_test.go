package runtime

import (
	"errors"
	"fmt"
	"testing"

	"github.com/containerd/errdefs"
)

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	if !IsNotFound(errdefs.ErrNotFound) {
		t.Error("IsNotFound(errdefs.ErrNotFound) = false, want true")
	}
	if !IsNotFound(fmt.Errorf("tag image: %w", errdefs.ErrNotFound)) {
		t.Error("IsNotFound(wrapped) = false, want true")
	}
	if IsNotFound(errors.New("connection refused")) {
		t.Error("IsNotFound(unrelated) = true, want false")
	}
	if IsNotFound(nil) {
		t.Error("IsNotFound(nil) = true, want false")
	}
}
