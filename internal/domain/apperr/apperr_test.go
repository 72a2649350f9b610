package apperr

import (
	"fmt"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	notFound := &NotFoundError{Entity: "product"}

	tests := []struct {
		name       string
		err        error
		validation bool
		notFound   bool
		conflict   bool
	}{
		{name: "validation", err: Validation("bad percentage"), validation: true},
		{name: "wrapped validation", err: errors.Wrap(Validationf("code %q taken", "X"), "create"), validation: true},
		{name: "not found", err: notFound, notFound: true},
		{name: "wrapped not found", err: fmt.Errorf("load: %w", notFound), notFound: true},
		{name: "conflict", err: Conflict("usage raced"), conflict: true},
		{name: "internal", err: errors.New("db down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.validation, IsValidation(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.conflict, IsConflict(tt.err))
		})
	}
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "product not found", (&NotFoundError{Entity: "product"}).Error())
	assert.Equal(t, "code \"A\" taken", Validationf("code %q taken", "A").Error())
}
