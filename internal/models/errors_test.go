package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceErrorFormatting(t *testing.T) {
	plain := NewError(KindTwinNotFound, "digital twin %s not found", "room1")
	assert.Equal(t, "DigitalTwinNotFound: digital twin room1 not found", plain.Error())

	cause := errors.New("connection refused")
	wrapped := WrapError(KindTransient, cause, "query failed")
	assert.Equal(t, "Transient: query failed: connection refused", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestKindOfUnwrapsNestedErrors(t *testing.T) {
	inner := NewError(KindPreconditionFailed, "etag mismatch")
	outer := fmt.Errorf("twin room1: %w", inner)

	assert.Equal(t, KindPreconditionFailed, KindOf(outer))
	assert.True(t, IsKind(outer, KindPreconditionFailed))
	assert.False(t, IsKind(outer, KindTwinNotFound))

	// Anything that is not a ServiceError reads as internal.
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(KindTransient, "pool timeout")))
	assert.False(t, IsRetryable(NewError(KindValidationFailed, "bad twin")))
	assert.False(t, IsRetryable(errors.New("boom")))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		kind ErrorKind
		want int
	}{
		{KindArgument, 400},
		{KindValidationFailed, 400},
		{KindResolution, 400},
		{KindTwinNotFound, 404},
		{KindModelNotFound, 404},
		{KindRelationshipNotFound, 404},
		{KindComponentNotFound, 404},
		{KindJobNotFound, 404},
		{KindModelAlreadyExists, 409},
		{KindModelExtendsChanged, 409},
		{KindModelUpdateValidation, 409},
		{KindModelReferences, 409},
		{KindInvalidOperation, 409},
		{KindPreconditionFailed, 412},
		{KindCancelled, 500},
		{KindTransient, 500},
		{KindInternal, 500},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(NewError(tc.kind, "x")), string(tc.kind))
	}
	assert.Equal(t, 500, HTTPStatus(errors.New("boom")))
}
