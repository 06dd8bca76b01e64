package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsErrorCodeThroughWrapping(t *testing.T) {
	base := NewConflictError("join request already pending")
	wrapped := fmt.Errorf("submit: %w", base)

	assert.True(t, IsErrorCode(wrapped, ErrConflict))
	assert.False(t, IsErrorCode(wrapped, ErrNotFound))
	assert.False(t, IsErrorCode(errors.New("plain"), ErrConflict))
	assert.Equal(t, ErrConflict, ErrorCode(wrapped))
	assert.Equal(t, ErrDatabase, ErrorCode(errors.New("driver exploded")))
}

func TestIsErrorCodeLooksPastOuterAppError(t *testing.T) {
	inner := NewConflictError("already pending")
	outer := NewAppError(ErrDatabase, "transaction failed", fmt.Errorf("callback: %w", inner))

	assert.True(t, IsErrorCode(outer, ErrDatabase))
	assert.True(t, IsErrorCode(outer, ErrConflict))
	assert.False(t, IsErrorCode(outer, ErrNotFound))
}

func TestAppErrorMessageIncludesOrigin(t *testing.T) {
	err := NewAppError(ErrDatabase, "failed to save membership", errors.New("connection reset"))
	assert.Equal(t, "failed to save membership: connection reset", err.Error())
	assert.Equal(t, "connection reset", errors.Unwrap(err).Error())
}

func TestAppErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrConflict, http.StatusConflict},
		{ErrInvalidTransition, http.StatusConflict},
		{ErrInvalidState, http.StatusConflict},
		{ErrActorTimeout, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, AppErrorToHTTPStatus(tt.code))
		})
	}
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, IsAuthError(NewForbiddenError("not a moderator")))
	assert.False(t, IsAuthError(NewInvalidInputError("lat out of range")))
}

func TestMetricsSnapshot(t *testing.T) {
	mc := NewMetricsCollector()
	mc.IncrementRequests()
	mc.IncrementRequests()
	mc.IncrementErrors()
	for i := 1; i <= 100; i++ {
		mc.AddOperationLatency("join", time.Duration(i)*time.Millisecond)
	}

	snap := mc.Snapshot()
	assert.Equal(t, uint64(2), snap.Requests)
	assert.Equal(t, uint64(1), snap.Errors)
	assert.Equal(t, 100, snap.Operations["join"].Count)
	assert.Equal(t, 50*time.Millisecond, snap.Operations["join"].P50)
	assert.Equal(t, 99*time.Millisecond, snap.Operations["join"].P99)
}
