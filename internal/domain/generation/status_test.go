package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_ValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{name: "pending to processing", from: StatusPending, to: StatusProcessing},
		{name: "pending to cancelled", from: StatusPending, to: StatusCancelled},
		{name: "pending to failed", from: StatusPending, to: StatusFailed},
		{name: "pending to completed", from: StatusPending, to: StatusCompleted, wantErr: true},
		{name: "processing to completed", from: StatusProcessing, to: StatusCompleted},
		{name: "processing to failed", from: StatusProcessing, to: StatusFailed},
		{name: "processing to cancelled", from: StatusProcessing, to: StatusCancelled},
		{name: "processing to pending", from: StatusProcessing, to: StatusPending, wantErr: true},
		{name: "completed is terminal", from: StatusCompleted, to: StatusProcessing, wantErr: true},
		{name: "failed is terminal", from: StatusFailed, to: StatusCompleted, wantErr: true},
		{name: "cancelled is terminal", from: StatusCancelled, to: StatusCompleted, wantErr: true},
		{name: "unknown source", from: Status("BOGUS"), to: StatusProcessing, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.from.ValidateTransition(tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSourcesOf(t *testing.T) {
	assert.ElementsMatch(t, []Status{StatusProcessing}, SourcesOf(StatusCompleted))
	assert.ElementsMatch(t, []Status{StatusPending, StatusProcessing}, SourcesOf(StatusCancelled))
	assert.Empty(t, SourcesOf(StatusPending))
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.Equal(t, StatusFailed, ParseStatus("FAILED"))
	assert.Equal(t, Status(""), ParseStatus("failed"))
}
