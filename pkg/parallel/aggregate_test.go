package parallel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tarsy-run/tarsy/pkg/models"
)

func TestAggregateStatus(t *testing.T) {
	completed := models.ExecutionCompleted
	failed := models.ExecutionFailed
	cancelled := models.ExecutionCancelled
	paused := models.ExecutionPaused

	cases := []struct {
		name     string
		statuses []models.ExecutionStatus
		policy   models.SuccessPolicy
		want     models.ExecutionStatus
	}{
		{"any paused takes precedence", []models.ExecutionStatus{completed, paused}, models.PolicyAll, paused},
		{"ALL all completed", []models.ExecutionStatus{completed, completed}, models.PolicyAll, completed},
		{"ALL one failed", []models.ExecutionStatus{completed, failed}, models.PolicyAll, failed},
		{"ALL one cancelled counts as non-success", []models.ExecutionStatus{completed, cancelled}, models.PolicyAll, failed},
		{"ANY one completed", []models.ExecutionStatus{completed, failed}, models.PolicyAny, completed},
		{"ANY none completed", []models.ExecutionStatus{failed, cancelled}, models.PolicyAny, failed},
		{"ANY all cancelled", []models.ExecutionStatus{cancelled, cancelled}, models.PolicyAny, failed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AggregateStatus(tc.statuses, tc.policy)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAllNonSuccessAreCancelled(t *testing.T) {
	completed := models.ExecutionCompleted
	failed := models.ExecutionFailed
	cancelled := models.ExecutionCancelled

	assert.True(t, AllNonSuccessAreCancelled([]models.ExecutionStatus{cancelled, cancelled}))
	assert.True(t, AllNonSuccessAreCancelled([]models.ExecutionStatus{completed, cancelled}))
	assert.False(t, AllNonSuccessAreCancelled([]models.ExecutionStatus{failed, cancelled}))
	assert.False(t, AllNonSuccessAreCancelled([]models.ExecutionStatus{completed, completed}))
}
