package shamwari

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCharBasedEstimator_EstimateText(t *testing.T) {
	estimator := CharBasedEstimator{}

	assert.Equal(t, 0, estimator.EstimateText(""))
	assert.Equal(t, 1, estimator.EstimateText("a"))
	assert.Equal(t, 1, estimator.EstimateText("abcd"))
	assert.Equal(t, 2, estimator.EstimateText("abcde"))
	assert.Equal(t, 25, estimator.EstimateText(strings.Repeat("x", 100)))
}

func TestCharBasedEstimator_Deterministic(t *testing.T) {
	estimator := CharBasedEstimator{}
	text := "Mhoro, ndeipi?"

	first := estimator.EstimateText(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, estimator.EstimateText(text))
	}
}

func TestCharBasedEstimator_MonotonicInLength(t *testing.T) {
	estimator := CharBasedEstimator{}

	previous := 0
	for length := 0; length <= 64; length++ {
		got := estimator.EstimateText(strings.Repeat("a", length))
		assert.GreaterOrEqual(t, got, previous, "length %d", length)
		previous = got
	}
}

func TestCharBasedEstimator_CustomRatio(t *testing.T) {
	estimator := CharBasedEstimator{CharsPerToken: 2}

	assert.Equal(t, 2, estimator.EstimateText("abcd"))
	assert.Equal(t, 3, estimator.EstimateText("abcde"))
}

func TestCharBasedEstimator_EstimateMessages(t *testing.T) {
	estimator := CharBasedEstimator{}

	assert.Equal(t, 0, estimator.EstimateMessages(nil))
	assert.Equal(t, 0, estimator.EstimateMessages([]ChatMessage{}))

	messages := []ChatMessage{
		NewChatMessage(SystemRole, "abcd"),     // 1 token + 4 overhead
		NewChatMessage(UserRole, "abcdefgh"),   // 2 tokens + 4 overhead
	}
	// 2 conversation overhead + 5 + 6
	assert.Equal(t, 13, estimator.EstimateMessages(messages))
}

func TestCharBasedEstimator_EmptyMessageStillCostsOverhead(t *testing.T) {
	estimator := CharBasedEstimator{}

	messages := []ChatMessage{NewChatMessage(UserRole, "")}
	assert.Equal(t, conversationTokenOverhead+messageTokenOverhead, estimator.EstimateMessages(messages))
}
