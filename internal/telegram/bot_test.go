package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptyTokenDisablesBot(t *testing.T) {
	b, err := New("", 12345)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestSend_NilBotIsNoOp(t *testing.T) {
	var b *Bot
	assert.NoError(t, b.Send("hello"))
	assert.NoError(t, b.SendExecutionAlert("task", "failed", "boom"))
}
