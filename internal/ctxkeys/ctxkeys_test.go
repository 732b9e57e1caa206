package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	_, ok := RequestID(ctx)
	assert.False(t, ok)

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithPrincipal(ctx, "ops")

	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	sid, _ := SessionID(ctx)
	assert.Equal(t, "sess-1", sid)

	p, _ := Principal(ctx)
	assert.Equal(t, "ops", p)

	// 空字符串视为未设置
	_, ok = SessionID(WithSessionID(context.Background(), ""))
	assert.False(t, ok)
}
