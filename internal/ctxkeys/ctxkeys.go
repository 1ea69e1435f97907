package ctxkeys

import "context"

// TraceIDKey 上下文中追踪 ID 的键
type TraceIDKey struct{}

// WithTraceID 将追踪 ID 写入上下文
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey{}, id)
}

// TraceID 从上下文读取追踪 ID
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(TraceIDKey{}).(string)
	return id
}
