package interception

import "sync"

// RedirectChain 一次导航经过重定向产生的请求序列，多个请求共享同一实例，只追加不修改
type RedirectChain struct {
	mu       sync.RWMutex
	requests []*InterceptedRequest
}

// NewRedirectChain 创建空的重定向链
func NewRedirectChain() *RedirectChain {
	return &RedirectChain{}
}

// Append 追加一个请求
func (c *RedirectChain) Append(r *InterceptedRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, r)
}

// Snapshot 返回当前序列的副本
func (c *RedirectChain) Snapshot() []*InterceptedRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*InterceptedRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// Len 返回链长度
func (c *RedirectChain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.requests)
}
