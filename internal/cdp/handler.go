package cdp

import (
	"context"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"

	adapter "cdpintercept/internal/adapter/cdp"
)

// process 处理一次请求暂停事件
func (m *Manager) process(ev *fetch.RequestPausedReply) {
	p := adapter.ToPausedRequest(ev, m.loaderFor(ev))
	from, _ := adapter.RedirectedFrom(ev)
	m.handler.Handle(m.runContext(), m.targetID, m.commander, p, from, m.enabled.Load())
}

// loaderFor 查找请求所属的 loader。Network 事件可能晚于 Fetch 事件到达，
// 此时文档类请求按导航处理（requestId 与 loaderId 相同）。
func (m *Manager) loaderFor(ev *fetch.RequestPausedReply) string {
	if ev.NetworkID == nil {
		return ""
	}
	id := string(*ev.NetworkID)
	if loader, ok := m.loaders.Get(id); ok {
		return loader
	}
	if string(ev.ResourceType) == "Document" {
		return id
	}
	return ""
}

// dispatchPaused 根据并发配置调度单次拦截事件处理
func (m *Manager) dispatchPaused(ev *fetch.RequestPausedReply) {
	if m.pool == nil {
		go m.process(ev)
		return
	}
	if !m.pool.submit(func() { m.process(ev) }) {
		p := adapter.ToPausedRequest(ev, "")
		m.handler.Degrade(m.runContext(), m.targetID, m.commander, p, "并发队列已满")
	}
}

// consume 持续接收拦截事件并按并发限制分发处理，ctx 取消时退出
func (m *Manager) consume(ctx context.Context, rp fetch.RequestPausedClient) {
	defer rp.Close()

	m.log.Info("开始消费拦截事件流")
	for {
		ev, err := rp.Recv()
		if err != nil {
			m.handleStreamClosed(ctx, err)
			return
		}
		m.dispatchPaused(ev)
	}
}

// trackLoaders 记录 Network 请求与 loader 的对应关系，用于识别导航请求
func (m *Manager) trackLoaders(ws network.RequestWillBeSentClient) {
	defer ws.Close()

	for {
		ev, err := ws.Recv()
		if err != nil {
			return
		}
		m.loaders.Add(string(ev.RequestID), string(ev.LoaderID))
	}
}

// handleStreamClosed 处理拦截流终止
func (m *Manager) handleStreamClosed(ctx context.Context, err error) {
	if !m.enabled.Load() || ctx.Err() != nil {
		m.log.Info("拦截已停止，结束事件消费")
		return
	}
	m.enabled.Store(false)
	m.log.Warn("拦截流被中断", "error", err)
}

func (m *Manager) runContext() context.Context {
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}
