package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event 事件接口
type Event interface {
	Type() string
	Timestamp() time.Time
	Payload() any
}

// BaseEvent 基础事件实现
type BaseEvent struct {
	EventType      string
	EventTimestamp time.Time
	EventPayload   any
}

// Type 返回事件类型
func (e *BaseEvent) Type() string {
	return e.EventType
}

// Timestamp 返回事件时间戳
func (e *BaseEvent) Timestamp() time.Time {
	return e.EventTimestamp
}

// Payload 返回事件载荷
func (e *BaseEvent) Payload() any {
	return e.EventPayload
}

// NewEvent 创建新事件
func NewEvent(eventType string, payload any) *BaseEvent {
	return &BaseEvent{
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   payload,
	}
}

// Handler 事件处理函数
type Handler func(ctx context.Context, event Event)

// Bus 事件总线接口
type Bus interface {
	// Publish 发布事件
	Publish(ctx context.Context, event Event)
	// Subscribe 订阅事件
	Subscribe(eventType string, handler Handler)
	// Unsubscribe 取消订阅
	Unsubscribe(eventType string, handler Handler)
	// Close 关闭事件总线
	Close()
}

// InMemoryBus is the default Bus: it never drops an event, and one
// dispatcher goroutine delivers to subscribers in publish order. That
// goroutine runs each handler itself, so while a handler runs the
// producer-facing channel is not drained; once bufferSize events are
// waiting in it, Publish blocks until the handler returns. InMemoryBus
// is the transport underneath the Base Turn Engine's event_sink (§4.1).
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	in       chan eventWrapper
	closed   bool
	logger   *zap.Logger
	wg       sync.WaitGroup
}

type eventWrapper struct {
	ctx   context.Context
	event Event
}

// NewInMemoryBus creates an event bus with an order-preserving dispatch
// queue. bufferSize is the capacity of the producer-facing channel.
// Between deliveries the pump goroutine moves every waiting event from
// that channel into a growable in-memory queue; while it is running a
// handler it does not, and a publisher that finds the channel full then
// blocks until the handler returns. No event is dropped.
func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	bus := &InMemoryBus{
		handlers: make(map[string][]Handler),
		in:       make(chan eventWrapper, bufferSize),
		logger:   logger,
	}

	bus.wg.Add(1)
	go bus.dispatch()

	return bus
}

// Publish enqueues event for dispatch and never drops it. It returns as
// soon as the producer-facing channel has room; while a subscriber's
// handler is running and bufferSize events are already waiting, it
// blocks until that handler returns.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	b.in <- eventWrapper{ctx: ctx, event: event}
}

// Subscribe 订阅事件
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make([]Handler, 0)
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", eventType),
	)
}

// Unsubscribe 取消订阅（移除该事件类型最后注册的处理器，不比较 handler 参数）
func (b *InMemoryBus) Unsubscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[eventType]
	if len(handlers) == 0 {
		return
	}

	// 从后往前找第一个匹配的 handler 并移除
	newHandlers := make([]Handler, 0, len(handlers))
	removed := false
	for i := len(handlers) - 1; i >= 0; i-- {
		// 注意: Go 不支持函数指针比较，但从后往前删除最后注册的同名 handler 是安全的默认行为
		if !removed {
			removed = true
			continue // 跳过最后一个
		}
		newHandlers = append([]Handler{handlers[i]}, newHandlers...)
	}
	if !removed {
		return
	}

	if len(newHandlers) == 0 {
		delete(b.handlers, eventType)
	} else {
		b.handlers[eventType] = newHandlers
	}
}

// Close stops accepting new events, delivers whatever is already
// queued, then returns once the dispatcher goroutine has exited.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	b.closed = true
	close(b.in)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("Event bus closed")
}

// dispatch is the bus's single background goroutine. Between
// deliveries it moves whatever Publish has sent into a growable slice,
// so the fixed-capacity channel applies backpressure to publishers only
// while a handler is running and the channel is full.
func (b *InMemoryBus) dispatch() {
	defer b.wg.Done()

	var queue []eventWrapper
	for {
		if len(queue) == 0 {
			wrapper, ok := <-b.in
			if !ok {
				return
			}
			queue = append(queue, wrapper)
			continue
		}

		select {
		case wrapper, ok := <-b.in:
			if !ok {
				for _, w := range queue {
					b.dispatchEvent(w.ctx, w.event)
				}
				return
			}
			queue = append(queue, wrapper)
		default:
			b.dispatchEvent(queue[0].ctx, queue[0].event)
			queue = queue[1:]
		}
	}
}

// dispatchEvent delivers one event to its subscribers, in registration
// order, on the bus's single dispatcher goroutine. Handlers run
// sequentially rather than fanned out in parallel goroutines: the Base
// Turn Engine's ordering guarantee (§4.1 — "an observer reading events
// sees the same causal order an observer reading the history would
// see") only holds if delivery itself is ordered, so a slow or
// reordered handler must not let a later event overtake an earlier one.
func (b *InMemoryBus) dispatchEvent(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0)

	if h, ok := b.handlers[event.Type()]; ok {
		handlers = append(handlers, h...)
	}

	if h, ok := b.handlers["*"]; ok {
		handlers = append(handlers, h...)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.runHandler(ctx, event, handler)
	}
}

func (b *InMemoryBus) runHandler(ctx context.Context, event Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Handler panicked",
				zap.String("event_type", event.Type()),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, event)
}

// Predefined event type constants.
const (
	EventTypeStateChange     = "state_change"
	EventTypeToolExecution   = "tool_execution"
	EventTypeModelRequest    = "model_request"
	EventTypeModelResponse   = "model_response"
	EventTypeError           = "error"
	EventTypeSessionCreated  = "session_created"
	EventTypeSessionEnded    = "session_ended"
	EventTypeApprovalRequest = "approval_request"
)

// StateChangePayload 状态变化事件载荷
type StateChangePayload struct {
	SessionID string
	FromState string
	ToState   string
	Trigger   string
	Metadata  map[string]any
}

// ToolExecutionPayload 工具执行事件载荷
type ToolExecutionPayload struct {
	SessionID  string
	ToolName   string
	ToolCallID string
	Arguments  map[string]any
	Result     any
	Duration   time.Duration
	Success    bool
}

// ModelRequestPayload 模型请求事件载荷
type ModelRequestPayload struct {
	SessionID string
	Model     string
	Messages  int
	HasTools  bool
}

// ModelResponsePayload 模型响应事件载荷
type ModelResponsePayload struct {
	SessionID  string
	Model      string
	TokensUsed int
	HasTools   bool
	Duration   time.Duration
}

// ErrorPayload 错误事件载荷
type ErrorPayload struct {
	SessionID string
	Component string
	Error     string
	Stack     string
}
