package sharing

import (
	"errors"
	"sync"
	"time"
)

// State 会话生命周期状态
type State string

const (
	StateNone   State = "none"   // 尚未创建
	StateActive State = "active" // 共享中
	StateEnded  State = "ended"  // 已结束（终态）
)

// Event 生命周期事件
type Event string

const (
	EventStart  Event = "start"  // 共享者发起
	EventEnd    Event = "end"    // 共享者或管理员结束
	EventExpire Event = "expire" // 超时被回收
)

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrSessionEnded      = errors.New("session has already ended")
)

type stateEvent struct {
	state State
	event Event
}

var transitions = map[stateEvent]State{
	{StateNone, EventStart}:    StateActive,
	{StateActive, EventEnd}:    StateEnded,
	{StateActive, EventExpire}: StateEnded,
}

// Lifecycle 单个会话的状态机，ended 之后不能再回到 active
type Lifecycle struct {
	state   State
	endedAt time.Time
	mu      sync.RWMutex
}

// NewLifecycle 创建处于 none 状态的状态机
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateNone}
}

// ActiveLifecycle 用于从存储恢复的进行中会话
func ActiveLifecycle() *Lifecycle {
	return &Lifecycle{state: StateActive}
}

// Transition 执行状态转换
func (l *Lifecycle) Transition(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateEnded {
		return ErrSessionEnded
	}

	next, ok := transitions[stateEvent{l.state, event}]
	if !ok {
		return ErrInvalidTransition
	}
	if next == StateEnded {
		l.endedAt = time.Now()
	}
	l.state = next
	return nil
}

// State 当前状态
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsActive 是否共享中
func (l *Lifecycle) IsActive() bool {
	return l.State() == StateActive
}
