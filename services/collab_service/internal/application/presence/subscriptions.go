package presence

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// SubscriptionIndex 目标用户 -> 订阅者集合，同时维护反向索引方便断线时整体取消
type SubscriptionIndex struct {
	byTarget     map[uint64]map[uint64]struct{}
	bySubscriber map[uint64]map[uint64]struct{}
	mu           sync.RWMutex
}

// NewSubscriptionIndex 创建订阅索引
func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{
		byTarget:     make(map[uint64]map[uint64]struct{}),
		bySubscriber: make(map[uint64]map[uint64]struct{}),
	}
}

// Subscribe 重复订阅无副作用
func (s *SubscriptionIndex) Subscribe(targetUserID, subscriberID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addEdge(s.byTarget, targetUserID, subscriberID)
	addEdge(s.bySubscriber, subscriberID, targetUserID)
}

// Unsubscribe 取消不存在的订阅无副作用
func (s *SubscriptionIndex) Unsubscribe(targetUserID, subscriberID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removeEdge(s.byTarget, targetUserID, subscriberID)
	removeEdge(s.bySubscriber, subscriberID, targetUserID)
}

// RemoveSubscriber 取消订阅者的全部订阅
func (s *SubscriptionIndex) RemoveSubscriber(subscriberID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for targetUserID := range s.bySubscriber[subscriberID] {
		removeEdge(s.byTarget, targetUserID, subscriberID)
	}
	delete(s.bySubscriber, subscriberID)
}

// RemoveTarget 删除目标用户的全部订阅关系
func (s *SubscriptionIndex) RemoveTarget(targetUserID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for subscriberID := range s.byTarget[targetUserID] {
		removeEdge(s.bySubscriber, subscriberID, targetUserID)
	}
	delete(s.byTarget, targetUserID)
}

// Subscribers 目标用户当前的订阅者，按ID排序
func (s *SubscriptionIndex) Subscribers(targetUserID uint64) []uint64 {
	s.mu.RLock()
	ids := lo.Keys(s.byTarget[targetUserID])
	s.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// SubscriptionsOf 订阅者关注的目标用户
func (s *SubscriptionIndex) SubscriptionsOf(subscriberID uint64) []uint64 {
	s.mu.RLock()
	ids := lo.Keys(s.bySubscriber[subscriberID])
	s.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

func addEdge(index map[uint64]map[uint64]struct{}, from, to uint64) {
	set, ok := index[from]
	if !ok {
		set = make(map[uint64]struct{})
		index[from] = set
	}
	set[to] = struct{}{}
}

func removeEdge(index map[uint64]map[uint64]struct{}, from, to uint64) {
	set, ok := index[from]
	if !ok {
		return
	}
	delete(set, to)
	if len(set) == 0 {
		delete(index, from)
	}
}
