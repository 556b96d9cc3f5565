// Copyright (c) FaithFlow
// SPDX-License-Identifier: Apache-2.0

package transport

import "sync"

type subscriptionRecord struct {
	topic string
	qos   byte
}

// subscriptionRegistry is the in-memory source of truth for the desired
// subscription set. The broker-side set converges to it: entries added while
// disconnected are picked up by the full replay that runs on every
// (re)connect.
type subscriptionRegistry struct {
	mu   sync.RWMutex
	subs map[string]subscriptionRecord
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{
		subs: make(map[string]subscriptionRecord),
	}
}

// set records a desired subscription. Reports false if the topic was
// already registered, making Subscribe idempotent.
func (r *subscriptionRegistry) set(topic string, qos byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[topic]; ok {
		return false
	}
	r.subs[topic] = subscriptionRecord{topic: topic, qos: qos}
	return true
}

func (r *subscriptionRegistry) remove(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[topic]; !ok {
		return false
	}
	delete(r.subs, topic)
	return true
}

// snapshot returns the desired set as a topic->qos map for replay.
func (r *subscriptionRegistry) snapshot() map[string]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]byte, len(r.subs))
	for topic, rec := range r.subs {
		out[topic] = rec.qos
	}
	return out
}

func (r *subscriptionRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[string]subscriptionRecord)
}

func (r *subscriptionRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
