package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Topic names follow a pattern:
//
//	run:<runID>        events for one run
//	workflow:<name>    events for every run of a workflow
//	runs               all run and compensation events
//	firehose           everything, cron included

const (
	TopicRuns     = "runs"
	TopicFirehose = "firehose"
)

// RunTopic returns the topic name for a specific run.
func RunTopic(runID string) string { return "run:" + runID }

// WorkflowTopic returns the topic name for every run of a workflow.
func WorkflowTopic(name string) string { return "workflow:" + name }

// TopicRegistry manages subscriber sets per topic.
// It is safe for concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriberID → subscriber
}

// NewTopicRegistry creates an empty topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

// Subscribe adds a subscriber to a topic.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

// Unsubscribe removes a subscriber from a topic. Empty topics are dropped.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.remove(topic, subscriberID)
}

// UnsubscribeAll removes a subscriber from every topic.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for topic := range tr.topics {
		tr.remove(topic, subscriberID)
	}
}

// remove must be called with mu held.
func (tr *TopicRegistry) remove(topic, subscriberID string) {
	subs, ok := tr.topics[topic]
	if !ok {
		return
	}
	if sub, exists := subs[subscriberID]; exists {
		sub.removeTopic(topic)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(tr.topics, topic)
	}
}

// Broadcast delivers an event once to every subscriber on any of the
// listed topics and returns the number of deliveries.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for id, sub := range tr.topics[topic] {
			seen[id] = sub
		}
	}
	tr.mu.RUnlock()

	delivered := 0
	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		}
	}
	return delivered
}

// TopicCount returns the number of active topics.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on a topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

// resolveTopics returns every topic an event is published to.
func resolveTopics(evt *Event) []string {
	topics := []string{TopicFirehose}
	if evt.Type == EventCronFired {
		return topics
	}
	topics = append(topics, TopicRuns)
	if evt.RunID != "" {
		topics = append(topics, RunTopic(evt.RunID))
	}
	if evt.Workflow != "" {
		topics = append(topics, WorkflowTopic(evt.Workflow))
	}
	return topics
}

// ValidateTopic checks whether a topic string is valid.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicRuns, TopicFirehose:
		return nil
	}
	kind, name, ok := strings.Cut(topic, ":")
	if !ok || name == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	switch kind {
	case "run", "workflow":
		return nil
	default:
		return fmt.Errorf("stream: unknown topic kind %q", kind)
	}
}
