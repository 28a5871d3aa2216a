package events

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MessagesPerTopic is how many messages TopicLog keeps for each topic.
const MessagesPerTopic = 10

// Message is a bus message as received, before any interpretation.
type Message struct {
	Topic    string    `json:"topic"`
	Received time.Time `json:"received"`
	Payload  string    `json:"payload"`
}

// TopicLog keeps the most recent messages seen on each topic.
// It is written from bus callbacks and read by the HTTP surface.
type TopicLog struct {
	mu     sync.RWMutex
	depth  int
	topics map[string]*RingBuffer[Message]
}

func NewTopicLog(depth int) *TopicLog {
	if depth < 1 {
		depth = MessagesPerTopic
	}
	return &TopicLog{
		depth:  depth,
		topics: make(map[string]*RingBuffer[Message]),
	}
}

// Record appends a message to its topic's history.
func (l *TopicLog) Record(topic string, payload []byte, at time.Time) Message {
	m := Message{Topic: topic, Received: at, Payload: string(payload)}

	l.mu.RLock()
	rb, ok := l.topics[topic]
	l.mu.RUnlock()
	if !ok {
		l.mu.Lock()
		if rb, ok = l.topics[topic]; !ok {
			rb = NewRingBuffer[Message](l.depth)
			l.topics[topic] = rb
		}
		l.mu.Unlock()
	}
	rb.Add(m)
	return m
}

// Latest returns the newest message on topic.
func (l *TopicLog) Latest(topic string) (Message, bool) {
	l.mu.RLock()
	rb, ok := l.topics[topic]
	l.mu.RUnlock()
	if !ok {
		return Message{}, false
	}
	return rb.Last()
}

// History returns the retained messages on topic, oldest first.
func (l *TopicLog) History(topic string) []Message {
	l.mu.RLock()
	rb, ok := l.topics[topic]
	l.mu.RUnlock()
	if !ok {
		return nil
	}
	return rb.Snapshot()
}

// Topics lists every topic seen so far in lexical order.
func (l *TopicLog) Topics() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.topics))
	for t := range l.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// All returns the full history keyed by topic.
func (l *TopicLog) All() map[string][]Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string][]Message, len(l.topics))
	for t, rb := range l.topics {
		out[t] = rb.Snapshot()
	}
	return out
}

// Recent returns the messages of every topic starting with prefix,
// newest first, at most limit of them. limit <= 0 means no limit.
func (l *TopicLog) Recent(prefix string, limit int) []Message {
	var out []Message
	for topic, msgs := range l.All() {
		if !strings.HasPrefix(topic, prefix) {
			continue
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			out = append(out, msgs[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Received.Equal(out[j].Received) {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Received.After(out[j].Received)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
