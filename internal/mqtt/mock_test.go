package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type published struct {
	topic    string
	payload  string
	retained bool
}

// mockPahoClient is an in-memory stand-in for paho.Client.
type mockPahoClient struct {
	mu            sync.Mutex
	connected     bool
	subscriptions map[string]paho.MessageHandler
	published     []published
	disconnected  bool
	subscribeErr  error
}

func newMockPahoClient() *mockPahoClient {
	return &mockPahoClient{
		connected:     true,
		subscriptions: make(map[string]paho.MessageHandler),
	}
}

func (m *mockPahoClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPahoClient) IsConnectionOpen() bool { return m.IsConnected() }

func (m *mockPahoClient) Connect() paho.Token { return &mockToken{} }

func (m *mockPahoClient) Disconnect(uint) {
	m.mu.Lock()
	m.connected = false
	m.disconnected = true
	m.mu.Unlock()
}

func (m *mockPahoClient) Publish(topic string, _ byte, retained bool, payload interface{}) paho.Token {
	var body string
	switch p := payload.(type) {
	case string:
		body = p
	case []byte:
		body = string(p)
	}
	m.mu.Lock()
	m.published = append(m.published, published{topic: topic, payload: body, retained: retained})
	m.mu.Unlock()
	return &mockToken{}
}

func (m *mockPahoClient) Subscribe(topic string, _ byte, callback paho.MessageHandler) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return &mockToken{err: m.subscribeErr}
	}
	m.subscriptions[topic] = callback
	return &mockToken{}
}

func (m *mockPahoClient) SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token {
	for topic, qos := range filters {
		m.Subscribe(topic, qos, callback)
	}
	return &mockToken{}
}

func (m *mockPahoClient) Unsubscribe(topics ...string) paho.Token {
	m.mu.Lock()
	for _, t := range topics {
		delete(m.subscriptions, t)
	}
	m.mu.Unlock()
	return &mockToken{}
}

func (m *mockPahoClient) AddRoute(string, paho.MessageHandler) {}

func (m *mockPahoClient) OptionsReader() paho.ClientOptionsReader {
	return paho.ClientOptionsReader{}
}

func (m *mockPahoClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.subscriptions[topic]
	m.mu.Unlock()
	if ok {
		handler(m, &mockMessage{topic: topic, payload: payload})
	}
}

func (m *mockPahoClient) Published() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published{}, m.published...)
}

func (m *mockPahoClient) HasSubscription(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subscriptions[topic]
	return ok
}

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 0 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

type mockToken struct {
	err error
}

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *mockToken) Error() error { return t.err }
