package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRingBufferOrder(t *testing.T) {
	rb := NewRingBuffer[int](3)

	_, ok := rb.Last()
	assert.False(t, ok)

	rb.Add(1)
	rb.Add(2)
	assert.Equal(t, []int{1, 2}, rb.Snapshot())

	rb.Add(3)
	rb.Add(4)
	assert.Equal(t, []int{2, 3, 4}, rb.Snapshot())
	assert.Equal(t, 3, rb.Len())

	last, ok := rb.Last()
	assert.True(t, ok)
	assert.Equal(t, 4, last)

	rb.Clear()
	assert.Empty(t, rb.Snapshot())
	assert.Zero(t, rb.Len())
}

func TestTopicLogKeepsTenPerTopic(t *testing.T) {
	log := NewTopicLog(MessagesPerTopic)
	start := time.Unix(1700000000, 0)

	for i := 0; i < 12; i++ {
		log.Record("show/videoplayer/scene", []byte{byte('a' + i)}, start.Add(time.Duration(i)*time.Second))
	}
	log.Record("show/wled/scene", []byte("0"), start)

	history := log.History("show/videoplayer/scene")
	assert.Len(t, history, MessagesPerTopic)
	assert.Equal(t, "c", history[0].Payload)

	latest, ok := log.Latest("show/videoplayer/scene")
	assert.True(t, ok)
	assert.Equal(t, "l", latest.Payload)
	assert.Equal(t, start.Add(11*time.Second), latest.Received)

	assert.Equal(t, []string{"show/videoplayer/scene", "show/wled/scene"}, log.Topics())
	assert.Len(t, log.All(), 2)

	_, ok = log.Latest("show/none")
	assert.False(t, ok)
	assert.Nil(t, log.History("show/none"))
}

func TestTopicLogRecent(t *testing.T) {
	log := NewTopicLog(MessagesPerTopic)
	start := time.Unix(1700000000, 0)
	log.Record("show/control", []byte("play"), start)
	log.Record("show/videoplayer/scene", []byte("0"), start.Add(time.Second))
	log.Record("show/control", []byte("stop"), start.Add(2*time.Second))

	all := log.Recent("", 0)
	assert.Len(t, all, 3)
	assert.Equal(t, "stop", all[0].Payload)
	assert.Equal(t, "play", all[2].Payload)

	ctl := log.Recent("show/control", 1)
	assert.Len(t, ctl, 1)
	assert.Equal(t, "stop", ctl[0].Payload)
}
