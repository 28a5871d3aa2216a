package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalShow = `
scenes:
  - name: one
    file: one.mp4
    duration: 10
    timed_outputs:
      - start_time: 0
        i2c_outputs: {fan: true}
      - start_time: 5
        arduino_outputs: {wind: 200}
`

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load("../../config/config.example.yaml")
	require.NoError(t, err)

	assert.Equal(t, "videoplayer", cfg.Process.Leader)
	assert.Equal(t, 10*time.Millisecond, cfg.Process.Tick)
	require.Len(t, cfg.Scenes, 2)
	assert.Equal(t, "Departure", cfg.Scenes[0].Name)
	assert.Equal(t, 42*time.Second, cfg.Scenes[0].Length())
	assert.Equal(t, uint16(0x20), cfg.I2C.Output["fan"].Address)
	assert.Equal(t, "storm", cfg.Scenes[0].TimedOutputs[2].WLED[1])
	require.NotNil(t, cfg.Idle.Novastar)
	assert.Equal(t, 0, *cfg.Idle.Novastar)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalShow))
	require.NoError(t, err)

	assert.Equal(t, "videoplayer", cfg.Process.Leader)
	assert.Equal(t, 500*time.Millisecond, cfg.Process.SinkTimeout)
	assert.Equal(t, 64, cfg.Process.QueueSize)
	assert.Equal(t, PrevRestart, cfg.Process.PrevAtStart)
	assert.Equal(t, 20, cfg.WLED.Settings.Transition)
	assert.Equal(t, 5*time.Second, cfg.Scenes[0].TimedOutputs[1].Start())
}

func TestParseRejectsUnsortedTimeline(t *testing.T) {
	doc := `
scenes:
  - name: broken
    duration: 10
    timed_outputs:
      - start_time: 5
      - start_time: 2
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "before the previous cue")
}

func TestParseAcceptsEqualStartTimes(t *testing.T) {
	doc := `
scenes:
  - name: tie
    duration: 10
    timed_outputs:
      - start_time: 2
      - start_time: 2
`
	_, err := Parse([]byte(doc))
	assert.NoError(t, err)
}

func TestParseCollectsAllViolations(t *testing.T) {
	doc := `
process:
  prev_at_start: wrap
i2c:
  input:
    reboot: {address: 0x20, pin: 1}
  output:
    fan: {address: 0x20, pin: 16}
scenes:
  - name: ""
    duration: 0
    timed_outputs:
      - start_time: -1
        arduino_outputs: {wind: 300}
        wled_outputs: {40: missing}
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{
		"prev_at_start",
		"i2c.input.reboot",
		"i2c.output.fan.pin",
		"scenes[0].name",
		"scenes[0].duration",
		"start_time must not be negative",
		"wind must be between 0 and 255",
		"strip 40",
		`unknown macro "missing"`,
	} {
		assert.Contains(t, msg, want)
	}
}

func TestParseRejectsMacroWithUnknownColor(t *testing.T) {
	doc := `
wled:
  macros:
    calm: {brightness: 10, strip_on: true, color: nope}
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown color "nope"`)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("scenes: [\n"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidConfig))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestOutputsMergeLastWriteWins(t *testing.T) {
	one, two := 1, 2
	base := Outputs{
		I2C:      map[string]bool{"fan": true, "smoke": false},
		WLED:     map[int]string{0: "calm"},
		Novastar: &one,
	}
	next := Outputs{
		I2C:      map[string]bool{"smoke": true},
		Arduino:  map[string]int{"wind": 90},
		Novastar: &two,
	}

	merged := base.Merge(next)

	assert.Equal(t, map[string]bool{"fan": true, "smoke": true}, merged.I2C)
	assert.Equal(t, map[string]int{"wind": 90}, merged.Arduino)
	assert.Equal(t, map[int]string{0: "calm"}, merged.WLED)
	require.NotNil(t, merged.Novastar)
	assert.Equal(t, 2, *merged.Novastar)

	// inputs are untouched
	assert.False(t, base.I2C["smoke"])
	assert.Equal(t, 1, *base.Novastar)
}

func TestOutputsIsEmpty(t *testing.T) {
	assert.True(t, Outputs{}.IsEmpty())
	assert.False(t, Outputs{Arduino: map[string]int{"x": 0}}.IsEmpty())
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(good, []byte(minimalShow), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte("process: {tick: -1s}"), 0o600))

	ok, msg := Check(good)
	assert.True(t, ok, msg)

	ok, msg = Check(bad)
	assert.False(t, ok)
	assert.Contains(t, msg, "process.tick")
}
