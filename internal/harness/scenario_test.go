package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "smallest valid scenario"
steps:
  - at: 10
    page_load: 10
assertions:
  - type: payload_count
    count: 0
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Steps, 1)
	require.NotNil(t, s.Steps[0].At)
	assert.Equal(t, int64(10), *s.Steps[0].At)
	require.NotNil(t, s.Steps[0].PageLoad)
	assert.Equal(t, 10.0, *s.Steps[0].PageLoad)
	assert.Nil(t, s.Entitled)
}

func TestParseScenario_Fixture(t *testing.T) {
	s := loadFixture(t, "route_change")

	assert.Equal(t, "https://app.example/home", s.InitialURL)
	require.NotNil(t, s.Steps[1].UI)
	assert.Equal(t, "click", s.Steps[1].UI.Type)
	assert.Equal(t, "a", s.Steps[1].UI.Target.Tag)
	assert.Equal(t, "Checkout", s.Steps[1].UI.Target.InnerText)

	require.NotNil(t, s.Steps[2].Ajax)
	assert.Equal(t, int64(1100), s.Steps[2].Ajax.StartTime)
	assert.Equal(t, "api.example:443", s.Steps[2].Ajax.Domain)

	last := s.Steps[len(s.Steps)-1]
	assert.Nil(t, last.At)
	require.NotNil(t, last.HarvestFinished)
	assert.Equal(t, 202, last.HarvestFinished.Status)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_FromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: d\nstep: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: "description: d\nsteps: [{dom: true}]\nassertions: [{type: payload_count}]\n",
			want: "name is required",
		},
		{
			name: "name with separator",
			yaml: "name: a/b\ndescription: d\nsteps: [{dom: true}]\nassertions: [{type: payload_count}]\n",
			want: "path separators",
		},
		{
			name: "missing steps",
			yaml: "name: x\ndescription: d\nassertions: [{type: payload_count}]\n",
			want: "steps list is required",
		},
		{
			name: "missing assertions",
			yaml: "name: x\ndescription: d\nsteps: [{dom: true}]\n",
			want: "assertions list is required",
		},
		{
			name: "two actions in one step",
			yaml: "name: x\ndescription: d\nsteps: [{dom: true, url: /a}]\nassertions: [{type: payload_count}]\n",
			want: "exactly one action",
		},
		{
			name: "empty step",
			yaml: "name: x\ndescription: d\nsteps: [{at: 5}]\nassertions: [{type: payload_count}]\n",
			want: "exactly one action",
		},
		{
			name: "time goes backwards",
			yaml: "name: x\ndescription: d\nsteps: [{at: 10, dom: true}, {at: 5, dom: true}]\nassertions: [{type: payload_count}]\n",
			want: "before previous step",
		},
		{
			name: "ui without type",
			yaml: "name: x\ndescription: d\nsteps: [{ui: {target: {tag: a}}}]\nassertions: [{type: payload_count}]\n",
			want: "ui.type is required",
		},
		{
			name: "unknown api call",
			yaml: "name: x\ndescription: d\nsteps: [{api: {call: fly}}]\nassertions: [{type: payload_count}]\n",
			want: "unknown api call",
		},
		{
			name: "set_attribute without key",
			yaml: "name: x\ndescription: d\nsteps: [{api: {call: set_attribute, value: 1}}]\nassertions: [{type: payload_count}]\n",
			want: "requires key",
		},
		{
			name: "bootstrap without origin",
			yaml: "name: x\ndescription: d\nbootstrap: {date: now}\nsteps: [{dom: true}]\nassertions: [{type: payload_count}]\n",
			want: "origin_time is required",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: d\nsteps: [{dom: true}]\nassertions: [{type: final_state}]\n",
			want: "unknown assertion type",
		},
		{
			name: "bad status",
			yaml: "name: x\ndescription: d\nsteps: [{dom: true}]\nassertions: [{type: status, id: ixn-1, status: DONE}]\n",
			want: "unknown status",
		},
		{
			name: "trace_order without events",
			yaml: "name: x\ndescription: d\nsteps: [{dom: true}]\nassertions: [{type: trace_order}]\n",
			want: "events list is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
