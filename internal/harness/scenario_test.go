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
description: "one journal"
temp_ids: [J1]
steps:
  - do: create_journal
    ref: j
    title: Notes
assertions:
  - type: pending
    count: 0
`

func TestParseScenario_Minimal(t *testing.T) {
	sc, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", sc.Name)
	assert.Equal(t, []string{"J1"}, sc.TempIDs)
	require.Len(t, sc.Steps, 1)
	assert.Equal(t, DoCreateJournal, sc.Steps[0].Do)
	require.Len(t, sc.Assertions, 1)
	require.NotNil(t, sc.Assertions[0].Count)
	assert.Equal(t, 0, *sc.Assertions[0].Count)
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: `
description: x
steps: [{do: sync}]
assertions: [{type: pending, count: 0}]
`,
			want: "name is required",
		},
		{
			name: "no steps",
			yaml: `
name: x
description: x
assertions: [{type: pending, count: 0}]
`,
			want: "steps list is required",
		},
		{
			name: "unknown action",
			yaml: `
name: x
description: x
steps: [{do: teleport}]
assertions: [{type: pending, count: 0}]
`,
			want: `unknown action "teleport"`,
		},
		{
			name: "update before create",
			yaml: `
name: x
description: x
steps: [{do: update_journal, ref: j, title: T}]
assertions: [{type: pending, count: 0}]
`,
			want: `unknown ref "j"`,
		},
		{
			name: "entry of unknown journal",
			yaml: `
name: x
description: x
steps: [{do: create_entry, ref: e, journal: j, description: d}]
assertions: [{type: pending, count: 0}]
`,
			want: `unknown journal ref "j"`,
		},
		{
			name: "fail without error status",
			yaml: `
name: x
description: x
steps: [{do: fail, path: /journals, status: 200}]
assertions: [{type: pending, count: 0}]
`,
			want: "fail needs an error status",
		},
		{
			name: "unknown error class",
			yaml: `
name: x
description: x
steps: [{do: sync, error: boom}]
assertions: [{type: pending, count: 0}]
`,
			want: `unknown error class "boom"`,
		},
		{
			name: "list assertion without values",
			yaml: `
name: x
description: x
steps: [{do: sync}]
assertions: [{type: requests}]
`,
			want: "values or count is required",
		},
		{
			name: "state without value",
			yaml: `
name: x
description: x
steps: [{do: sync}]
assertions: [{type: state}]
`,
			want: "value is required for state",
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

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_AllTestdataValid(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		sc, err := LoadScenario(path)
		require.NoError(t, err, path)

		golden := filepath.Join("testdata", "golden", sc.Name+".golden")
		_, err = os.Stat(golden)
		assert.NoError(t, err, "scenario %s has no golden file", sc.Name)
	}
}
