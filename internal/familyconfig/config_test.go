package familyconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
family: graduation
fields:
  - name: school_id
    required: true
    aliases: ["School Code"]
  - name: grad_rate
    aliases: ["Graduation Rate"]
entity:
  id_field: school_id
metrics:
  - name: graduation_rate
    field: grad_rate
`

func TestLoad_SampleConfigs(t *testing.T) {
	dir := "../../configs/families"
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Skip("sample configs not found")
	}

	configs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	// ordered by family key
	assert.Equal(t, "attendance", configs[0].Family)
	assert.Equal(t, "graduation", configs[1].Family)

	grad := configs[1]
	assert.Equal(t, []string{"cohort", "graduates", "grad_rate", "dropouts"}, grad.MetricFields())
	assert.Equal(t, []string{"county"}, grad.ContextColumns())
	assert.Equal(t, '|', configs[0].DelimiterRune())

	hash, err := Hash(grad)
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	// same config -> same hash
	hash2, _ := Hash(grad)
	assert.Equal(t, hash, hash2)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "graduation", cfg.Directory)
	assert.Equal(t, DefaultFilePatterns, cfg.FilePatterns)
	assert.Equal(t, ',', cfg.DelimiterRune())
	assert.Equal(t, filepath.Join("in", "graduation"), cfg.InputDir("in"))

	re, err := cfg.YearPattern()
	require.NoError(t, err)
	assert.True(t, re.MatchString("grad_20202021.csv"))
}

func TestParse_UnknownFieldFails(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + "unknown_key: 1\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "no metrics",
			mutate:    func(c *Config) { c.Metrics = nil },
			wantField: "metrics",
		},
		{
			name:      "missing entity id",
			mutate:    func(c *Config) { c.Entity.IDField = "" },
			wantField: "entity.id_field",
		},
		{
			name:      "bad metric suffix",
			mutate:    func(c *Config) { c.Metrics[0].Name = "graduation_pct" },
			wantField: "metrics[0].name",
		},
		{
			name: "duplicate metric",
			mutate: func(c *Config) {
				c.Metrics = append(c.Metrics, c.Metrics[0])
			},
			wantField: "metrics[1].name",
		},
		{
			name: "denominator on count",
			mutate: func(c *Config) {
				c.Metrics[0].Name = "graduation_count"
				c.Metrics[0].Denominator = "school_id"
			},
			wantField: "metrics[0].denominator",
		},
		{
			name:      "undeclared metric field",
			mutate:    func(c *Config) { c.Metrics[0].Field = "nope" },
			wantField: "metrics[0].field",
		},
		{
			name: "context collides with fixed column",
			mutate: func(c *Config) {
				c.Context = []ContextColumn{{Field: "school_id", Column: "value"}}
			},
			wantField: "context[0].column",
		},
		{
			name: "alias claimed twice",
			mutate: func(c *Config) {
				c.Fields[1].Aliases = append(c.Fields[1].Aliases, "school code")
			},
			wantField: "fields[1].aliases",
		},
		{
			name:      "bad filename pattern",
			mutate:    func(c *Config) { c.Year.FilenamePattern = "(" },
			wantField: "year.filename_pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(minimalYAML))
			require.NoError(t, err)

			tt.mutate(cfg)
			err = Validate(cfg)

			var verr ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestWarn(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	codes := map[string]bool{}
	for _, w := range Warn(cfg) {
		codes[w.Code] = true
	}

	assert.True(t, codes["FILENAME_YEAR_ONLY"])
	assert.True(t, codes["DEFAULT_SUPPRESSION"])
	assert.False(t, codes["UNUSED_FIELD"])
}

func TestLoadDir_DuplicateFamily(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(minimalYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(minimalYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	_, err := LoadDir(dir)

	var verr ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "family", verr.Field)
}

func TestLoadDir_Empty(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	assert.Error(t, err)
}
