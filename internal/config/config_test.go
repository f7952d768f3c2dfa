package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.Datasources = []DatasourceConfig{
		{ID: "sales", Connection: map[string]any{"type": "sqlite", "path": ":memory:"}},
	}
	return cfg
}

func TestValidateAppliesDefaultOptions(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultDatasourceOptions(), cfg.Datasources[0].Options)
}

func TestValidateDefaultsKeepExampleQuestions(t *testing.T) {
	cfg := validConfig()
	cfg.Datasources[0].Options = DatasourceOptions{
		ExampleQuestions: []string{"total revenue by region"},
	}
	require.NoError(t, cfg.Validate())

	opts := cfg.Datasources[0].Options
	// Ceilings were unset, so the defaults apply without dropping the
	// curated questions.
	assert.Equal(t, DefaultDatasourceOptions().RowLimit, opts.RowLimit)
	assert.Equal(t, DefaultDatasourceOptions().MaxBytes, opts.MaxBytes)
	assert.Equal(t, DefaultDatasourceOptions().StatementTimeoutMS, opts.StatementTimeoutMS)
	assert.Equal(t, []string{"total revenue by region"}, opts.ExampleQuestions)
}

func TestValidateKeepsExplicitOptions(t *testing.T) {
	cfg := validConfig()
	cfg.Datasources[0].Options = DatasourceOptions{RowLimit: 50}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Datasources[0].Options.RowLimit)
	assert.Zero(t, cfg.Datasources[0].Options.MaxBytes)
}

func TestValidateRejectsDuplicateDatasource(t *testing.T) {
	cfg := validConfig()
	cfg.Datasources = append(cfg.Datasources, cfg.Datasources[0])
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingEngineType(t *testing.T) {
	cfg := validConfig()
	cfg.Datasources[0].Connection = map[string]any{"path": ":memory:"}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnnamespacedTablePattern(t *testing.T) {
	cfg := validConfig()
	cfg.Policy = map[string]RoleConfig{
		"analyst": {AllowedDatasources: []string{"sales"}, AllowedTables: []string{"orders"}},
	}
	assert.Error(t, cfg.Validate())

	cfg.Policy["analyst"] = RoleConfig{AllowedDatasources: []string{"sales"}, AllowedTables: []string{"sales.*"}}
	assert.NoError(t, cfg.Validate())
}
