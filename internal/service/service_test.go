package service

import (
	"errors"
	"flag"
	"io"
	"log/slog"
	"testing"

	"github.com/cuongbtq/platecompiler/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("PLATES_DB_PASSWORD", "from-env")

	tests := []struct {
		name     string
		env      string
		args     []string
		validate func(*config.Config) error
		wantErr  string
	}{
		{
			name:     "path from flag",
			args:     []string{"-config", "../config/testdata/valid_config.yaml"},
			validate: (*config.Config).ValidateAPIConfig,
		},
		{
			name:     "path from env",
			env:      "../config/testdata/valid_config.yaml",
			validate: (*config.Config).ValidateAPIConfig,
		},
		{
			name:     "missing file",
			validate: (*config.Config).ValidateAPIConfig,
			wantErr:  "failed to load config",
		},
		{
			name:     "validation fails",
			args:     []string{"-config", "../config/testdata/invalid_port.yaml"},
			validate: (*config.Config).ValidateAPIConfig,
			wantErr:  "invalid config: invalid server port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_SERVICE_CONFIG_PATH", tt.env)
			fs := flag.NewFlagSet("test", flag.ContinueOnError)

			cfg, err := LoadConfig(fs, tt.args, "TEST_SERVICE_CONFIG_PATH", "testdata/nonexistent.yaml", tt.validate)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "from-env", cfg.Database.Password)
		})
	}
}

func TestClosers(t *testing.T) {
	c := NewClosers(slog.New(slog.NewTextHandler(io.Discard, nil)))

	var order []string
	errBroker := errors.New("channel already closed")
	c.Add("database", func() error { order = append(order, "database"); return nil })
	c.Add("rabbitmq", func() error { order = append(order, "rabbitmq"); return errBroker })
	c.Add("log file", func() error { order = append(order, "log file"); return nil })

	err := c.Close()
	assert.ErrorIs(t, err, errBroker)
	assert.ErrorContains(t, err, "rabbitmq")
	assert.Equal(t, []string{"log file", "rabbitmq", "database"}, order)

	assert.NoError(t, c.Close())
	assert.Len(t, order, 3)
}
