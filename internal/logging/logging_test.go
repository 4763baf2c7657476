package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid", config: NewDefaultConfig()},
		{name: "console format", config: Config{Level: "debug", Format: "console"}},
		{name: "bad format", config: Config{Level: "info", Format: "xml"}, wantErr: true},
		{name: "bad level", config: Config{Level: "chatty", Format: "json"}, wantErr: true},
		{name: "empty field key", config: Config{Level: "info", Format: "json", Fields: map[string]string{"": "x"}}, wantErr: true},
		{name: "empty field value", config: Config{Level: "info", Format: "json", Fields: map[string]string{"x": ""}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNew(t *testing.T) {
	logger, err := New(NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, logger)

	child := ForEpisode(logger, "hospital_ops", "ep-1")
	require.NotNil(t, child)

	_, err = New(Config{Level: "nope", Format: "json"})
	require.Error(t, err)
}
