package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantName  string
		wantModel string
		wantDim   int
		wantErr   error
	}{
		{
			name:      "no key falls back to local",
			cfg:       Config{Dimensions: 64},
			wantName:  ProviderLocal,
			wantModel: DefaultLocalModel,
			wantDim:   64,
		},
		{
			name:      "openai defaults",
			cfg:       Config{Provider: "openai", APIKey: "k"},
			wantName:  ProviderOpenAI,
			wantModel: DefaultOpenAIModel,
			wantDim:   OpenAIDimension,
		},
		{
			name:      "jina detected from base url",
			cfg:       Config{APIKey: "k", BaseURL: "https://api.jina.ai/v1"},
			wantName:  ProviderJina,
			wantModel: DefaultJinaModel,
			wantDim:   JinaDimension,
		},
		{
			name:      "custom gateway",
			cfg:       Config{Provider: "gateway", APIKey: "k", BaseURL: "http://localhost:9000/v1", Model: "bge", Dimensions: 1024},
			wantName:  "gateway",
			wantModel: "bge",
			wantDim:   1024,
		},
		{
			name:    "unknown provider without base url",
			cfg:     Config{Provider: "mystery", APIKey: "k"},
			wantErr: ErrUnknownProvider,
		},
		{
			name:    "openai without key",
			cfg:     Config{Provider: "openai"},
			wantErr: ErrNoProviderEnabled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb, err := New(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer emb.Close()
			assert.Equal(t, tt.wantName, emb.Provider())
			assert.Equal(t, tt.wantModel, emb.Model())
			assert.Equal(t, tt.wantDim, emb.Dimension())
		})
	}
}
