package openai

import (
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type Config struct {
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Organization       string        `envconfig:"ORG_ID" split_words:"true"`
	Project            string        `envconfig:"PROJECT_ID" split_words:"true"`
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.openai.com/v1"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" split_words:"true" default:"20s"`
	MaxRetries         int           `envconfig:"MAX_RETRIES" split_words:"true" default:"2"`
	DefaultAssistantID string        `envconfig:"ASSISTANT_ID" split_words:"true"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("openai api key is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", c.MaxRetries)
	}
	return nil
}

// NewClient builds the process-wide client. The returned value is safe for
// concurrent use and must be shared rather than rebuilt per request.
func NewClient(cfg Config) *openaisdk.Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(cfg.MaxRetries),
	}

	if trimmed := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	if org := strings.TrimSpace(cfg.Organization); org != "" {
		opts = append(opts, option.WithOrganization(org))
	}
	if project := strings.TrimSpace(cfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}

	client := openaisdk.NewClient(opts...)
	return &client
}

func MustNewClient(cfg Config) *openaisdk.Client {
	client := NewClient(cfg)
	if client == nil {
		panic("failed to initialize openai client: api key is empty")
	}
	return client
}
