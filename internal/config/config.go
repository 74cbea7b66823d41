// Package config holds process settings and institution scoring policies.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pavelanni/acegrader/internal/blob"
	"github.com/pavelanni/acegrader/internal/model"
)

// LLMSettings configures the OpenAI-compatible evaluator and transcriber.
type LLMSettings struct {
	BaseURL            string
	APIKey             string
	Model              string
	Temperature        float32
	MaxTokens          int
	TranscriptionModel string
	PromptVariant      string
	Timeout            time.Duration
}

// Settings is built once at startup and passed to every component.
type Settings struct {
	ACEWeights          map[model.Dimension]float64
	PassingThreshold    float64
	ExcellenceThreshold float64
	ArtifactWeights     map[model.ArtifactType]float64

	Workers    int
	MaxRetries int

	Storage         blob.Options
	IngestionBucket string
	ResultsBucket   string
	ConfigBucket    string
	ConfigCacheTTL  time.Duration

	LLM    LLMSettings
	Queues map[model.ArtifactType]string

	ReportLanguage string
	DBPath         string
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		ACEWeights: map[model.Dimension]float64{
			model.DimensionAnalysis:      0.4,
			model.DimensionCommunication: 0.3,
			model.DimensionEvaluation:    0.3,
		},
		PassingThreshold:    70,
		ExcellenceThreshold: 90,
		ArtifactWeights: map[model.ArtifactType]float64{
			model.ArtifactMCQ:   0.4,
			model.ArtifactText:  0.35,
			model.ArtifactAudio: 0.25,
		},
		Workers:         4,
		MaxRetries:      3,
		Storage:         blob.Options{Backend: "local", Root: "data"},
		IngestionBucket: "ingestion",
		ResultsBucket:   "results",
		ConfigBucket:    "configs",
		ConfigCacheTTL:  5 * time.Minute,
		LLM: LLMSettings{
			BaseURL:            "https://api.openai.com/v1",
			Model:              "gpt-4o-mini",
			Temperature:        0.3,
			MaxTokens:          1000,
			TranscriptionModel: "whisper-1",
			PromptVariant:      "standard",
			Timeout:            60 * time.Second,
		},
		Queues:         map[model.ArtifactType]string{},
		ReportLanguage: "en",
		DBPath:         "acegrader.db",
	}
}

// FromViper overlays any keys set in v onto the defaults. Keys match the
// command-line flag names.
func FromViper(v *viper.Viper) Settings {
	s := Default()

	setFloat := func(key string, dst *float64) {
		if v.IsSet(key) {
			*dst = v.GetFloat64(key)
		}
	}
	setString := func(key string, dst *string) {
		if v.IsSet(key) && v.GetString(key) != "" {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) && v.GetInt(key) > 0 {
			*dst = v.GetInt(key)
		}
	}

	for _, d := range model.Dimensions {
		w := s.ACEWeights[d]
		setFloat("weight-"+string(d), &w)
		s.ACEWeights[d] = w
	}
	for _, t := range model.ArtifactTypes {
		w := s.ArtifactWeights[t]
		setFloat("artifact-weight-"+string(t), &w)
		s.ArtifactWeights[t] = w

		var q string
		setString("queue-"+string(t), &q)
		if q != "" {
			s.Queues[t] = q
		}
	}
	setFloat("passing-threshold", &s.PassingThreshold)
	setFloat("excellence-threshold", &s.ExcellenceThreshold)

	setInt("workers", &s.Workers)
	setInt("max-retries", &s.MaxRetries)

	setString("storage", &s.Storage.Backend)
	setString("storage-root", &s.Storage.Root)
	setString("s3-region", &s.Storage.Region)
	setString("storage-endpoint", &s.Storage.Endpoint)
	setString("storage-access-key", &s.Storage.AccessKey)
	setString("storage-secret-key", &s.Storage.SecretKey)
	if v.IsSet("storage-ssl") {
		s.Storage.UseSSL = v.GetBool("storage-ssl")
	}
	setString("ingestion-bucket", &s.IngestionBucket)
	setString("results-bucket", &s.ResultsBucket)
	setString("config-bucket", &s.ConfigBucket)
	if v.IsSet("config-ttl") && v.GetDuration("config-ttl") > 0 {
		s.ConfigCacheTTL = v.GetDuration("config-ttl")
	}

	setString("llm-url", &s.LLM.BaseURL)
	setString("llm-key", &s.LLM.APIKey)
	setString("llm-model", &s.LLM.Model)
	if v.IsSet("llm-temperature") {
		s.LLM.Temperature = float32(v.GetFloat64("llm-temperature"))
	}
	setInt("llm-max-tokens", &s.LLM.MaxTokens)
	setString("transcription-model", &s.LLM.TranscriptionModel)
	setString("prompt-variant", &s.LLM.PromptVariant)
	s.LLM.PromptVariant = strings.ToLower(strings.TrimSpace(s.LLM.PromptVariant))
	if v.IsSet("llm-timeout") && v.GetDuration("llm-timeout") > 0 {
		s.LLM.Timeout = v.GetDuration("llm-timeout")
	}

	setString("lang", &s.ReportLanguage)
	setString("db", &s.DBPath)
	return s
}

// DefaultRoutingConfig is the built-in routing for an artifact type, used
// when neither the institution nor the default institution define one.
func DefaultRoutingConfig(t model.ArtifactType) model.RoutingConfig {
	cfg := model.RoutingConfig{
		ArtifactType: t,
		ACEWeightMapping: map[model.Dimension]float64{
			model.DimensionAnalysis:      0.4,
			model.DimensionCommunication: 0.3,
			model.DimensionEvaluation:    0.3,
		},
		EvaluationCriteria: map[string]any{
			"criteria": []any{"accuracy", "comprehension", "communication"},
		},
		CustomRules: map[string]any{},
	}
	switch t {
	case model.ArtifactMCQ:
		cfg.ProcessorConfig = map[string]any{
			"processor_type":    "deterministic",
			"evaluation_method": "exact_match",
		}
	case model.ArtifactText:
		cfg.ProcessorConfig = map[string]any{
			"processor_type":      "ai",
			"model":               "gpt-3.5-turbo",
			"evaluation_criteria": []any{"clarity", "reasoning", "depth"},
		}
	case model.ArtifactAudio:
		cfg.ProcessorConfig = map[string]any{
			"processor_type":        "ai",
			"speech_to_text":        "whisper",
			"evaluation_method":     "text_analysis",
			"communication_metrics": []any{"fluency", "pace", "confidence"},
		}
	default:
		cfg.ProcessorConfig = map[string]any{}
	}
	return cfg
}

// DefaultInstitutionID identifies the global fallback institution.
const DefaultInstitutionID = "default"

// DefaultInstitution builds the in-memory fallback institution from s.
func DefaultInstitution(s Settings) model.InstitutionConfig {
	weights := make(map[model.Dimension]float64, len(s.ACEWeights))
	for k, v := range s.ACEWeights {
		weights[k] = v
	}
	routing := make(map[model.ArtifactType]model.RoutingConfig, len(model.ArtifactTypes))
	for _, t := range model.ArtifactTypes {
		routing[t] = DefaultRoutingConfig(t)
	}
	return model.InstitutionConfig{
		InstitutionID:       DefaultInstitutionID,
		Name:                "Default Institution",
		ACEWeights:          weights,
		PassingThreshold:    s.PassingThreshold,
		ExcellenceThreshold: s.ExcellenceThreshold,
		RoutingConfigs:      routing,
	}
}
