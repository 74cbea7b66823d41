package router

import (
	"fmt"
	"math"
	"slices"

	"github.com/pavelanni/acegrader/internal/model"
)

var (
	mcqProcessors    = []string{"deterministic", "ai"}
	mcqMethods       = []string{"exact_match", "partial_credit", "ai_scoring"}
	textProcessors   = []string{"ai", "rule_based"}
	audioProcessors  = []string{"ai"}
	speechToTextKind = []string{"whisper", "aws_transcribe", "google_speech"}
)

// Validate returns human-readable problems with cfg. An empty result means
// the config is usable.
func Validate(cfg model.RoutingConfig) []string {
	var issues []string
	if cfg.ArtifactType == "" {
		issues = append(issues, "Missing artifact_type in routing config")
	}
	if len(cfg.ProcessorConfig) == 0 {
		issues = append(issues, "Missing processor_config in routing config")
	}
	if len(cfg.ACEWeightMapping) == 0 {
		issues = append(issues, "Missing ace_weight_mapping in routing config")
	} else {
		var total float64
		for _, w := range cfg.ACEWeightMapping {
			total += w
		}
		if math.Abs(total-1) > 0.01 {
			issues = append(issues, fmt.Sprintf("ACE weights must sum to 1.0, got %g", total))
		}
	}

	proc := cfg.ProcessorString("processor_type")
	switch cfg.ArtifactType {
	case model.ArtifactMCQ:
		if !slices.Contains(mcqProcessors, proc) {
			issues = append(issues, fmt.Sprintf("Invalid MCQ processor_type: %q", proc))
		}
		if m := cfg.ProcessorString("evaluation_method"); !slices.Contains(mcqMethods, m) {
			issues = append(issues, fmt.Sprintf("Invalid MCQ evaluation_method: %q", m))
		}
	case model.ArtifactText:
		if !slices.Contains(textProcessors, proc) {
			issues = append(issues, fmt.Sprintf("Invalid text processor_type: %q", proc))
		}
		if proc == "ai" && cfg.ProcessorString("model") == "" {
			issues = append(issues, "AI text processor requires model specification")
		}
	case model.ArtifactAudio:
		if !slices.Contains(audioProcessors, proc) {
			issues = append(issues, fmt.Sprintf("Invalid audio processor_type: %q", proc))
		}
		if s := cfg.ProcessorString("speech_to_text"); !slices.Contains(speechToTextKind, s) {
			issues = append(issues, fmt.Sprintf("Invalid speech_to_text method: %q", s))
		}
	case "":
	default:
		issues = append(issues, fmt.Sprintf("Unknown artifact_type: %q", cfg.ArtifactType))
	}
	return issues
}

// ValidateInstitution validates every routing config of inst, prefixing each
// issue with its artifact type.
func ValidateInstitution(inst model.InstitutionConfig) []string {
	var issues []string
	for _, t := range model.ArtifactTypes {
		cfg, ok := inst.RoutingConfigs[t]
		if !ok {
			continue
		}
		if cfg.ArtifactType == "" {
			cfg.ArtifactType = t
		}
		for _, is := range Validate(cfg) {
			issues = append(issues, fmt.Sprintf("%s: %s", t, is))
		}
	}
	if inst.PassingThreshold > inst.ExcellenceThreshold && inst.ExcellenceThreshold > 0 {
		issues = append(issues, fmt.Sprintf("passing_threshold %g exceeds excellence_threshold %g", inst.PassingThreshold, inst.ExcellenceThreshold))
	}
	return issues
}
