package model

import (
	"encoding/json"
	"fmt"
)

// RoutingConfig controls how one artifact type is scored for an institution.
type RoutingConfig struct {
	ArtifactType       ArtifactType          `json:"artifact_type"`
	ProcessorConfig    map[string]any        `json:"processor_config"`
	ACEWeightMapping   map[Dimension]float64 `json:"ace_weight_mapping"`
	EvaluationCriteria map[string]any        `json:"evaluation_criteria"`
	CustomRules        map[string]any        `json:"custom_rules"`
}

// ProcessorString returns processor_config[key] as a string, or "".
func (c RoutingConfig) ProcessorString(key string) string {
	if v, ok := c.ProcessorConfig[key].(string); ok {
		return v
	}
	return ""
}

// ToMap converts the config into JSON primitives.
func (c RoutingConfig) ToMap() (map[string]any, error) {
	return toMap(c)
}

// RoutingConfigFromMap rebuilds a RoutingConfig from JSON primitives.
func RoutingConfigFromMap(m map[string]any) (RoutingConfig, error) {
	var c RoutingConfig
	if len(m) == 0 {
		return c, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return c, fmt.Errorf("encode routing config: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode routing config: %w", err)
	}
	return c, nil
}

// InstitutionConfig holds an institution's scoring policy and per-type routing.
type InstitutionConfig struct {
	InstitutionID       string                         `json:"institution_id"`
	Name                string                         `json:"name"`
	ACEWeights          map[Dimension]float64          `json:"ace_weights"`
	PassingThreshold    float64                        `json:"passing_threshold"`
	ExcellenceThreshold float64                        `json:"excellence_threshold"`
	RoutingConfigs      map[ArtifactType]RoutingConfig `json:"routing_configs"`
	Branding            map[string]any                 `json:"branding,omitempty"`
	CustomFields        map[string]any                 `json:"custom_fields,omitempty"`
}

// toMap round-trips v through JSON so the result holds only maps, slices and scalars.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ToPrimitive converts any JSON-encodable value into maps, slices and scalars.
func ToPrimitive(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
