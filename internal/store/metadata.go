package store

import (
	"database/sql"
	"errors"
	"strconv"

	"github.com/pavelanni/acegrader/internal/config"
	"github.com/pavelanni/acegrader/internal/model"
)

// SetMetadata upserts a key-value pair for a batch.
func (s *Store) SetMetadata(batchID, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO batch_metadata (batch_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(batch_id, key) DO UPDATE SET value = excluded.value`,
		batchID, key, value,
	)
	return err
}

// GetMetadata returns the value for a batch metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(batchID, key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM batch_metadata WHERE batch_id = ? AND key = ?`, batchID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// Metadata returns every metadata pair of a batch.
func (s *Store) Metadata(batchID string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM batch_metadata WHERE batch_id = ? ORDER BY key`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SetRunSettings records the scoring settings a batch was produced with.
func (s *Store) SetRunSettings(batchID string, st config.Settings) error {
	pairs := []struct{ k, v string }{
		{"llm_model", st.LLM.Model},
		{"prompt_variant", st.LLM.PromptVariant},
		{"transcription_model", st.LLM.TranscriptionModel},
		{"report_language", st.ReportLanguage},
		{"passing_threshold", formatFloat(st.PassingThreshold)},
		{"excellence_threshold", formatFloat(st.ExcellenceThreshold)},
	}
	for _, d := range model.Dimensions {
		pairs = append(pairs, struct{ k, v string }{"weight_" + string(d), formatFloat(st.ACEWeights[d])})
	}
	for _, t := range model.ArtifactTypes {
		pairs = append(pairs, struct{ k, v string }{"artifact_weight_" + string(t), formatFloat(st.ArtifactWeights[t])})
	}
	for _, p := range pairs {
		if err := s.SetMetadata(batchID, p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
