package models

import "fmt"

// DecodeConfig holds the CTC/attention fusion hyperparameters shared by all variants.
type DecodeConfig struct {
	ChunkSize       int     `yaml:"chunk_size" json:"chunk_size"`
	CTCWeight       float64 `yaml:"ctc_weight" json:"ctc_weight"`
	ReverseWeight   float64 `yaml:"reverse_weight" json:"reverse_weight"`
	RescoringWeight float64 `yaml:"rescoring_weight" json:"rescoring_weight"`
}

// Validate rejects negative weights. ChunkSize is -1 for full attention or positive.
func (c DecodeConfig) Validate() error {
	if c.ChunkSize == 0 || c.ChunkSize < -1 {
		return fmt.Errorf("chunk_size must be -1 or positive, got %d", c.ChunkSize)
	}
	weights := []struct {
		name string
		v    float64
	}{
		{"ctc_weight", c.CTCWeight},
		{"reverse_weight", c.ReverseWeight},
		{"rescoring_weight", c.RescoringWeight},
	}
	for _, w := range weights {
		if w.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %g", w.name, w.v)
		}
	}
	return nil
}
