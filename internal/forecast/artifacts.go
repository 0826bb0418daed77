package forecast

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"sales-pulse/internal/logger"
)

// Artifact files written to the data dir. The model is a gob blob; the
// correction files are JSON so they stay inspectable and hand-editable.
const (
	modelFile  = "revenue_model.gob"
	dowFile    = "dow_corrections.json"
	clipFile   = "clip_ratio.json"
	paramsFile = "tuned_params.json"
)

// artifacts is everything needed to serve predictions after a restart.
type artifacts struct {
	Model     *boostedModel
	ClipRatio float64
	DOW       [7]float64
}

type clipPayload struct {
	ClipRatio float64 `json:"clip_ratio"`
}

// saveArtifacts persists a finished training run. Every file goes through a
// temp name in the same directory plus a rename, so a crash mid-write never
// leaves a torn artifact.
func saveArtifacts(dir string, art *artifacts) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(art.Model); err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, modelFile), buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", modelFile, err)
	}

	dowJSON, err := json.Marshal(art.DOW)
	if err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(dir, dowFile), dowJSON); err != nil {
		return fmt.Errorf("write %s: %w", dowFile, err)
	}

	clipJSON, err := json.Marshal(clipPayload{ClipRatio: art.ClipRatio})
	if err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(dir, clipFile), clipJSON); err != nil {
		return fmt.Errorf("write %s: %w", clipFile, err)
	}
	return nil
}

// loadArtifacts restores a previous run. A missing model file returns
// (nil, nil): the forecaster starts not ready and waits for training.
// Missing or damaged correction files fall back to neutral values.
func loadArtifacts(dir string) (*artifacts, error) {
	raw, err := os.ReadFile(filepath.Join(dir, modelFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var model boostedModel
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&model); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if len(model.FeatureNames) != featureCount {
		return nil, fmt.Errorf("stored model has %d features, want %d", len(model.FeatureNames), featureCount)
	}

	art := &artifacts{Model: &model, ClipRatio: 1}
	for d := range art.DOW {
		art.DOW[d] = 1
	}

	if raw, err := os.ReadFile(filepath.Join(dir, clipFile)); err == nil {
		var p clipPayload
		if json.Unmarshal(raw, &p) == nil && p.ClipRatio >= 1 {
			art.ClipRatio = p.ClipRatio
		}
	}
	if raw, err := os.ReadFile(filepath.Join(dir, dowFile)); err == nil {
		var dow [7]float64
		if json.Unmarshal(raw, &dow) == nil {
			for d, v := range dow {
				if v > 0 {
					art.DOW[d] = clampRange(v, 0.70, 1.30)
				}
			}
		}
	}
	return art, nil
}

// loadParams returns the boosting defaults overlaid with tuned_params.json
// when the file exists. Out-of-range values fall back field by field.
func loadParams(dir string) trainParams {
	p := defaultParams()
	raw, err := os.ReadFile(filepath.Join(dir, paramsFile))
	if err != nil {
		return p
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		logger.Warn("FORECAST", fmt.Sprintf("bad %s: %v", paramsFile, err))
		return defaultParams()
	}

	d := defaultParams()
	if p.LearningRate <= 0 || p.LearningRate > 1 {
		p.LearningRate = d.LearningRate
	}
	if p.MaxDepth < 1 || p.MaxDepth > 8 {
		p.MaxDepth = d.MaxDepth
	}
	if p.MinLeaf < 1 {
		p.MinLeaf = d.MinLeaf
	}
	if p.Rounds < 1 {
		p.Rounds = d.Rounds
	}
	if p.EarlyStop < 1 {
		p.EarlyStop = d.EarlyStop
	}
	if p.Subsample <= 0 || p.Subsample > 1 {
		p.Subsample = d.Subsample
	}
	return p
}

// writeAtomic writes through a temp file in the target directory and renames
// it over the destination.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
