package odometry

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"go.viam.com/stereovo/vision/keypoints"
)

// StereoFeatures are the detected features of one stereo image pair.
type StereoFeatures struct {
	Left  keypoints.FeatureSet `json:"left"`
	Right keypoints.FeatureSet `json:"right"`
}

// FeatureRecording is a FeatureSource replaying features stored on disk.
type FeatureRecording struct {
	Frames []StereoFeatures `json:"frames"`
	next   int
}

// LoadFeatureRecording reads a JSON feature recording and checks every frame.
func LoadFeatureRecording(path string) (*FeatureRecording, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read feature recording %q", path)
	}
	var rec FeatureRecording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(err, "cannot parse feature recording %q", path)
	}
	for i, f := range rec.Frames {
		if err := f.Left.Validate(); err != nil {
			return nil, errors.Wrapf(err, "frame %d left features", i)
		}
		if err := f.Right.Validate(); err != nil {
			return nil, errors.Wrapf(err, "frame %d right features", i)
		}
	}
	return &rec, nil
}

// Save writes the recording as JSON.
func (r *FeatureRecording) Save(path string) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o600), "cannot write feature recording %q", path)
}

// NextFeatures returns the next recorded frame, or io.EOF once all frames were replayed.
func (r *FeatureRecording) NextFeatures(ctx context.Context) (keypoints.FeatureSet, keypoints.FeatureSet, error) {
	if err := ctx.Err(); err != nil {
		return keypoints.FeatureSet{}, keypoints.FeatureSet{}, err
	}
	if r.next >= len(r.Frames) {
		return keypoints.FeatureSet{}, keypoints.FeatureSet{}, io.EOF
	}
	f := r.Frames[r.next]
	r.next++
	return f.Left, f.Right, nil
}

// Rewind restarts the replay from the first frame.
func (r *FeatureRecording) Rewind() {
	r.next = 0
}
