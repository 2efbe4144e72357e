package types

// Keypoint is a single body landmark reported by the pose model.
// Coordinates are in video pixel space.
type Keypoint struct {
	Name  string  `json:"name,omitempty"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Score float64 `json:"score"`
}

// Pose is one detected subject. A keypoint's index is its position in
// Keypoints; a nil entry (JSON null) means the landmark was not detected.
type Pose struct {
	Score     float64     `json:"score"`
	Keypoints []*Keypoint `json:"keypoints"`
}

// At returns the keypoint at index i, or nil when it is absent.
func (p Pose) At(i int) *Keypoint {
	if i < 0 || i >= len(p.Keypoints) {
		return nil
	}
	return p.Keypoints[i]
}

// PoseFrame is the per-frame detection result handed over by the browser.
type PoseFrame struct {
	FrameNumber uint64  `json:"frame_number"`
	Timestamp   float64 `json:"timestamp"` // client clock, ms (informational only)
	Model       string  `json:"model,omitempty"`
	Poses       []Pose  `json:"poses"`
}

// Keypoint indices shared by the COCO-style models (MoveNet, PoseNet, BlazePose lite).
const (
	KeypointNose     = 0
	KeypointLeftEye  = 1
	KeypointRightEye = 2
	KeypointLeftEar  = 3
	KeypointRightEar = 4
)

// KeypointNames maps the tracked head landmarks to their model names.
var KeypointNames = [...]string{
	KeypointNose:     "nose",
	KeypointLeftEye:  "left_eye",
	KeypointRightEye: "right_eye",
	KeypointLeftEar:  "left_ear",
	KeypointRightEar: "right_ear",
}
