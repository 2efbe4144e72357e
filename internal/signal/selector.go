package signal

import (
	"fmt"

	"github.com/dj-oyu/posewatch/pkg/types"
)

// PoseSelector picks the single subject that feeds the aggregator.
// It reports false when no pose should be ingested this tick.
type PoseSelector func(poses []types.Pose) (types.Pose, bool)

// SelectFirst tracks whichever pose the model lists first. This is the
// reference single-subject policy.
func SelectFirst(poses []types.Pose) (types.Pose, bool) {
	if len(poses) == 0 {
		return types.Pose{}, false
	}
	return poses[0], true
}

// SelectHighestScore tracks the pose with the best overall score; ties keep
// the earlier pose.
func SelectHighestScore(poses []types.Pose) (types.Pose, bool) {
	if len(poses) == 0 {
		return types.Pose{}, false
	}
	best := 0
	for i := 1; i < len(poses); i++ {
		if poses[i].Score > poses[best].Score {
			best = i
		}
	}
	return poses[best], true
}

// ParseSelector maps a config name to a PoseSelector.
func ParseSelector(name string) (PoseSelector, error) {
	switch name {
	case "", "first":
		return SelectFirst, nil
	case "highest-score", "highest_score":
		return SelectHighestScore, nil
	default:
		return nil, fmt.Errorf("unknown pose selector %q", name)
	}
}
