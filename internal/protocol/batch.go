package protocol

import (
	"fmt"
	"strings"
)

// Items expands the parallel lists of a batch spawn into individual spawn
// requests, in request order. TypeList and NameList must have equal length;
// the remaining lists may be shorter, missing entries default to zero values
// (identity orientation, world frame, no tag).
func (r *SpawnEntitiesRequest) Items() ([]SpawnEntityRequest, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: batch request is required", ErrInvalidRequest)
	}
	n := len(r.NameList)
	if len(r.TypeList) != n {
		return nil, fmt.Errorf("%w: type_list has %d entries, name_list has %d", ErrInvalidRequest, len(r.TypeList), n)
	}
	for name, l := range map[string]int{
		"position_list":        len(r.PositionList),
		"orientation_list":     len(r.OrientationList),
		"twist_linear_list":    len(r.TwistLinearList),
		"twist_angular_list":   len(r.TwistAngularList),
		"reference_frame_list": len(r.ReferenceFrameList),
		"tags_list":            len(r.TagsList),
	} {
		if l > n {
			return nil, fmt.Errorf("%w: %s has %d entries for %d entities", ErrInvalidRequest, name, l, n)
		}
	}

	items := make([]SpawnEntityRequest, n)
	for i := 0; i < n; i++ {
		item := SpawnEntityRequest{
			Xml:       r.TypeList[i],
			StateName: r.NameList[i],
			Pose:      Pose{Orientation: IdentityQuaternion},
		}
		if i < len(r.PositionList) {
			item.Pose.Position = r.PositionList[i]
		}
		if i < len(r.OrientationList) {
			item.Pose.Orientation = r.OrientationList[i]
		}
		if i < len(r.TwistLinearList) {
			item.Twist.Linear = r.TwistLinearList[i]
		}
		if i < len(r.TwistAngularList) {
			item.Twist.Angular = r.TwistAngularList[i]
		}
		if i < len(r.ReferenceFrameList) {
			item.StateReferenceFrame = r.ReferenceFrameList[i]
		}
		if i < len(r.TagsList) && r.TagsList[i] != "" {
			item.Tags = []string{r.TagsList[i]}
		}
		items[i] = item
	}
	return items, nil
}

// BatchOutcome accumulates per-item results of a batch spawn.
type BatchOutcome struct {
	attempted []string
	failures  []string
}

// Record notes the outcome of one item.
func (b *BatchOutcome) Record(name string, err error) {
	b.attempted = append(b.attempted, name)
	if err != nil {
		b.failures = append(b.failures, fmt.Sprintf("%s (%v)", name, err))
	}
}

// Success is true only if every recorded item succeeded.
func (b *BatchOutcome) Success() bool { return len(b.failures) == 0 }

// Message lists every attempted name, plus the failing items if any.
func (b *BatchOutcome) Message(verb string) string {
	names := strings.Join(b.attempted, ",")
	if b.Success() {
		return fmt.Sprintf("%s entities: [%s]", verb, names)
	}
	return fmt.Sprintf("failed to spawn some entities: [%s]; failures: %s", names, strings.Join(b.failures, "; "))
}
