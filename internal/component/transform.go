package component

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/nodebridge/nodebridge/internal/core/ecs"
	"github.com/nodebridge/nodebridge/internal/host"
)

// Pose is the ECS-side transform of a spatial node.
type Pose struct {
	Translation mgl64.Vec3
	Rotation    mgl64.Quat
	Scale       mgl64.Vec3
}

func PoseFromNative(p host.Pose) Pose {
	return Pose(p)
}

func (p Pose) Native() host.Pose {
	return host.Pose(p)
}

// IdentityPose returns an untransformed pose.
func IdentityPose() Pose { return PoseFromNative(host.IdentityPose()) }

// SyncOrigin records which side produced the last synchronized value.
type SyncOrigin uint8

const (
	OriginNone SyncOrigin = iota
	OriginNative
	OriginECS
)

// SyncMeta is the per-entity change stamp of transform synchronization.
// Seq is the Pose change stamp at the time of the last sync in either
// direction; a Pose stamped later was written by ECS code since. Native is
// the pose the node reported, or will report, right after that sync; a node
// reporting anything else was moved on the host side.
type SyncMeta struct {
	Origin SyncOrigin
	Tick   ecs.Tick
	Seq    uint64
	Native host.Pose
}

// SyncDirection selects which way transforms flow.
type SyncDirection uint8

const (
	SyncNone SyncDirection = iota
	SyncNativeToECS
	SyncECSToNative
	SyncBoth
)

func (d SyncDirection) String() string {
	switch d {
	case SyncNone:
		return "none"
	case SyncNativeToECS:
		return "native_to_ecs"
	case SyncECSToNative:
		return "ecs_to_native"
	case SyncBoth:
		return "both"
	default:
		return fmt.Sprintf("SyncDirection(%d)", uint8(d))
	}
}

// Reads reports whether native values flow into the ECS.
func (d SyncDirection) Reads() bool { return d == SyncNativeToECS || d == SyncBoth }

// Writes reports whether ECS values flow into the host.
func (d SyncDirection) Writes() bool { return d == SyncECSToNative || d == SyncBoth }

func (d *SyncDirection) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none", "":
		*d = SyncNone
	case "native_to_ecs":
		*d = SyncNativeToECS
	case "ecs_to_native":
		*d = SyncECSToNative
	case "both":
		*d = SyncBoth
	default:
		return fmt.Errorf("unknown sync direction %q", text)
	}
	return nil
}

func (d SyncDirection) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// SyncOverride replaces the configured direction for one entity.
type SyncOverride struct {
	Direction SyncDirection
}
