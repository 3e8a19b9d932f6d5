package host

import "github.com/go-gl/mathgl/mgl64"

// PoseBuffer carries poses for many nodes across the host boundary in one
// call. Entry i occupies Positions[3i:3i+3], Rotations[4i:4i+4] (x, y, z, w)
// and Scales[3i:3i+3].
type PoseBuffer struct {
	IDs       []NodeID
	Positions []float64
	Rotations []float64
	Scales    []float64
	Valid     []bool
}

// Reset empties the buffer, keeping its capacity.
func (b *PoseBuffer) Reset() {
	b.IDs = b.IDs[:0]
	b.Positions = b.Positions[:0]
	b.Rotations = b.Rotations[:0]
	b.Scales = b.Scales[:0]
	b.Valid = b.Valid[:0]
}

func (b *PoseBuffer) Len() int { return len(b.IDs) }

// Add appends an entry for id. Use it to request poses for ReadPoses.
func (b *PoseBuffer) Add(id NodeID) {
	b.Append(id, IdentityPose())
	b.Valid[len(b.Valid)-1] = false
}

// Append adds an entry with a pose, for WritePoses.
func (b *PoseBuffer) Append(id NodeID, p Pose) {
	b.IDs = append(b.IDs, id)
	b.Positions = append(b.Positions, p.Translation[0], p.Translation[1], p.Translation[2])
	b.Rotations = append(b.Rotations, p.Rotation.V[0], p.Rotation.V[1], p.Rotation.V[2], p.Rotation.W)
	b.Scales = append(b.Scales, p.Scale[0], p.Scale[1], p.Scale[2])
	b.Valid = append(b.Valid, true)
}

// At returns entry i's pose.
func (b *PoseBuffer) At(i int) Pose {
	t, r, s := b.Positions[3*i:3*i+3], b.Rotations[4*i:4*i+4], b.Scales[3*i:3*i+3]
	return Pose{
		Translation: mgl64.Vec3{t[0], t[1], t[2]},
		Rotation:    mgl64.Quat{W: r[3], V: mgl64.Vec3{r[0], r[1], r[2]}},
		Scale:       mgl64.Vec3{s[0], s[1], s[2]},
	}
}

func (b *PoseBuffer) set(i int, p Pose) {
	copy(b.Positions[3*i:3*i+3], p.Translation[:])
	b.Rotations[4*i], b.Rotations[4*i+1], b.Rotations[4*i+2], b.Rotations[4*i+3] =
		p.Rotation.V[0], p.Rotation.V[1], p.Rotation.V[2], p.Rotation.W
	copy(b.Scales[3*i:3*i+3], p.Scale[:])
}

// ReadPoses fills every entry of buf with the current pose of its node in a
// single boundary call. Entries for freed or non-spatial nodes are marked
// invalid.
func (s *Scene) ReadPoses(buf *PoseBuffer) {
	s.cross()
	for i, id := range buf.IDs {
		n, ok := s.nodes[id]
		if !ok || n.freed {
			buf.Valid[i] = false
			continue
		}
		p, ok := n.Pose()
		buf.Valid[i] = ok
		if ok {
			buf.set(i, p)
		}
	}
}

// WritePoses applies every valid entry of buf in a single boundary call and
// returns how many nodes were written. Invalid entries on return mark nodes
// that were freed or are not spatial.
func (s *Scene) WritePoses(buf *PoseBuffer) int {
	s.cross()
	written := 0
	for i, id := range buf.IDs {
		if !buf.Valid[i] {
			continue
		}
		n, ok := s.nodes[id]
		if !ok || n.freed || !n.SetPose(buf.At(i)) {
			buf.Valid[i] = false
			continue
		}
		written++
	}
	return written
}
