package system

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nodebridge/nodebridge/internal/component"
	"github.com/nodebridge/nodebridge/internal/core/ecs"
	coresys "github.com/nodebridge/nodebridge/internal/core/system"
	"github.com/nodebridge/nodebridge/internal/host"
	"github.com/nodebridge/nodebridge/internal/world"
)

// BatchMode selects how poses cross the host boundary.
type BatchMode uint8

const (
	BatchAuto BatchMode = iota
	BatchAlways
	BatchNever
)

func (m BatchMode) String() string {
	switch m {
	case BatchAuto:
		return "auto"
	case BatchAlways:
		return "always"
	case BatchNever:
		return "never"
	default:
		return fmt.Sprintf("BatchMode(%d)", uint8(m))
	}
}

func (m *BatchMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "auto", "":
		*m = BatchAuto
	case "always":
		*m = BatchAlways
	case "never":
		*m = BatchNever
	default:
		return fmt.Errorf("unknown batch mode %q", text)
	}
	return nil
}

func (m BatchMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// TransformConfig is shared by readback and pushdown.
type TransformConfig struct {
	Direction      component.SyncDirection
	Batch          BatchMode
	BatchThreshold int
}

// batchPolicy picks per-entity or batched transfer for one system. In auto
// mode it times both paths and keeps an EWMA of nanoseconds per entity.
type batchPolicy struct {
	mode      BatchMode
	threshold int
	cost      [2]float64
	samples   [2]int
}

const (
	pathSingle = 0
	pathBatch  = 1

	policyAlpha   = 0.2
	policyExplore = 3
)

func (p *batchPolicy) batched(n int) bool {
	switch p.mode {
	case BatchAlways:
		return true
	case BatchNever:
		return false
	}
	if n < p.threshold {
		return false
	}
	if p.samples[pathBatch] < policyExplore {
		return true
	}
	if p.samples[pathSingle] < policyExplore {
		return false
	}
	return p.cost[pathBatch] <= p.cost[pathSingle]
}

func (p *batchPolicy) observe(batched bool, n int, d time.Duration) {
	if p.mode != BatchAuto || n == 0 {
		return
	}
	path := pathSingle
	if batched {
		path = pathBatch
	}
	perEntity := float64(d.Nanoseconds()) / float64(n)
	if p.samples[path] == 0 {
		p.cost[path] = perEntity
	} else {
		p.cost[path] = policyAlpha*perEntity + (1-policyAlpha)*p.cost[path]
	}
	p.samples[path]++
}

// transformSync holds what both directions share.
type transformSync struct {
	state  *world.State
	cfg    TransformConfig
	policy batchPolicy
	buf    host.PoseBuffer
	ents   []ecs.EntityID
	log    *zap.Logger
}

func newTransformSync(state *world.State, cfg TransformConfig, log *zap.Logger) transformSync {
	return transformSync{
		state:  state,
		cfg:    cfg,
		policy: batchPolicy{mode: cfg.Batch, threshold: cfg.BatchThreshold},
		log:    log,
	}
}

func (t *transformSync) direction(e ecs.EntityID) component.SyncDirection {
	if o, ok := t.state.Overrides.Get(e); ok {
		return o.Direction
	}
	return t.cfg.Direction
}

// dim is the transform dimension of e's node, 0 for non-spatial classes.
func (t *transformSync) dim(e ecs.EntityID) int {
	switch {
	case t.state.IsA(e, "Node3D"):
		return 3
	case t.state.IsA(e, "Node2D"):
		return 2
	}
	return 0
}

// readNative reads e's pose through its typed view.
func (t *transformSync) readNative(e ecs.EntityID) (host.Pose, bool) {
	switch t.dim(e) {
	case 3:
		v, err := world.TryAccess[host.Node3D](t.state.Registry, e)
		if err != nil {
			t.log.Debug("transform read skipped", zap.Uint64("entity", uint64(e)), zap.Error(err))
			return host.Pose{}, false
		}
		return v.Transform().Decompose(), true
	case 2:
		v, err := world.TryAccess[host.Node2D](t.state.Registry, e)
		if err != nil {
			t.log.Debug("transform read skipped", zap.Uint64("entity", uint64(e)), zap.Error(err))
			return host.Pose{}, false
		}
		return v.Transform().Decompose(), true
	}
	return host.Pose{}, false
}

// writeNative composes p into e's node through its typed view.
func (t *transformSync) writeNative(e ecs.EntityID, p host.Pose) bool {
	switch t.dim(e) {
	case 3:
		v, err := world.TryAccess[host.Node3D](t.state.Registry, e)
		if err != nil {
			t.log.Debug("transform write skipped", zap.Uint64("entity", uint64(e)), zap.Error(err))
			return false
		}
		v.SetTransform(host.ComposeTransform3D(p))
		return true
	case 2:
		v, err := world.TryAccess[host.Node2D](t.state.Registry, e)
		if err != nil {
			t.log.Debug("transform write skipped", zap.Uint64("entity", uint64(e)), zap.Error(err))
			return false
		}
		v.SetTransform(host.ComposeTransform2D(p))
		return true
	}
	return false
}

// TransformReadback copies native transforms into Pose components.
// Phase 1 (PreUpdate), host-bound.
type TransformReadback struct {
	transformSync
}

func NewTransformReadback(state *world.State, cfg TransformConfig, log *zap.Logger) *TransformReadback {
	return &TransformReadback{transformSync: newTransformSync(state, cfg, log)}
}

func (s *TransformReadback) Phase() coresys.Phase { return coresys.PhasePreUpdate }
func (s *TransformReadback) Name() string         { return "transform_readback" }

func (s *TransformReadback) Access() coresys.Access {
	return coresys.Access{
		Host:   true,
		Reads:  []string{world.StoreHandle, world.StoreOverride},
		Writes: []string{world.StorePose, world.StoreSyncMeta},
	}
}

func (s *TransformReadback) Update(_ time.Duration) {
	st := s.state
	tick := st.World.Tick()

	s.ents = s.ents[:0]
	ecs.Each2(st.Poses, st.Handles, func(e ecs.EntityID, _ *component.Pose, _ *component.NativeHandle) {
		dir := s.direction(e)
		if !dir.Reads() {
			return
		}
		if m, ok := st.SyncMeta.Get(e); ok {
			// Written to the node this tick, or an ECS write is still
			// waiting for pushdown.
			if m.Origin == component.OriginECS && m.Tick == tick {
				return
			}
			if st.Poses.ChangedSeq(e) > m.Seq && dir.Writes() {
				return
			}
		}
		s.ents = append(s.ents, e)
	})
	if len(s.ents) == 0 {
		return
	}

	start := time.Now()
	batched := s.policy.batched(len(s.ents))
	if batched {
		s.readBatch(tick)
	} else {
		for _, e := range s.ents {
			if p, ok := s.readNative(e); ok {
				s.apply(e, p, tick)
			}
		}
	}
	s.policy.observe(batched, len(s.ents), time.Since(start))
}

func (s *TransformReadback) readBatch(tick ecs.Tick) {
	s.buf.Reset()
	for _, e := range s.ents {
		h, _ := s.state.Handles.Get(e)
		s.buf.Add(h.ID)
	}
	s.state.Registry.Scene().ReadPoses(&s.buf)
	for i, e := range s.ents {
		if s.buf.Valid[i] {
			s.apply(e, s.buf.At(i), tick)
		}
	}
}

// apply stores p unless the node still reports the pose of the last sync.
func (s *TransformReadback) apply(e ecs.EntityID, p host.Pose, tick ecs.Tick) {
	st := s.state
	if m, ok := st.SyncMeta.Get(e); ok && m.Native == p {
		return
	}
	pose := component.PoseFromNative(p)
	st.Poses.Set(e, &pose)
	st.SyncMeta.Set(e, &component.SyncMeta{
		Origin: component.OriginNative,
		Tick:   tick,
		Seq:    st.Poses.ChangedSeq(e),
		Native: p,
	})
}

// TransformPushdown writes Pose components changed by ECS code back to their
// nodes. Phase 4 (Last), host-bound.
type TransformPushdown struct {
	transformSync
}

func NewTransformPushdown(state *world.State, cfg TransformConfig, log *zap.Logger) *TransformPushdown {
	return &TransformPushdown{transformSync: newTransformSync(state, cfg, log)}
}

func (s *TransformPushdown) Phase() coresys.Phase { return coresys.PhaseLast }
func (s *TransformPushdown) Name() string         { return "transform_pushdown" }

func (s *TransformPushdown) Access() coresys.Access {
	return coresys.Access{
		Host:   true,
		Reads:  []string{world.StoreHandle, world.StorePose, world.StoreOverride},
		Writes: []string{world.StoreSyncMeta},
	}
}

func (s *TransformPushdown) Update(_ time.Duration) {
	st := s.state
	tick := st.World.Tick()

	s.ents = s.ents[:0]
	ecs.Each2(st.Poses, st.Handles, func(e ecs.EntityID, _ *component.Pose, _ *component.NativeHandle) {
		if !s.direction(e).Writes() {
			return
		}
		var synced uint64
		if m, ok := st.SyncMeta.Get(e); ok {
			synced = m.Seq
		}
		if st.Poses.ChangedSeq(e) > synced {
			s.ents = append(s.ents, e)
		}
	})
	if len(s.ents) == 0 {
		return
	}

	start := time.Now()
	batched := s.policy.batched(len(s.ents))
	if batched {
		s.writeBatch(tick)
	} else {
		for _, e := range s.ents {
			p, _ := st.Poses.Get(e)
			if s.writeNative(e, p.Native()) {
				s.stamp(e, tick)
			}
		}
	}
	s.policy.observe(batched, len(s.ents), time.Since(start))
}

func (s *TransformPushdown) writeBatch(tick ecs.Tick) {
	s.buf.Reset()
	for _, e := range s.ents {
		h, _ := s.state.Handles.Get(e)
		p, _ := s.state.Poses.Get(e)
		s.buf.Append(h.ID, p.Native())
	}
	s.state.Registry.Scene().WritePoses(&s.buf)
	for i, e := range s.ents {
		if s.buf.Valid[i] {
			s.stamp(e, tick)
		} else {
			s.log.Debug("transform write skipped", zap.Uint64("entity", uint64(e)), zap.Int64("native_id", int64(s.buf.IDs[i])))
		}
	}
}

func (s *TransformPushdown) stamp(e ecs.EntityID, tick ecs.Tick) {
	p, _ := s.state.Poses.Get(e)
	s.state.SyncMeta.Set(e, &component.SyncMeta{
		Origin: component.OriginECS,
		Tick:   tick,
		Seq:    s.state.Poses.ChangedSeq(e),
		Native: host.Settle(p.Native(), s.dim(e)),
	})
}
