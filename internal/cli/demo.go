package cli

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"

	"github.com/matzehuels/pipescope/pkg/components"
	"github.com/matzehuels/pipescope/pkg/ecs"
)

// maxDemoBranches bounds how far the demo pipeline grows.
const maxDemoBranches = 6

// demo produces the mutations of a synthetic media pipeline: a source
// feeding a tee whose branches (queue and sink, each in a bin of its own)
// come and go while node states change.
type demo struct {
	rng  *rand.Rand
	last ecs.Entity
	buf  []ecs.Mutation

	root, src, tee ecs.Entity
	branches       [][]ecs.Entity // destroy order: ports, nodes, bin
	flippable      []ecs.Entity
	added          int
	frames         int
}

func newDemo(seed uint64) *demo {
	return &demo{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// build returns the mutations creating the initial pipeline.
func (d *demo) build(branches int) []ecs.Mutation {
	d.root = d.node("pipeline", "pipeline", ecs.Nil, true)
	d.state(d.root, components.StatePlaying)

	d.src = d.node("src", "videotestsrc", d.root, false)
	srcOut := d.port(d.src, components.Output, "src")
	d.tee = d.node("tee", "tee", d.root, false)
	teeIn := d.port(d.tee, components.Input, "sink")
	d.link(srcOut, teeIn)
	d.flippable = append(d.flippable, d.src, d.tee)

	for range max(branches, 1) {
		d.addBranch()
	}
	return d.flush()
}

// step returns the mutations of one tick.
func (d *demo) step() []ecs.Mutation {
	d.frames += 30
	d.set(d.src, components.Properties{"frames": strconv.Itoa(d.frames)})

	switch r := d.rng.IntN(20); {
	case r == 0 && len(d.branches) < maxDemoBranches:
		d.addBranch()
	case r == 1 && len(d.branches) > 1:
		d.removeBranch()
	case r < 8:
		e := d.flippable[d.rng.IntN(len(d.flippable))]
		states := []components.State{components.StateReady, components.StatePaused, components.StatePlaying}
		d.state(e, states[d.rng.IntN(len(states))])
	}
	return d.flush()
}

func (d *demo) addBranch() {
	d.added++
	k := d.added
	bin := d.node("branch"+strconv.Itoa(k), "bin", d.root, true)
	teeOut := d.port(d.tee, components.Output, fmt.Sprintf("src_%d", k))
	q := d.node("queue"+strconv.Itoa(k), "queue", bin, false)
	qIn := d.port(q, components.Input, "sink")
	qOut := d.port(q, components.Output, "src")
	sink := d.node("sink"+strconv.Itoa(k), "fakesink", bin, false)
	sinkIn := d.port(sink, components.Input, "sink")
	d.link(teeOut, qIn)
	d.link(qOut, sinkIn)

	d.branches = append(d.branches, []ecs.Entity{teeOut, qIn, qOut, sinkIn, q, sink, bin})
	d.flippable = append(d.flippable, q, sink)
}

func (d *demo) removeBranch() {
	last := d.branches[len(d.branches)-1]
	d.branches = d.branches[:len(d.branches)-1]
	for _, e := range last {
		d.buf = append(d.buf, ecs.Destroy(e))
	}
	d.flippable = slices.DeleteFunc(d.flippable, func(e ecs.Entity) bool {
		return slices.Contains(last, e)
	})
}

func (d *demo) node(name, factory string, parent ecs.Entity, bin bool) ecs.Entity {
	e := d.create()
	d.set(e, components.Node{Name: name, Factory: factory})
	if bin {
		d.set(e, components.Bin{})
	}
	if parent != ecs.Nil {
		d.set(e, components.Parent{Bin: parent})
	}
	d.state(e, components.StateReady)
	return e
}

func (d *demo) port(owner ecs.Entity, dir components.Direction, name string) ecs.Entity {
	e := d.create()
	d.set(e, components.Port{Direction: dir, Owner: owner, Name: name})
	return e
}

func (d *demo) link(out, in ecs.Entity) { d.set(out, components.Link{Peer: in}) }

func (d *demo) state(e ecs.Entity, s components.State) { d.set(e, s) }

func (d *demo) create() ecs.Entity {
	d.last++
	d.buf = append(d.buf, ecs.Create(d.last))
	return d.last
}

func (d *demo) set(e ecs.Entity, c ecs.Component) {
	d.buf = append(d.buf, ecs.Set(e, c))
}

func (d *demo) flush() []ecs.Mutation {
	out := d.buf
	d.buf = nil
	return out
}
