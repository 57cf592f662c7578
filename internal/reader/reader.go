//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package reader runs Gen2 inventory rounds.
//
// The Reader is a state machine driven by the receive sample clock:
// it consumes decoded frames and the current stream position,
// and produces the waveforms to transmit next.
// It never reads a wall clock for protocol timing,
// so a recorded sample stream always replays the same way.
package reader

import (
	"math"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"hz.tools/sdr"

	"edgexfoundry/app-rfid-gen2-reader/internal/decoder"
	"edgexfoundry/app-rfid-gen2-reader/internal/gen2"
	"edgexfoundry/app-rfid-gen2-reader/internal/inventory"
)

// Transmission is a waveform for the transmitter.
//
// Positions are in receive-stream samples. The waveform starts at At,
// the command (if any) ends at CommandEnd, and the carrier after it lasts until End.
// Transmissions never overlap, and consecutive ones may leave a gap,
// during which the transmitter should hold the carrier.
type Transmission struct {
	At         int64
	CommandEnd int64
	End        int64

	// Command is nil for plain carrier or carrier off.
	Command gen2.Command
	// PowerDown is true when the waveform turns the carrier off.
	PowerDown bool
	// Samples are at the transmit rate.
	Samples sdr.SamplesC64
}

// RoundSummary describes a completed inventory round.
type RoundSummary struct {
	Round   int          `json:"round"`
	Q       int          `json:"q"`
	NextQ   int          `json:"next_q"`
	Session gen2.Session `json:"session"`
	Target  gen2.Target  `json:"target"`

	Slots       int `json:"slots"`
	Empty       int `json:"empty"`
	Collisions  int `json:"collisions"`
	Successes   int `json:"successes"`
	EPCReads    int `json:"epc_reads"`
	EPCFailures int `json:"epc_failures"`

	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Stats accumulate over the life of the Reader.
type Stats struct {
	State   State       `json:"state"`
	Running bool        `json:"running"`
	Round   int         `json:"round"`
	Rounds  int         `json:"rounds_completed"`
	Q       int         `json:"q"`
	Target  gen2.Target `json:"target"`

	Queries      int `json:"queries"`
	QueryReps    int `json:"query_reps"`
	QueryAdjusts int `json:"query_adjusts"`
	Acks         int `json:"acks"`
	Naks         int `json:"naks"`
	Selects      int `json:"selects"`

	EmptySlots     int `json:"empty_slots"`
	CollisionSlots int `json:"collision_slots"`
	SuccessSlots   int `json:"success_slots"`
	EPCReads       int `json:"epc_reads"`
	EPCFailures    int `json:"epc_failures"`
	StrayFrames    int `json:"stray_frames"`

	UniqueTags int `json:"unique_tags"`
	TotalReads int `json:"total_reads"`
}

// Observers are told about reads and rounds as they happen,
// on the goroutine that drives the Reader.
type Observers struct {
	Read  func(inventory.Event)
	Round func(RoundSummary)
}

// Reader conducts inventory rounds and owns the tag inventory.
// It isn't safe for concurrent use.
type Reader struct {
	lc     logger.LoggingClient
	cfg    Config
	mod    *Modulator
	policy QPolicy
	tags   *inventory.TagProcessor
	obs    Observers

	state   State
	running bool

	// txEnd is where the last transmission ends.
	txEnd int64
	// Replies must start in [awaitFrom, deadline) and end by deadline.
	awaitFrom int64
	deadline  int64
	slack     int64
	// openBurst is where a burst still being received began, or -1.
	openBurst int64
	// acked is set while the tag read in the current slot is Acknowledged.
	acked bool

	target gen2.Target
	q      int
	// slot counts the slots left in the round after the current one.
	slot  int
	round RoundSummary
	stats Stats

	out []Transmission
}

// New returns a Reader in the Idle state.
// Restored tags seed the inventory.
func New(lc logger.LoggingClient, cfg Config, restored []inventory.StaticTag) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	symbol := cfg.Timing.Symbol().Seconds() * float64(cfg.RxRate)
	r := &Reader{
		lc:        lc,
		cfg:       cfg,
		mod:       NewModulator(cfg.Timing, cfg.TxRate, cfg.Amplitude),
		policy:    cfg.qPolicy(),
		tags:      inventory.NewTagProcessor(lc, restored),
		state:     StateIdle,
		target:    cfg.Target,
		openBurst: -1,
		slack:     int64(math.Ceil(float64(cfg.ReplySlackSymbols) * symbol)),
	}
	r.q = r.policy.Q()

	lc.Info("Reader configured.",
		"session", cfg.Session, "target", cfg.Target, "dualTarget", cfg.DualTarget,
		"initialQ", cfg.InitialQ, "adaptiveQ", cfg.AdaptiveQ,
		"select", cfg.SelectEnabled, "mask", cfg.Select.Mask.String(),
		"txRate", cfg.TxRate, "rxRate", cfg.RxRate, "blf", cfg.Timing.BLF)
	return r, nil
}

// SetObservers replaces the Reader's observers.
func (r *Reader) SetObservers(obs Observers) {
	r.obs = obs
}

func (r *Reader) State() State {
	return r.state
}

func (r *Reader) Running() bool {
	return r.running
}

// Stats returns the Reader's statistics.
func (r *Reader) Stats() Stats {
	s := r.stats
	s.State = r.state
	s.Running = r.running
	s.Q = r.q
	s.Target = r.target
	s.UniqueTags = r.tags.Len()
	s.TotalReads = r.tags.Reads()
	return s
}

// Snapshot returns a copy of the tag inventory.
func (r *Reader) Snapshot() []inventory.StaticTag {
	return r.tags.Snapshot()
}

// Tag returns the inventory record for an EPC.
func (r *Reader) Tag(epc string) (inventory.StaticTag, bool) {
	return r.tags.Get(epc)
}

// Counts returns the read count of every tag in the inventory.
func (r *Reader) Counts() map[string]int {
	return r.tags.Counts()
}

// ResetInventory clears the tag inventory.
// It doesn't interrupt the round in progress.
func (r *Reader) ResetInventory() {
	r.tags.Reset()
}

// Start powers up and begins inventory at or after stream position now.
// It does nothing if the Reader is already running.
func (r *Reader) Start(now int64) []Transmission {
	r.out = nil
	if r.running {
		return nil
	}

	r.running = true
	r.enter(StateStart)
	r.lc.Info("Starting inventory.", "position", now, "q", r.q, "target", r.target)

	t := r.at(now)
	cw := r.mod.CW(r.cfg.Timing.Settle)
	r.emit(Transmission{At: t, CommandEnd: t, End: t + r.rxLen(len(cw)), Samples: cw})
	r.beginRound(now, false)
	return r.out
}

// Stop abandons the current round and turns the carrier off.
// It does nothing if the Reader isn't running.
func (r *Reader) Stop(now int64) []Transmission {
	r.out = nil
	if r.running {
		r.powerDown(now)
	}
	return r.out
}

// Restart powers down, then starts over with the initial Q and target.
// The inventory is kept.
func (r *Reader) Restart(now int64) []Transmission {
	r.out = nil
	if r.running {
		r.powerDown(now)
	}
	r.policy.Reset()
	r.q = r.policy.Q()
	r.target = r.cfg.Target
	out := r.out
	out = append(out, r.Start(now)...)
	r.out = out
	return out
}

// Process consumes frames, in the order their bursts ended,
// and advances to stream position now, which must not be earlier than any frame's end.
// It returns what to transmit next.
func (r *Reader) Process(now int64, frames []decoder.Frame) []Transmission {
	r.out = nil

	for i := range frames {
		f := &frames[i]
		if r.awaiting() && f.Start >= r.deadline {
			r.timeout(now)
		}
		r.handle(now, f)
	}

	if r.awaiting() && now >= r.deadline && !r.replyInProgress() {
		r.timeout(now)
	}
	return r.out
}

// BurstOpen tells the Reader that the Gate has an unfinished burst that began at start,
// or with a negative start, that it has none.
// A reply window doesn't time out while a burst that began inside it is still open.
func (r *Reader) BurstOpen(start int64) {
	if start < 0 {
		start = -1
	}
	r.openBurst = start
}

func (r *Reader) replyInProgress() bool {
	return r.openBurst >= r.awaitFrom && r.openBurst < r.deadline
}

func (r *Reader) awaiting() bool {
	return r.state == StateAwaitRN16 || r.state == StateAwaitEPC
}

func (r *Reader) enter(s State) {
	if r.state != s {
		r.lc.Trace("Reader state.", "from", r.state, "to", s)
	}
	r.state = s
}

// rxLen converts a number of transmit samples to receive samples.
func (r *Reader) rxLen(n int) int64 {
	return int64(math.Round(float64(n) * float64(r.cfg.RxRate) / float64(r.cfg.TxRate)))
}

// at is the earliest a new transmission can start.
func (r *Reader) at(now int64) int64 {
	if r.txEnd > now {
		return r.txEnd
	}
	return now
}

func (r *Reader) emit(t Transmission) {
	r.txEnd = t.End
	r.out = append(r.out, t)
}

// send transmits a command followed by carrier for gap.
func (r *Reader) send(now int64, cmd gen2.Command, gap time.Duration) Transmission {
	wave := r.mod.Command(cmd)
	n := len(wave)
	wave = append(wave, r.mod.CW(gap)...)

	at := r.at(now)
	t := Transmission{
		At:         at,
		CommandEnd: at + r.rxLen(n),
		End:        at + r.rxLen(len(wave)),
		Command:    cmd,
		Samples:    wave,
	}
	r.emit(t)

	switch cmd.Kind() {
	case gen2.CmdQuery:
		r.stats.Queries++
	case gen2.CmdQueryRep:
		r.stats.QueryReps++
	case gen2.CmdQueryAdjust:
		r.stats.QueryAdjusts++
	case gen2.CmdAck:
		r.stats.Acks++
	case gen2.CmdNak:
		r.stats.Naks++
	case gen2.CmdSelect:
		r.stats.Selects++
	}
	r.lc.Trace("Transmit.", "command", cmd.Kind(), "at", t.At, "end", t.End)
	return t
}

// await waits for the reply to t.
func (r *Reader) await(s State, t Transmission) {
	r.enter(s)
	r.awaitFrom = t.CommandEnd
	r.deadline = t.End + r.slack
}

func (r *Reader) replyGap() time.Duration {
	lt := r.cfg.Timing
	return lt.T1 + lt.T2 + lt.RN16Reply()
}

func (r *Reader) epcGap() time.Duration {
	lt := r.cfg.Timing
	return 3*lt.T1 + lt.T2 + lt.EPCReply(r.cfg.MaxEPCWords)
}

// beginRound starts a round with r.q.
// QueryAdjust is used when allowed and nothing but Q changed by one.
func (r *Reader) beginRound(now int64, adjust bool) {
	prevQ := r.round.Q
	r.stats.Round++
	r.round = RoundSummary{
		Round:   r.stats.Round,
		Q:       r.q,
		Session: r.cfg.Session,
		Target:  r.target,
		Start:   r.at(now),
	}
	r.slot = 1<<r.q - 1

	if r.cfg.SelectEnabled {
		r.enter(StateSendSelect)
		r.send(now, r.cfg.Select, r.cfg.Timing.T4)
		adjust = false
	}

	var t Transmission
	if adjust && r.cfg.UseQueryAdjust && (r.q == prevQ+1 || r.q == prevQ-1) {
		r.enter(StateSendQueryAdjust)
		upDn := gen2.UpDnUp
		if r.q < prevQ {
			upDn = gen2.UpDnDown
		}
		t = r.send(now, gen2.QueryAdjust{Session: r.cfg.Session, UpDn: upDn}, r.replyGap())
	} else {
		r.enter(StateSendQuery)
		t = r.send(now, gen2.Query{
			Sel:     r.cfg.querySel(),
			Session: r.cfg.Session,
			Target:  r.target,
			Q:       r.q,
		}, r.replyGap())
	}
	r.await(StateAwaitRN16, t)
}

// nextSlot moves to the next slot or ends the round.
func (r *Reader) nextSlot(now int64) {
	if r.slot > 0 {
		r.slot--
		r.acked = false
		r.enter(StateSendQueryRep)
		t := r.send(now, gen2.QueryRep{Session: r.cfg.Session}, r.replyGap())
		r.await(StateAwaitRN16, t)
		return
	}
	r.endRound(now)
}

func (r *Reader) endRound(now int64) {
	nextQ := r.policy.NextRound()

	r.round.NextQ = nextQ
	r.round.End = r.at(now)
	r.stats.Rounds++
	summary := r.round

	r.lc.Debug("Inventory round complete.",
		"round", summary.Round, "q", summary.Q, "nextQ", nextQ, "target", summary.Target,
		"empty", summary.Empty, "collisions", summary.Collisions, "successes", summary.Successes,
		"epcReads", summary.EPCReads, "epcFailures", summary.EPCFailures)
	if r.obs.Round != nil {
		r.obs.Round(summary)
	}

	targetChanged := false
	if r.cfg.DualTarget && summary.Successes == 0 && summary.Collisions == 0 {
		r.target = r.target.Flip()
		targetChanged = true
	}

	stopping := r.cfg.StopAfterRounds > 0 && r.stats.Rounds >= r.cfg.StopAfterRounds
	if r.acked && (stopping || r.cfg.SelectEnabled) {
		// Select and power loss return an Acknowledged tag to Ready
		// without inverting its inventoried flag; a QueryRep inverts it.
		r.enter(StateSendQueryRep)
		r.send(now, gen2.QueryRep{Session: r.cfg.Session}, r.cfg.Timing.T4)
	}
	r.acked = false

	if stopping {
		r.lc.Info("Completed the configured number of rounds.", "rounds", r.stats.Rounds)
		r.powerDown(now)
		return
	}

	qChanged := nextQ != r.q
	r.q = nextQ
	r.beginRound(now, qChanged && !targetChanged)
}

func (r *Reader) powerDown(now int64) {
	r.enter(StatePowerDown)
	t := r.at(now)
	off := r.mod.Off(r.cfg.Timing.PowerDown)
	r.emit(Transmission{At: t, CommandEnd: t, End: t + r.rxLen(len(off)), PowerDown: true, Samples: off})

	r.running = false
	r.acked = false
	r.enter(StateIdle)
	r.lc.Info("Inventory stopped.", "position", now, "rounds", r.stats.Rounds,
		"uniqueTags", r.tags.Len(), "reads", r.tags.Reads())
}

func (r *Reader) observe(o SlotOutcome) {
	r.policy.Observe(o)
	r.round.Slots++
	switch o {
	case SlotEmpty:
		r.round.Empty++
		r.stats.EmptySlots++
	case SlotCollision:
		r.round.Collisions++
		r.stats.CollisionSlots++
	case SlotSuccess:
		r.round.Successes++
		r.stats.SuccessSlots++
	}
	r.lc.Trace("Slot.", "round", r.round.Round, "slot", r.slot, "outcome", o)
}

func (r *Reader) timeout(now int64) {
	switch r.state {
	case StateAwaitRN16:
		r.observe(SlotEmpty)
		r.nextSlot(now)
	case StateAwaitEPC:
		r.lc.Trace("No EPC reply.", "round", r.round.Round)
		r.failEPC(now)
	}
}

func (r *Reader) handle(now int64, f *decoder.Frame) {
	if !r.awaiting() || f.Start < r.awaitFrom || f.Start >= r.deadline {
		r.stats.StrayFrames++
		r.lc.Trace("Ignoring frame outside a reply window.", "start", f.Start, "end", f.End, "class", f.Class)
		return
	}

	// a reply running past the window overlaps whatever follows it
	late := f.End > r.deadline

	switch r.state {
	case StateAwaitRN16:
		if late || f.Class != decoder.ClassRN16 || !f.Valid {
			r.observe(SlotCollision)
			r.nextSlot(now)
			return
		}
		r.observe(SlotSuccess)
		r.enter(StateSendAck)
		t := r.send(now, gen2.Ack{RN16: f.Bits.Clone()}, r.epcGap())
		r.await(StateAwaitEPC, t)

	case StateAwaitEPC:
		reply, ok := f.EPC()
		if late || !ok {
			r.lc.Trace("Invalid EPC reply.", "round", r.round.Round, "class", f.Class, "symbols", f.Symbols)
			r.failEPC(now)
			return
		}
		r.record(reply, f)
		r.acked = true
		r.nextSlot(now)
	}
}

// failEPC NAKs the tag and moves on.
func (r *Reader) failEPC(now int64) {
	r.round.EPCFailures++
	r.stats.EPCFailures++
	r.enter(StateSendNak)
	r.send(now, gen2.Nak{}, r.cfg.Timing.T4)
	r.nextSlot(now)
}

func (r *Reader) record(reply gen2.EPCReply, f *decoder.Frame) {
	r.round.EPCReads++
	r.stats.EPCReads++

	ev := r.tags.ProcessRead(inventory.Read{
		EPC:       reply.ID(),
		PC:        reply.PC,
		Timestamp: inventory.UnixMilli(r.cfg.Clock()),
		Round:     r.round.Round,
		Strength:  f.Strength,
	})
	if r.obs.Read != nil {
		r.obs.Read(ev)
	}
}
