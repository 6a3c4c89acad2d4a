package musiccast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DeviceState tracks a device through its lifecycle. There is no repair
// path: a failed device is removed and must be rediscovered.
type DeviceState int

const (
	StateUninitialized DeviceState = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s DeviceState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// TaskKind selects what a queued task does.
type TaskKind int

const (
	// TaskProcessEvent absorbs a decoded vendor event payload.
	TaskProcessEvent TaskKind = iota
	// TaskProcessCommand executes one routed bus command.
	TaskProcessCommand
	// TaskRefreshZone re-reads one zone's status from the device.
	TaskRefreshZone
	// TaskDisable tears the device down.
	TaskDisable
)

func (k TaskKind) String() string {
	switch k {
	case TaskProcessEvent:
		return "process_event"
	case TaskProcessCommand:
		return "process_command"
	case TaskRefreshZone:
		return "refresh_zone"
	case TaskDisable:
		return "disable"
	}
	return "unknown"
}

// Command is one routed bus command addressed to a zone.
type Command struct {
	ZoneID string
	Action Action
	Args   Arguments
}

// Task is one unit of work for a device actor. Tasks are processed
// strictly FIFO; nothing jumps the queue.
type Task struct {
	Kind    TaskKind
	Event   map[string]any
	Command Command
	Zone    int

	// Respond receives the command outcome. Nil for fire-and-forget.
	Respond func(Reply, error)
}

// DeviceInfo is the identity a discovery event carries.
type DeviceInfo struct {
	ID      string
	Host    string
	APIPort int
	Model   string
	Name    string
}

// DeviceOptions wires a device into its surroundings.
type DeviceOptions struct {
	// ListenPort is advertised to the device for its UDP event stream.
	ListenPort int
	Timing     Timing
	Topology   *Topology
	Logger     Logger

	// OnRemove is called exactly once when the device tears down.
	OnRemove func(deviceID string)

	// OnState receives zone state snapshots whenever cached state changes.
	OnState func(ZoneState)
}

// Device is one physical unit under one actor goroutine.
//
// Thread Safety:
//   - The owning actor (Run) holds mu for the duration of each task.
//   - A remote actor takes mu only inside source resolution, for one
//     inspect-and-mutate window.
//   - The refresh schedule is guarded by mu for the same reason.
//   - Enqueue is safe from any goroutine and never blocks.
type Device struct {
	ID       string
	Host     string
	Model    string
	SystemID string

	name string

	conn     *Conn
	features *Features

	mu    sync.Mutex
	state DeviceState

	// zones is ordered with "main" first.
	zones    []*Zone
	zoneByID map[string]*Zone

	inputs    map[string]bool
	inputList []string

	sources    map[string]*Source
	sourceIDs  []string
	feeds      map[string]*Feed
	feedIDs    []string
	playInfos  map[PlayType]PlayInfo

	tasks    chan Task
	schedule refreshSchedule

	// wake nudges the actor out of its timer wait when a settle refresh
	// is inserted while it is already blocked, which happens when a
	// remote actor schedules one during source resolution.
	wake chan struct{}

	keepaliveZone int

	timing   Timing
	topology *Topology
	logger   Logger

	onRemove func(string)
	onState  func(ZoneState)

	removeOnce sync.Once
}

// NewDevice creates an uninitialized device for a discovered identity.
func NewDevice(info DeviceInfo, opts DeviceOptions) *Device {
	timing := opts.Timing.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Device{
		ID:        info.ID,
		Host:      info.Host,
		Model:     info.Model,
		name:      info.Name,
		conn:      NewConn(info.Host, info.APIPort, opts.ListenPort, timing),
		state:     StateUninitialized,
		zoneByID:  make(map[string]*Zone),
		inputs:    make(map[string]bool),
		sources:   make(map[string]*Source),
		feeds:     make(map[string]*Feed),
		playInfos: make(map[PlayType]PlayInfo),
		tasks:     make(chan Task, timing.QueueSize),
		wake:      make(chan struct{}, 1),
		timing:    timing,
		topology:  opts.Topology,
		logger:    logger,
		onRemove:  opts.OnRemove,
		onState:   opts.OnState,
	}
}

// Name returns the friendly name, falling back to model and id.
func (d *Device) Name() string {
	if d.name != "" {
		return d.name
	}
	return fmt.Sprintf("%s (%s)", d.Model, d.ID)
}

// State returns the lifecycle state.
func (d *Device) State() DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Operable reports whether the device accepts commands right now.
func (d *Device) Operable() bool {
	d.mu.Lock()
	ready := d.state == StateReady
	d.mu.Unlock()
	return ready && !d.conn.Disabled()
}

// operableLocked is Operable for callers already holding mu: the owning
// actor inside a task, or a remote actor inside its resolution window.
func (d *Device) operableLocked() bool {
	return d.state == StateReady && !d.conn.Disabled()
}

func (d *Device) requireOperable() error {
	if !d.operableLocked() {
		return fmt.Errorf("%w: device %s is not operable", ErrLogic, d.Name())
	}
	return nil
}

// =============================================================================
// Initialization
// =============================================================================

// Init interrogates the device and builds zones, inputs, sources and
// feeds from its capability tree. The device confirms its own identity
// first: a mismatch against the discovered id means the address points at
// different hardware and is a configuration error.
func (d *Device) Init(ctx context.Context) error {
	d.mu.Lock()
	d.state = StateInitializing
	d.mu.Unlock()

	if err := d.verifyIdentity(ctx); err != nil {
		return err
	}

	tree, err := d.conn.Request(ctx, "system", "getFeatures")
	if err != nil {
		return err
	}
	d.features = NewFeatures(tree)

	if err := d.buildZones(); err != nil {
		return err
	}
	if err := d.buildInputs(ctx); err != nil {
		return err
	}

	// Prime the zone caches so the first command never acts on zero state.
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, z := range d.zones {
		// Seed the first declared input so the cache holds a usable value
		// even when getStatus reports an input the device never declared,
		// as some firmware does for link-sync pseudo-inputs.
		if len(d.inputList) > 0 {
			z.inputID = d.inputList[0]
		}
		if err := z.Refresh(ctx); err != nil {
			return err
		}
	}
	d.state = StateReady
	d.logger.Info("device initialized",
		"device_id", d.ID, "model", d.Model, "zones", len(d.zones),
		"sources", len(d.sourceIDs), "feeds", len(d.feedIDs))
	return nil
}

func (d *Device) verifyIdentity(ctx context.Context) error {
	info, err := d.conn.Request(ctx, "system", "getDeviceInfo")
	if err != nil {
		return err
	}
	id, ok := info["device_id"].(string)
	if !ok {
		return fmt.Errorf("%w: getDeviceInfo is missing device_id", ErrComms)
	}
	if !strings.EqualFold(id, d.ID) {
		return fmt.Errorf("%w: host %s answers as device %s, expected %s",
			ErrConfig, d.Host, id, d.ID)
	}
	if model, ok := info["model_name"].(string); ok {
		d.Model = model
	}
	if sysID, ok := info["system_id"].(string); ok {
		d.SystemID = sysID
	}
	return nil
}

// buildZones reads the zone list from the capability tree, ordering main
// first so round-robin refreshes start with the primary output.
func (d *Device) buildZones() error {
	entries, err := d.features.GetList("zone")
	if err != nil {
		return err
	}
	var ids []string
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: zone entry is %T, want object", ErrComms, entry)
		}
		id, ok := m["id"].(string)
		if !ok {
			return fmt.Errorf("%w: zone entry has no id", ErrComms)
		}
		if id == "main" {
			ids = append([]string{"main"}, ids...)
		} else {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: device %s declares no zones", ErrConfig, d.Name())
	}
	for i, id := range ids {
		z, err := newZone(d, id, i)
		if err != nil {
			return err
		}
		d.zones = append(d.zones, z)
		d.zoneByID[id] = z
	}
	return nil
}

// buildInputs walks the system input list. Inputs that carry a play-info
// type become sources sharing one play-info group per type; inputs
// without one become feeds when the topology wires them to a remote
// device, otherwise plain selectable inputs.
func (d *Device) buildInputs(ctx context.Context) error {
	entries, err := d.features.GetList("system", "input_list")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: input entry is %T, want object", ErrComms, entry)
		}
		id, ok := m["id"].(string)
		if !ok {
			return fmt.Errorf("%w: input entry has no id", ErrComms)
		}
		playType, _ := m["play_info_type"].(string)

		d.inputs[id] = true
		d.inputList = append(d.inputList, id)

		if playType == "" || playType == "none" {
			if wiring := d.topology.FeedFor(d.ID, id); wiring != nil {
				feed := &Feed{
					Input:          Input{ID: id},
					RemoteDeviceID: wiring.RemoteDevice,
					RemoteZoneID:   wiring.RemoteZone,
				}
				d.feeds[id] = feed
				d.feedIDs = append(d.feedIDs, id)
			}
			continue
		}

		pi, err := d.playInfoFor(ctx, PlayType(playType))
		if err != nil {
			return err
		}
		d.sources[id] = &Source{Input: Input{ID: id}, playInfo: pi}
		d.sourceIDs = append(d.sourceIDs, id)
	}
	return nil
}

// playInfoFor returns the shared play-info group for a type, creating it
// on first use.
func (d *Device) playInfoFor(ctx context.Context, t PlayType) (PlayInfo, error) {
	if pi, ok := d.playInfos[t]; ok {
		return pi, nil
	}
	var (
		pi  PlayInfo
		err error
	)
	switch t {
	case PlayTypeTuner:
		pi, err = newTunerInfo(ctx, d.conn, d.features)
	case PlayTypeCD:
		pi = newCDInfo(d.conn)
	case PlayTypeNetUSB:
		pi, err = newNetUSBInfo(ctx, d.conn, d.features)
	default:
		return nil, fmt.Errorf("%w: unknown play info type %q", ErrComms, t)
	}
	if err != nil {
		return nil, err
	}
	d.playInfos[t] = pi
	return pi, nil
}

// ResolveFeeds binds each feed to its live remote actor, or to the
// declared capabilities of a non-MusicCast remote. Called whenever the
// set of known devices changes; safe to repeat.
func (d *Device) ResolveFeeds(reg *Registry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range d.feedIDs {
		feed := d.feeds[id]
		remoteTopo := d.topology.Device(feed.RemoteDeviceID)
		if remoteTopo == nil {
			continue
		}
		feed.remoteAmplified = d.topology.Amplified(feed.RemoteDeviceID, feed.RemoteZoneID)
		if remoteTopo.MusicCast {
			feed.remoteDevice = reg.Get(feed.RemoteDeviceID)
			continue
		}
		feed.remoteSources = remoteTopo.Sources
	}
}

// =============================================================================
// Actor loop
// =============================================================================

// Enqueue adds a task to the actor's queue without blocking. A full
// queue is the backpressure signal; the task is rejected, never dropped
// silently or allowed to grow the queue.
func (d *Device) Enqueue(task Task) error {
	select {
	case d.tasks <- task:
		return nil
	default:
		return fmt.Errorf("%w: device %s", ErrQueueFull, d.ID)
	}
}

// Run is the actor loop. It drains due refreshes, keeps the device's
// event subscription alive with a round-robin status poll, and processes
// queued tasks strictly FIFO. A communication or configuration error
// while running a command or refresh is fatal: the loop exits, the
// transport is disabled, and the device removes itself. A fresh
// discovery event is the only way back. Event absorption never kills
// the actor; a payload it cannot digest is logged and dropped.
func (d *Device) Run(ctx context.Context) {
	defer d.remove()
	d.logger.Debug("device actor started", "device_id", d.ID)

	for {
		d.mu.Lock()
		now := time.Now()
		due := d.schedule.popDue(now)
		if d.schedule.empty() {
			d.schedule.insert(now.Add(d.timing.StaleConnection), d.nextKeepaliveZone())
		}
		next, _ := d.schedule.nextDue()
		d.mu.Unlock()

		for _, zone := range due {
			if fatal := d.runTask(ctx, Task{Kind: TaskRefreshZone, Zone: zone}); fatal {
				return
			}
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-d.wake:
			// Re-read the schedule; a refresh was inserted behind our back.
			timer.Stop()
		case task := <-d.tasks:
			timer.Stop()
			if fatal := d.runTask(ctx, task); fatal {
				return
			}
		case <-timer.C:
		}
	}
}

// nextKeepaliveZone rotates through the zones so every cache is
// periodically reconciled. Caller holds mu.
func (d *Device) nextKeepaliveZone() int {
	if len(d.zones) == 0 {
		return 0
	}
	zone := d.keepaliveZone % len(d.zones)
	d.keepaliveZone = zone + 1
	return zone
}

// runTask executes one task under the state lock and applies the failure
// policy: communication and configuration errors from commands and
// refreshes kill the device, logic errors go back to the caller, and
// event-absorption failures of any class are logged and dropped.
func (d *Device) runTask(ctx context.Context, task Task) (fatal bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	switch task.Kind {
	case TaskProcessEvent:
		err = d.DispatchEvent(ctx, task.Event)

	case TaskProcessCommand:
		var reply Reply
		reply, err = d.executeLocked(ctx, task.Command)
		if task.Respond != nil {
			if err != nil {
				task.Respond(Reply{Response: "error", Reason: err.Error()}, err)
			} else {
				task.Respond(reply, nil)
			}
		}

	case TaskRefreshZone:
		if task.Zone >= 0 && task.Zone < len(d.zones) {
			err = d.zones[task.Zone].Refresh(ctx)
		}

	case TaskDisable:
		d.conn.Disable()
		d.drainQueue()
		d.state = StateFailed
		return true
	}

	d.scheduleSettleLocked()

	if err == nil {
		return false
	}
	// The device originated the event payload, so a field we cannot parse
	// means garbled traffic, not broken hardware. Absorption errors never
	// escalate past a warning.
	if task.Kind == TaskProcessEvent {
		d.logger.Warn("event absorption error", "device_id", d.ID, "error", err)
		return false
	}
	if errors.Is(err, ErrComms) || errors.Is(err, ErrConfig) {
		d.logger.Error("device failed, removing",
			"device_id", d.ID, "task", task.Kind, "error", err)
		d.conn.Disable()
		d.state = StateFailed
		return true
	}
	if task.Kind != TaskProcessCommand {
		d.logger.Warn("task error", "device_id", d.ID, "task", task.Kind, "error", err)
	}
	return false
}

// drainQueue answers everything still queued behind a disable. Pending
// commands are refused so their callers get a reply instead of silence;
// refreshes and events are discarded.
func (d *Device) drainQueue() {
	for {
		select {
		case task := <-d.tasks:
			if task.Kind == TaskProcessCommand && task.Respond != nil {
				err := fmt.Errorf("%w: device %s", ErrDisabled, d.ID)
				task.Respond(Reply{Response: "error", Reason: err.Error()}, err)
			}
		default:
			return
		}
	}
}

func (d *Device) executeLocked(ctx context.Context, cmd Command) (Reply, error) {
	z := d.zoneByID[cmd.ZoneID]
	if z == nil {
		return Reply{}, fmt.Errorf("%w: device %s has no zone %q", ErrLogic, d.Name(), cmd.ZoneID)
	}
	return z.Execute(ctx, cmd.Action, cmd.Args)
}

// scheduleSettleLocked turns every pending settle flag into a delayed
// refresh. The delay lets the device finish applying the command before
// we read back its status. Caller holds mu.
func (d *Device) scheduleSettleLocked() {
	due := time.Now().Add(d.timing.BufferLag)
	inserted := false
	for _, z := range d.zones {
		if z.statusPending {
			z.statusPending = false
			d.schedule.insert(due, z.index)
			inserted = true
		}
	}
	if !inserted {
		return
	}
	// The actor may be mid-wait on a timer computed before this insert.
	// A self-wake from the actor's own task path costs one extra loop
	// iteration and nothing else.
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// remove tears the device down exactly once: transport disabled, state
// failed, gateway notified.
func (d *Device) remove() {
	d.removeOnce.Do(func() {
		d.conn.Disable()
		d.mu.Lock()
		d.state = StateFailed
		d.mu.Unlock()
		if d.onRemove != nil {
			d.onRemove(d.ID)
		}
		d.logger.Info("device removed", "device_id", d.ID)
	})
}

// =============================================================================
// Lookups (callers hold mu where it matters)
// =============================================================================

func (d *Device) zone(id string) *Zone { return d.zoneByID[id] }

// Zones returns zone ids in refresh order, main first.
func (d *Device) Zones() []string {
	ids := make([]string, len(d.zones))
	for i, z := range d.zones {
		ids[i] = z.ID
	}
	return ids
}

// Snapshot returns state snapshots for every zone.
func (d *Device) Snapshot() []ZoneState {
	d.mu.Lock()
	defer d.mu.Unlock()
	states := make([]ZoneState, len(d.zones))
	for i, z := range d.zones {
		states[i] = z.State()
	}
	return states
}

func (d *Device) hasInput(id string) bool { return d.inputs[id] }

func (d *Device) inputIDs() []string {
	ids := make([]string, len(d.inputList))
	copy(ids, d.inputList)
	return ids
}

func (d *Device) source(id string) *Source { return d.sources[id] }

func (d *Device) sourceList() []*Source {
	list := make([]*Source, 0, len(d.sourceIDs))
	for _, id := range d.sourceIDs {
		list = append(list, d.sources[id])
	}
	return list
}

func (d *Device) feed(id string) *Feed { return d.feeds[id] }

func (d *Device) feedList() []*Feed {
	list := make([]*Feed, 0, len(d.feedIDs))
	for _, id := range d.feedIDs {
		list = append(list, d.feeds[id])
	}
	return list
}

func (d *Device) playInfo(t PlayType) PlayInfo { return d.playInfos[t] }

func (d *Device) notifyState(state ZoneState) {
	if d.onState != nil {
		d.onState(state)
	}
}
