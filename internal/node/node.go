// Package node holds the observable per-node state record: identity,
// capability, auth, session sync map, activity, and the last error — the
// only coupling to a UI layer is the change-notification channel exposed
// here.
package node

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidUpdate is returned by UpdatePerformance when ms <= 0 — the
// score is mathematically undefined in that case (spec §8 boundary).
var ErrInvalidUpdate = errors.New("node: ms must be > 0")

// Change describes one property mutation, delivered to subscribers in the
// order it was applied. Field names match the exported accessor they
// correspond to (e.g. "Activity", "LastFileID"); sync-map changes, which
// have no single accessor, are reported as "SyncedMap".
type Change struct {
	Field string
	Value any
}

// changeQueueSize bounds per-subscriber buffering; a slow UI subscriber
// drops the oldest unread notification rather than stalling the
// single-writer thread that applies state changes (spec §5: readers
// accept last-write-wins semantics).
const changeQueueSize = 64

// Node is the observable record of one render node's state. All setters
// are safe to call concurrently and from the Connection's dispatched
// event handlers (spec §4.D).
type Node struct {
	mu sync.RWMutex

	name         string
	address      string
	computerName string
	os           string

	cores      int
	renderType string

	performance        float64
	performanceScorePP float64

	pass string
	mac  string

	selectedSessionID string
	syncedMap         map[string]bool
	lastFileID        int64
	availableVersions map[string]struct{}

	activity         string
	activityProgress float64
	exception        string
	lastStatus       string
	currentTaskID    string
	isPrepared       bool
	connected        bool

	console *ConsoleLog

	subMu sync.Mutex
	subs  map[int]chan Change
	nextSub int
}

// New constructs a detached Node. cores defaults to -1 (unknown, per spec
// §3) until ComputerInfo arrives.
func New(name, address string) *Node {
	return &Node{
		name:              name,
		address:           address,
		cores:             -1,
		syncedMap:         make(map[string]bool),
		availableVersions: make(map[string]struct{}),
		console:           NewConsoleLog(1000),
		subs:              make(map[int]chan Change),
	}
}

// Subscribe registers for change notifications. The returned function
// unsubscribes and must be called to avoid leaking the channel.
func (n *Node) Subscribe() (<-chan Change, func()) {
	n.subMu.Lock()
	id := n.nextSub
	n.nextSub++
	ch := make(chan Change, changeQueueSize)
	n.subs[id] = ch
	n.subMu.Unlock()

	return ch, func() {
		n.subMu.Lock()
		if existing, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(existing)
		}
		n.subMu.Unlock()
	}
}

func (n *Node) emit(field string, value any) {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- Change{Field: field, Value: value}:
		default:
			// Drop the oldest queued notification for this subscriber and
			// retry once; a lagging UI should see fresher state, not block
			// the writer.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- Change{Field: field, Value: value}:
			default:
			}
		}
	}
}

// ConsoleLog returns the node's append-only remote-console buffer.
func (n *Node) ConsoleLog() *ConsoleLog { return n.console }

// Name, Address, ComputerName, OS, Cores, RenderType are read-only
// identity/capability accessors.
func (n *Node) Name() string { n.mu.RLock(); defer n.mu.RUnlock(); return n.name }
func (n *Node) Address() string { n.mu.RLock(); defer n.mu.RUnlock(); return n.address }
func (n *Node) ComputerName() string { n.mu.RLock(); defer n.mu.RUnlock(); return n.computerName }
func (n *Node) OS() string { n.mu.RLock(); defer n.mu.RUnlock(); return n.os }
func (n *Node) Cores() int { n.mu.RLock(); defer n.mu.RUnlock(); return n.cores }
func (n *Node) RenderType() string { n.mu.RLock(); defer n.mu.RUnlock(); return n.renderType }
func (n *Node) SetRenderType(rt string) {
	n.mu.Lock()
	n.renderType = rt
	n.mu.Unlock()
	n.emit("RenderType", rt)
}

// SetComputerInfo caches the ComputerInfo handshake reply (spec §4.C step 4).
func (n *Node) SetComputerInfo(name, os string, cores int) {
	n.mu.Lock()
	n.computerName = name
	n.os = os
	n.cores = cores
	n.mu.Unlock()
	n.emit("ComputerName", name)
	n.emit("OS", os)
	n.emit("Cores", cores)
}

// Performance is the user-provided performance hint (<=0 means "use core
// count", spec §3); PerformanceScorePP is the computed pixels/ms score.
func (n *Node) Performance() float64 { n.mu.RLock(); defer n.mu.RUnlock(); return n.performance }
func (n *Node) SetPerformance(p float64) {
	n.mu.Lock()
	n.performance = p
	n.mu.Unlock()
	n.emit("Performance", p)
}
func (n *Node) PerformanceScorePP() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.performanceScorePP
}

// UpdatePerformance sets PerformanceScorePP = pixels / ms. ms must be > 0.
func (n *Node) UpdatePerformance(pixels, ms float64) error {
	if ms <= 0 {
		return fmt.Errorf("node: update performance: %w", ErrInvalidUpdate)
	}
	score := pixels / ms
	n.mu.Lock()
	n.performanceScorePP = score
	n.mu.Unlock()
	n.emit("PerformanceScorePP", score)
	return nil
}

// Pass and Mac are the opaque auth password and optional wake-on-LAN hint.
func (n *Node) Pass() string { n.mu.RLock(); defer n.mu.RUnlock(); return n.pass }
func (n *Node) SetPass(pass string) {
	n.mu.Lock()
	n.pass = pass
	n.mu.Unlock()
}
func (n *Node) Mac() string { n.mu.RLock(); defer n.mu.RUnlock(); return n.mac }
func (n *Node) SetMac(mac string) {
	n.mu.Lock()
	n.mac = mac
	n.mu.Unlock()
}

// SelectedSessionID is the one active session a caller has selected for
// this node at a time.
func (n *Node) SelectedSessionID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.selectedSessionID
}
func (n *Node) SetSelectedSessionID(id string) {
	n.mu.Lock()
	n.selectedSessionID = id
	n.mu.Unlock()
	n.emit("SelectedSessionID", id)
}

// IsSynced reports isSynced(sessionID) = syncedMap[sessionID] == true.
func (n *Node) IsSynced(sessionID string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.syncedMap[sessionID]
}

// IsSelectedSessionSynced is the derived isSynced property (spec §4.D).
func (n *Node) IsSelectedSessionSynced() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.syncedMap[n.selectedSessionID]
}

// MarkSynced flips a session to synced. Callers must only invoke this
// after the server's CheckSync explicitly confirms (sessionID, fileID),
// per the "verified sync" invariant (spec §3, §8 invariant 3).
func (n *Node) MarkSynced(sessionID string, fileID int64) {
	n.mu.Lock()
	n.syncedMap[sessionID] = true
	n.lastFileID = fileID
	n.mu.Unlock()
	n.emit("SyncedMap", map[string]bool{sessionID: true})
	n.emit("LastFileID", fileID)
}

// MarkUnsynced flips a session to unsynced (a failed or unverified sync).
func (n *Node) MarkUnsynced(sessionID string) {
	n.mu.Lock()
	n.syncedMap[sessionID] = false
	n.mu.Unlock()
	n.emit("SyncedMap", map[string]bool{sessionID: false})
}

// LastFileID is the monotonic version tag of the last verified sync.
func (n *Node) LastFileID() int64 { n.mu.RLock(); defer n.mu.RUnlock(); return n.lastFileID }

// clearSyncedMap flips every session to unsynced. Invoked on disconnect
// (spec §3 invariant: "Any fresh disconnect clears every syncedMap entry
// to false") — deliberately NOT invoked on an explicit local Close, per
// the source behavior preserved in spec §9's open question.
func (n *Node) clearSyncedMap() {
	n.mu.Lock()
	for s := range n.syncedMap {
		n.syncedMap[s] = false
	}
	n.mu.Unlock()
	n.emit("SyncedMap", "cleared")
}

// AddAvailableVersion records that Prepare(v) or IsVersionAvailable(v)
// succeeded on the current connection. Grows monotonically within a
// connection; reset on reconnect.
func (n *Node) AddAvailableVersion(v string) {
	n.mu.Lock()
	n.availableVersions[v] = struct{}{}
	n.mu.Unlock()
	n.emit("AvailableVersions", v)
}

// HasAvailableVersion reports whether v was confirmed present on the
// current connection.
func (n *Node) HasAvailableVersion(v string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.availableVersions[v]
	return ok
}

// AvailableVersions returns a snapshot of confirmed versions.
func (n *Node) AvailableVersions() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.availableVersions))
	for v := range n.availableVersions {
		out = append(out, v)
	}
	return out
}

// resetAvailableVersions discards the per-connection version cache. Called
// by Recovery on every reconnect (spec §4.G).
func (n *Node) resetAvailableVersions() {
	n.mu.Lock()
	n.availableVersions = make(map[string]struct{})
	n.mu.Unlock()
	n.emit("AvailableVersions", "reset")
}

// ResetAvailableVersions is the exported form used by the recovery package.
func (n *Node) ResetAvailableVersions() { n.resetAvailableVersions() }

// Activity, ActivityProgress, Exception, LastStatus, CurrentTaskID,
// IsPrepared are the live-activity fields.
func (n *Node) Activity() string { n.mu.RLock(); defer n.mu.RUnlock(); return n.activity }
func (n *Node) SetActivity(a string) {
	n.mu.Lock()
	n.activity = a
	n.mu.Unlock()
	n.emit("Activity", a)
}

// IsIdle is the derived property: isIdle = activity is empty.
func (n *Node) IsIdle() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.activity == ""
}

func (n *Node) ActivityProgress() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.activityProgress
}
func (n *Node) SetActivityProgress(p float64) {
	n.mu.Lock()
	n.activityProgress = p
	n.mu.Unlock()
	n.emit("ActivityProgress", p)
}

// HasActivityProgress is the derived property: activityProgress > 0.
func (n *Node) HasActivityProgress() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.activityProgress > 0
}

func (n *Node) Exception() string { n.mu.RLock(); defer n.mu.RUnlock(); return n.exception }
func (n *Node) SetException(e string) {
	n.mu.Lock()
	n.exception = e
	n.mu.Unlock()
	n.emit("Exception", e)
}

func (n *Node) LastStatus() string { n.mu.RLock(); defer n.mu.RUnlock(); return n.lastStatus }
func (n *Node) SetLastStatus(s string) {
	n.mu.Lock()
	n.lastStatus = s
	n.mu.Unlock()
	n.emit("LastStatus", s)
}

func (n *Node) CurrentTaskID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.currentTaskID
}

// BeginTask atomically claims currentTaskID, failing if one is already in
// flight (spec §8 invariant 1: at most one non-null currentTaskId).
func (n *Node) BeginTask(taskID string) error {
	n.mu.Lock()
	if n.currentTaskID != "" {
		existing := n.currentTaskID
		n.mu.Unlock()
		return fmt.Errorf("node: task %q already in flight", existing)
	}
	n.currentTaskID = taskID
	n.mu.Unlock()
	n.emit("CurrentTaskID", taskID)
	return nil
}

// EndTask clears currentTaskID unconditionally (called on every task exit
// path: success, error, or cancel).
func (n *Node) EndTask() {
	n.mu.Lock()
	n.currentTaskID = ""
	n.mu.Unlock()
	n.emit("CurrentTaskID", "")
}

func (n *Node) IsPrepared() bool { n.mu.RLock(); defer n.mu.RUnlock(); return n.isPrepared }
func (n *Node) SetIsPrepared(p bool) {
	n.mu.Lock()
	n.isPrepared = p
	n.mu.Unlock()
	n.emit("IsPrepared", p)
}

// Connected mirrors "Connection exists and transport open" (spec §3
// invariant). SetConnected(false) clears the synced map for every session.
func (n *Node) Connected() bool { n.mu.RLock(); defer n.mu.RUnlock(); return n.connected }
func (n *Node) SetConnected(c bool) {
	n.mu.Lock()
	wasConnected := n.connected
	n.connected = c
	n.mu.Unlock()
	n.emit("Connected", c)
	if wasConnected && !c {
		n.clearSyncedMap()
	}
}
