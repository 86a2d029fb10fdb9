package measurement

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/admission"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/audit"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/tpm"
)

// Audit causes.
const (
	CauseHashAdded         = "hash_added"
	CauseHashExists        = "hash_exists"
	CauseENOMEM            = "ENOMEM"
	CauseAdmissionTimeout  = "admission_timeout"
	CauseAdmissionCanceled = "admission_canceled"
	CauseAdmissionOverflow = "admission_overflow"
	CauseNamespaceInactive = "ns_inactive"
	CauseInvalidEntry      = "invalid_entry"
)

// DefaultOp is the audit operation tag of an admission with no op or hook.
const DefaultOp = "add_template_measure"

// Config tunes an Engine. The zero value is usable.
type Config struct {
	HashBuckets    int
	DisableIndex   bool
	MaxEntries     uint64 // per namespace; 0 is unlimited
	IndexAlgorithm tpm.Algorithm
	GateCapacity   int
	GateTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.HashBuckets <= 0 {
		c.HashBuckets = DefaultHashBuckets
	}
	if c.IndexAlgorithm == "" {
		c.IndexAlgorithm = tpm.SHA256
	}
	return c
}

// Request is one admission of an entry into one namespace.
type Request struct {
	Entry     *Entry
	Violation bool
	Op        string
	Hook      Hook
	Subject   string
	// Ticket makes the admission wait for its turn at the admission gate.
	// The root namespace's admission advances the gate when it completes.
	Ticket *admission.Ticket
}

func (r *Request) op() string {
	switch {
	case r.Op != "":
		return r.Op
	case r.Hook != HookNone:
		return r.Hook.MeasureString()
	}
	return DefaultOp
}

// Admission is the outcome of one namespace's admission inside Measure.
type Admission struct {
	Namespace int
	Position  uint64
	Err       error
}

// LifecycleEvent reports a namespace state change.
type LifecycleEvent struct {
	Namespace int
	State     State
}

// Engine owns every namespace and serialises their admissions.
type Engine struct {
	cfg      Config
	extender *tpm.Extender
	gate     *admission.Gate
	sink     audit.Sink
	logger   *zap.Logger

	mu         sync.RWMutex
	namespaces map[int]*Namespace
	nextID     int
	observers  []func(LifecycleEvent)
}

// NewEngine creates an Engine holding only the root namespace. ext may have
// no device; sink may be nil.
func NewEngine(cfg Config, ext *tpm.Extender, sink audit.Sink, logger *zap.Logger) *Engine {
	cfg = cfg.withDefaults()
	if ext == nil {
		ext = tpm.NewExtender(nil, logger)
	}
	if sink == nil {
		sink = audit.Multi{}
	}
	e := &Engine{
		cfg:        cfg,
		extender:   ext,
		gate:       admission.New(cfg.GateCapacity, cfg.GateTimeout),
		sink:       sink,
		logger:     logger,
		namespaces: make(map[int]*Namespace),
		nextID:     RootID + 1,
	}
	root := newNamespace(RootID, nil, cfg)
	root.state.Store(int32(StateActive))
	e.namespaces[RootID] = root
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Gate returns the admission gate.
func (e *Engine) Gate() *admission.Gate { return e.gate }

// Extender returns the trust-anchor extender.
func (e *Engine) Extender() *tpm.Extender { return e.extender }

// Algorithms returns the digest algorithms entries should carry: sha1, the
// index algorithm and every register bank.
func (e *Engine) Algorithms() []tpm.Algorithm {
	algs := []tpm.Algorithm{tpm.SHA1}
	for _, a := range append([]tpm.Algorithm{e.cfg.IndexAlgorithm}, e.extender.Banks()...) {
		if !slices.Contains(algs, a) {
			algs = append(algs, a)
		}
	}
	return algs
}

// OnLifecycle registers fn to be called after every namespace state change.
// fn is first called once for every live namespace.
func (e *Engine) OnLifecycle(fn func(LifecycleEvent)) {
	e.mu.Lock()
	e.observers = append(e.observers, fn)
	e.mu.Unlock()
	for _, ns := range e.Namespaces() {
		fn(LifecycleEvent{Namespace: ns.id, State: ns.State()})
	}
}

func (e *Engine) notify(ev LifecycleEvent) {
	e.mu.RLock()
	obs := slices.Clone(e.observers)
	e.mu.RUnlock()
	for _, fn := range obs {
		fn(ev)
	}
}

// CreateNamespace creates a child of parent in the created state.
func (e *Engine) CreateNamespace(parent int) (*Namespace, error) {
	e.mu.Lock()
	p, ok := e.namespaces[parent]
	if !ok {
		e.mu.Unlock()
		return nil, &Error{Code: CodeNamespaceNotFound, Namespace: parent, Cause: "parent not found"}
	}
	ns := newNamespace(e.nextID, p, e.cfg)
	e.nextID++
	e.namespaces[ns.id] = ns
	e.mu.Unlock()

	e.logger.Debug("namespace created", zap.Int("ns", ns.id), zap.Int("parent", parent))
	e.notify(LifecycleEvent{Namespace: ns.id, State: StateCreated})
	return ns, nil
}

// Activate makes a namespace admit and expose measurements.
func (e *Engine) Activate(id int) error {
	ns, err := e.lookup(id)
	if err != nil {
		return err
	}
	if !ns.state.CompareAndSwap(int32(StateCreated), int32(StateActive)) {
		return nil
	}
	e.logger.Debug("namespace activated", zap.Int("ns", id))
	e.notify(LifecycleEvent{Namespace: id, State: StateActive})
	return nil
}

// Teardown destroys a namespace with its log and index. The root cannot be
// torn down.
func (e *Engine) Teardown(id int) error {
	if id == RootID {
		return &Error{Code: CodeInvalidEntry, Namespace: id, Cause: "root namespace is permanent"}
	}
	e.mu.Lock()
	ns, ok := e.namespaces[id]
	if ok {
		delete(e.namespaces, id)
	}
	e.mu.Unlock()
	if !ok {
		return &Error{Code: CodeNamespaceNotFound, Namespace: id, Cause: "not found"}
	}

	// Wait out an admission in flight so it completes against a live log.
	ns.mu.Lock()
	ns.state.Store(int32(StateTornDown))
	ns.mu.Unlock()

	e.logger.Debug("namespace torn down", zap.Int("ns", id), zap.Uint64("entries", ns.Len()))
	e.notify(LifecycleEvent{Namespace: id, State: StateTornDown})
	return nil
}

// Namespace returns a live namespace in any state.
func (e *Engine) Namespace(id int) (*Namespace, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ns, ok := e.namespaces[id]
	return ns, ok
}

// Namespaces returns every live namespace ordered by id.
func (e *Engine) Namespaces() []*Namespace {
	e.mu.RLock()
	out := make([]*Namespace, 0, len(e.namespaces))
	for _, ns := range e.namespaces {
		out = append(out, ns)
	}
	e.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Namespace) int { return a.id - b.id })
	return out
}

// View returns a namespace whose log may be read: it must exist and be
// active.
func (e *Engine) View(id int) (*Namespace, error) {
	ns, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	if !ns.Active() {
		return nil, &Error{Code: CodeNamespaceInactive, Namespace: id, Cause: CauseNamespaceInactive}
	}
	return ns, nil
}

func (e *Engine) lookup(id int) (*Namespace, error) {
	ns, ok := e.Namespace(id)
	if !ok {
		return nil, &Error{Code: CodeNamespaceNotFound, Namespace: id, Cause: "not found"}
	}
	return ns, nil
}

// Append admits req.Entry into namespace nsID and returns its position.
//
// A duplicate (digest, pcr) is absorbed: the position of the existing entry
// is returned with a DuplicateDigest error. A hardware error still records
// the entry; its position is returned with a HardwareError. Every call emits
// exactly one audit record.
func (e *Engine) Append(ctx context.Context, nsID int, req *Request) (uint64, error) {
	pos, cause, err := e.admit(ctx, nsID, req)
	e.emit(ctx, nsID, req, cause, err)
	return pos, err
}

func (e *Engine) admit(ctx context.Context, nsID int, req *Request) (uint64, string, error) {
	fail := func(code ErrorCode, cause string, err error) (uint64, string, error) {
		return 0, cause, &Error{Code: code, Namespace: nsID, Cause: cause, Err: err}
	}

	if req.Entry == nil || req.Entry.Template == nil {
		return fail(CodeInvalidEntry, CauseInvalidEntry, nil)
	}
	ns, ok := e.Namespace(nsID)
	if !ok {
		return fail(CodeNamespaceNotFound, CauseNamespaceInactive, nil)
	}
	if !ns.Active() {
		return fail(CodeNamespaceInactive, CauseNamespaceInactive, nil)
	}

	if req.Ticket != nil {
		if err := e.gate.Await(ctx, *req.Ticket); err != nil {
			e.logger.Warn("admission did not reach its turn",
				zap.Int("ns", nsID),
				zap.Int("starting_ns", req.Ticket.ID),
				zap.Error(err),
			)
			if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
				return fail(CodeAdmissionCanceled, CauseAdmissionCanceled, err)
			}
			return fail(CodeAdmissionTimeout, CauseAdmissionTimeout, err)
		}
		if nsID == RootID {
			defer e.gate.Advance()
		}
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.State() == StateTornDown {
		return fail(CodeNamespaceNotFound, CauseNamespaceInactive, nil)
	}

	entry := req.Entry
	if req.Violation {
		ns.violations.Add(1)
	}
	if !req.Violation && ns.index != nil {
		if n := ns.index.lookup(ns.index.digestOf(entry), entry.PCR); n != nil {
			return n.pos, CauseHashExists, &Error{Code: CodeDuplicateDigest, Namespace: nsID, Cause: CauseHashExists}
		}
	}
	if e.cfg.MaxEntries > 0 && ns.log.Len() >= e.cfg.MaxEntries {
		return fail(CodeOutOfMemory, CauseENOMEM, fmt.Errorf("log holds %d entries", ns.log.Len()))
	}

	// Log before index so a Lookup hit is always reachable from Entries.
	n := &node{entry: entry}
	ns.log.append(n)
	if !req.Violation && ns.index != nil {
		ns.index.insert(n)
	}
	ns.addSize(entry)

	if err := e.extender.Extend(entry.PCR, entry.Digests, req.Violation); err != nil {
		code := tpm.RCFail
		var hw *tpm.HardwareError
		if errors.As(err, &hw) {
			code = hw.Code
		}
		cause := fmt.Sprintf("TPM_error(%d)", code)
		return n.pos, cause, &Error{Code: CodeHardwareError, Namespace: nsID, Cause: cause, Err: err}
	}

	e.logger.Debug("measurement stored",
		zap.Int("ns", nsID),
		zap.Uint64("pos", n.pos),
		zap.Int("pcr", entry.PCR),
		zap.String("template", entry.Name()),
		zap.Bool("violation", req.Violation),
	)
	return n.pos, CauseHashAdded, nil
}

func (e *Engine) emit(ctx context.Context, nsID int, req *Request, cause string, err error) {
	var (
		result int
		info   = true
		pcr    int
	)
	if req.Entry != nil {
		pcr = req.Entry.PCR
	}
	var me *Error
	if errors.As(err, &me) {
		switch me.Code {
		case CodeHardwareError:
			info = false
		case CodeDuplicateDigest:
			result = me.Errno()
		default:
			result = me.Errno()
			info = false
		}
	}
	rec := audit.NewRecord(nsID, req.Subject, req.op(), cause, pcr, result, info)
	if err := e.sink.Emit(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("audit sink failed", zap.Int("ns", nsID), zap.String("cause", cause), zap.Error(err))
	}
}

// Measure admits one event into namespace nsID and every ancestor up to the
// root, in that order, as one registration at the admission gate. The same
// entry is stored in every log.
//
// It fails up front with AdmissionOverflow when the gate is full, and stops
// with AdmissionTimeout when an admission does not reach its turn. Failures
// in an individual ancestor (torn down, inactive, duplicate, out of memory,
// hardware) are reported in its Admission and do not stop the walk.
func (e *Engine) Measure(ctx context.Context, nsID int, req Request) ([]Admission, error) {
	if req.Entry == nil || req.Entry.Template == nil {
		err := &Error{Code: CodeInvalidEntry, Namespace: nsID, Cause: CauseInvalidEntry}
		e.emit(ctx, nsID, &req, CauseInvalidEntry, err)
		return nil, err
	}
	start, err := e.View(nsID)
	if err != nil {
		e.emit(ctx, nsID, &req, CauseNamespaceInactive, err)
		return nil, err
	}

	ticket, err := e.gate.Register(nsID)
	if err != nil {
		me := &Error{Code: CodeAdmissionOverflow, Namespace: nsID, Cause: CauseAdmissionOverflow, Err: err}
		e.logger.Warn("admission gate full", zap.Int("ns", nsID), zap.Int("capacity", e.gate.Capacity()))
		e.emit(ctx, nsID, &req, CauseAdmissionOverflow, me)
		return nil, me
	}
	req.Ticket = &ticket

	var out []Admission
	for _, ns := range start.chain() {
		r := req
		pos, err := e.Append(ctx, ns.id, &r)
		out = append(out, Admission{Namespace: ns.id, Position: pos, Err: err})
		if IsTimeout(err) || IsCanceled(err) {
			e.gate.Withdraw(ticket)
			return out, err
		}
	}
	return out, nil
}
