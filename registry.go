package lightnvm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/hashicorp/go-multierror"
)

// SimPrefix marks paths served by the simulated backend
const SimPrefix = "sim:"

type registration struct {
	id   BackendID
	name string
	open Opener
}

// Registry maps backend identifiers to openers
type Registry struct {
	mu      sync.RWMutex
	entries map[BackendID]registration
}

var _ Registrar = (*Registry)(nil)

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[BackendID]registration)}
}

// Register adds a backend. BeAny cannot be registered and an identifier can
// only be registered once.
func (r *Registry) Register(id int, name string, open Opener) error {
	bid := BackendID(id)
	if bid == BeAny || open == nil {
		return NewError("register", ErrCodeInvalidArgument, fmt.Sprintf("cannot register %s", bid))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[bid]; ok {
		return NewErrorWithErrno("register", ErrCodeDeviceBusy, syscall.EEXIST)
	}
	r.entries[bid] = registration{id: bid, name: name, open: open}
	return nil
}

// IDs returns the registered identifiers in ascending order
func (r *Registry) IDs() []BackendID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]BackendID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Name returns the registered name of id
func (r *Registry) Name(id BackendID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[id]; ok {
		return e.name
	}
	return id.String()
}

// Open opens path with the backend id. With BeAny the backends are tried in
// ascending identifier order, except that paths carrying SimPrefix only go to
// BeSim. It returns the backend and the identifier that opened it.
func (r *Registry) Open(path string, id BackendID, flags int) (Backend, BackendID, error) {
	if id != BeAny {
		r.mu.RLock()
		e, ok := r.entries[id]
		r.mu.RUnlock()
		if !ok {
			return nil, id, NewError("open", ErrCodeNotSupported, fmt.Sprintf("backend %s not registered", id))
		}
		be, err := e.open(path, flags)
		if err != nil {
			return nil, id, WrapError("open", fmt.Errorf("%s: %w", e.name, err))
		}
		return be, id, nil
	}

	candidates := r.IDs()
	if strings.HasPrefix(path, SimPrefix) {
		candidates = []BackendID{BeSim}
	}

	var errs *multierror.Error
	for _, cid := range candidates {
		r.mu.RLock()
		e, ok := r.entries[cid]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		be, err := e.open(path, flags)
		if err == nil {
			return be, cid, nil
		}
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", e.name, err))
	}

	e := NewError("open", ErrCodeDeviceNotFound, fmt.Sprintf("no backend could open %q", path))
	e.Errno = syscall.ENODEV
	if errs != nil {
		e.Inner = errs.ErrorOrNil()
	}
	return nil, BeAny, e
}
