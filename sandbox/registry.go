package sandbox

import (
	"context"
	"go.uber.org/multierr"
	"sort"
	"sync"
)

// Registry tracks live instances so that leftovers can be torn down on
// shutdown.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*Instance
}

func NewRegistry() *Registry {
	return &Registry{instances: map[string]*Instance{}}
}

func (r *Registry) Add(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID] = inst
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// List returns the live instances, oldest first.
func (r *Registry) List() []*Instance {
	r.mu.Lock()
	list := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		list = append(list, inst)
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// CloseAll tears down and forgets every live instance.
func (r *Registry) CloseAll(ctx context.Context, backend Backend) error {
	var err error
	for _, inst := range r.List() {
		err = multierr.Append(err, backend.Teardown(ctx, inst))
		r.Remove(inst.ID)
	}
	return err
}
