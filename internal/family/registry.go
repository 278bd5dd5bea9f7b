package family

import (
	"context"
	"fmt"

	"github.com/DRSN-tech/visual-search/pkg/e"
)

// Registry сопоставляет тег метода поиска с семейством.
type Registry struct {
	families map[string]*Family
	order    []string
	def      string
}

// NewRegistry регистрирует семейства. def — метод по умолчанию, должен быть среди них.
func NewRegistry(def string, families ...*Family) (*Registry, error) {
	r := &Registry{families: make(map[string]*Family, len(families)), def: def}
	for _, f := range families {
		if _, ok := r.families[f.Method()]; ok {
			return nil, fmt.Errorf("%w: method %s registered twice", e.ErrInvalidArgument, f.Method())
		}
		r.families[f.Method()] = f
		r.order = append(r.order, f.Method())
	}
	if _, ok := r.families[def]; !ok {
		return nil, fmt.Errorf("%w: default method %q is not configured", e.ErrInvalidArgument, def)
	}
	return r, nil
}

// Get возвращает семейство по тегу; пустой тег означает метод по умолчанию.
func (r *Registry) Get(method string) (*Family, error) {
	if method == "" {
		method = r.def
	}
	f, ok := r.families[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", e.ErrUnknownMethod, method)
	}
	return f, nil
}

func (r *Registry) Default() string {
	return r.def
}

// All возвращает семейства в порядке регистрации.
func (r *Registry) All() []*Family {
	out := make([]*Family, 0, len(r.order))
	for _, m := range r.order {
		out = append(out, r.families[m])
	}
	return out
}

// RecoverAll восстанавливает все семейства из снимков. Первая ошибка прерывает запуск.
func (r *Registry) RecoverAll(ctx context.Context) error {
	for _, f := range r.All() {
		if _, err := f.Recover(ctx); err != nil {
			return err
		}
	}
	return nil
}
