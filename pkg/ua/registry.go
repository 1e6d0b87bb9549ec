package ua

import (
	"slices"

	"github.com/samber/lo"
)

// registry отображение хэндл -> сущность.
// Не потокобезопасен: используется только из горутины обработки.
type registry[H ~uint64, E any] struct {
	kind  string
	items map[H]E
}

func newRegistry[H ~uint64, E any](kind string) *registry[H, E] {
	return &registry[H, E]{
		kind:  kind,
		items: make(map[H]E),
	}
}

func (r *registry[H, E]) Get(h H) (E, bool) {
	e, ok := r.items[h]
	return e, ok
}

func (r *registry[H, E]) Has(h H) bool {
	_, ok := r.items[h]
	return ok
}

func (r *registry[H, E]) Set(h H, e E) {
	r.items[h] = e
}

func (r *registry[H, E]) Delete(h H) {
	delete(r.items, h)
}

func (r *registry[H, E]) Len() int {
	return len(r.items)
}

// Handles возвращает хэндлы по возрастанию
func (r *registry[H, E]) Handles() []H {
	keys := lo.Keys(r.items)
	slices.Sort(keys)
	return keys
}

// First наименьший хэндл реестра
func (r *registry[H, E]) First() (H, bool) {
	if len(r.items) == 0 {
		var zero H
		return zero, false
	}
	return slices.Min(lo.Keys(r.items)), true
}

// Snapshot копия содержимого в порядке возрастания хэндлов.
// Итерировать нужно по снимку всякий раз, когда операция над элементом
// может изменить сам реестр.
func (r *registry[H, E]) Snapshot() []E {
	return lo.Map(r.Handles(), func(h H, _ int) E {
		return r.items[h]
	})
}
