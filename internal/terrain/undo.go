package terrain

import "sync"

// historyEntry — пара снапшотов (правки + текстуры) одного состояния мира.
type historyEntry struct {
	mods *LayerSnapshot
	tex  *TextureSnapshot
}

func (e historyEntry) release() {
	if e.mods != nil {
		e.mods.Release()
	}
	if e.tex != nil {
		e.tex.Release()
	}
}

// UndoHistory — ограниченные стеки прошлого и будущего над слоями правок.
// Каждая запись хранит снапшоты состояния до очередного коммита кисти.
type UndoHistory struct {
	mods  *ModificationLayer
	tex   *TextureLayer
	limit int

	mu     sync.Mutex
	past   []historyEntry
	future []historyEntry
}

// NewUndoHistory создаёт историю с ограничением глубины. limit <= 0
// трактуется как глубина 1.
func NewUndoHistory(mods *ModificationLayer, tex *TextureLayer, limit int) *UndoHistory {
	if limit <= 0 {
		limit = 1
	}
	return &UndoHistory{mods: mods, tex: tex, limit: limit}
}

// RecordBefore снимает текущее состояние слоёв и кладёт его в стек прошлого.
// Вызывается перед коммитом правки. Стек будущего при этом очищается:
// новая правка делает прежние redo-состояния недостижимыми.
func (h *UndoHistory) RecordBefore() {
	entry := historyEntry{mods: h.mods.Snapshot(), tex: h.tex.Snapshot()}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range h.future {
		e.release()
	}
	h.future = h.future[:0]

	h.past = append(h.past, entry)
	if len(h.past) > h.limit {
		h.past[0].release()
		h.past = h.past[1:]
	}
}

// Undo откатывает слои к предыдущему записанному состоянию.
// Возвращает false, если откатывать нечего.
func (h *UndoHistory) Undo() bool {
	h.mu.Lock()
	if len(h.past) == 0 {
		h.mu.Unlock()
		return false
	}
	entry := h.past[len(h.past)-1]
	h.past = h.past[:len(h.past)-1]
	h.mu.Unlock()

	// Текущее состояние уходит в стек будущего для redo.
	current := historyEntry{mods: h.mods.Snapshot(), tex: h.tex.Snapshot()}

	h.mods.Restore(entry.mods)
	h.tex.Restore(entry.tex)
	entry.release()

	h.mu.Lock()
	h.future = append(h.future, current)
	h.mu.Unlock()
	return true
}

// Redo возвращает слои к состоянию, отменённому последним Undo.
func (h *UndoHistory) Redo() bool {
	h.mu.Lock()
	if len(h.future) == 0 {
		h.mu.Unlock()
		return false
	}
	entry := h.future[len(h.future)-1]
	h.future = h.future[:len(h.future)-1]
	h.mu.Unlock()

	current := historyEntry{mods: h.mods.Snapshot(), tex: h.tex.Snapshot()}

	h.mods.Restore(entry.mods)
	h.tex.Restore(entry.tex)
	entry.release()

	h.mu.Lock()
	h.past = append(h.past, current)
	if len(h.past) > h.limit {
		h.past[0].release()
		h.past = h.past[1:]
	}
	h.mu.Unlock()
	return true
}

// Depth возвращает глубину стеков прошлого и будущего.
func (h *UndoHistory) Depth() (past, future int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.past), len(h.future)
}

// Clear освобождает обе истории.
func (h *UndoHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.past {
		e.release()
	}
	for _, e := range h.future {
		e.release()
	}
	h.past = h.past[:0]
	h.future = h.future[:0]
}
