// Package window maintains the visible slice of the render-item sequence:
// per-item offsets, total extent, scroll position and the anchor protocol
// that keeps content visually stationary across head mutations.
package window

import "sort"

// DefaultOverscan is deliberately generous: message heights vary a lot and
// under-provisioning blanks the viewport during fast scroll.
const DefaultOverscan = 100

// HeightSource yields the current best height for an item key. The engine
// never caches heights itself; measured corrections land in the source and
// a Remeasure call recomputes offsets.
type HeightSource interface {
	Height(key string) int
}

// Anchor is the capture-phase record of the two-phase scroll correction.
type Anchor struct {
	Key string
	Top int // offset relative to the viewport top at capture time
}

type Engine struct {
	heights  HeightSource
	keys     []string
	offsets  []int // offsets[i] = top of item i; offsets[len(keys)] = extent
	viewport int
	overscan int
	scroll   int
}

func New(heights HeightSource, viewport, overscan int) *Engine {
	if overscan <= 0 {
		overscan = DefaultOverscan
	}
	return &Engine{
		heights:  heights,
		viewport: viewport,
		overscan: overscan,
		offsets:  []int{0},
	}
}

// SetItems replaces the key sequence and recomputes offsets. Keys are
// stable item IDs, so head insertions leave existing measurements alone.
func (e *Engine) SetItems(keys []string) {
	e.keys = append(e.keys[:0], keys...)
	e.recompute()
}

func (e *Engine) SetViewport(rows int) {
	if rows < 0 {
		rows = 0
	}
	e.viewport = rows
	e.clampScroll()
}

// Remeasure recomputes offsets after the height source changed.
func (e *Engine) Remeasure() {
	e.recompute()
}

func (e *Engine) recompute() {
	if cap(e.offsets) < len(e.keys)+1 {
		e.offsets = make([]int, len(e.keys)+1)
	}
	e.offsets = e.offsets[:len(e.keys)+1]
	e.offsets[0] = 0
	for i, key := range e.keys {
		h := e.heights.Height(key)
		if h < 1 {
			h = 1
		}
		e.offsets[i+1] = e.offsets[i] + h
	}
	e.clampScroll()
}

func (e *Engine) Len() int      { return len(e.keys) }
func (e *Engine) Extent() int   { return e.offsets[len(e.keys)] }
func (e *Engine) Viewport() int { return e.viewport }

// OffsetOf returns the top offset of the item with the given key.
func (e *Engine) OffsetOf(key string) (int, bool) {
	for i, k := range e.keys {
		if k == key {
			return e.offsets[i], true
		}
	}
	return 0, false
}

func (e *Engine) ScrollTop() int { return e.scroll }

func (e *Engine) SetScrollTop(offset int) {
	e.scroll = offset
	e.clampScroll()
}

func (e *Engine) ScrollBy(delta int) {
	e.SetScrollTop(e.scroll + delta)
}

// ScrollToBottom pins the viewport to the newest content.
func (e *Engine) ScrollToBottom() {
	e.SetScrollTop(e.Extent())
}

// AtBottom reports whether the viewport shows the end of the sequence.
func (e *Engine) AtBottom() bool {
	return e.scroll >= e.Extent()-e.viewport
}

func (e *Engine) clampScroll() {
	max := e.Extent() - e.viewport
	if max < 0 {
		max = 0
	}
	if e.scroll > max {
		e.scroll = max
	}
	if e.scroll < 0 {
		e.scroll = 0
	}
}

// indexAt returns the index of the item covering the given offset.
func (e *Engine) indexAt(offset int) int {
	if len(e.keys) == 0 {
		return 0
	}
	// First item whose bottom edge lies beyond the offset.
	i := sort.Search(len(e.keys), func(i int) bool { return e.offsets[i+1] > offset })
	if i >= len(e.keys) {
		i = len(e.keys) - 1
	}
	return i
}

// Visible returns the half-open index range intersecting the viewport,
// padded by the overscan on both sides.
func (e *Engine) Visible() (int, int) {
	if len(e.keys) == 0 || e.viewport <= 0 {
		return 0, 0
	}
	start, end := e.viewportRange()
	start -= e.overscan
	end += e.overscan
	if start < 0 {
		start = 0
	}
	if end > len(e.keys) {
		end = len(e.keys)
	}
	return start, end
}

// viewportRange is the raw intersecting range, without overscan.
func (e *Engine) viewportRange() (int, int) {
	start := e.indexAt(e.scroll)
	end := e.indexAt(e.scroll+e.viewport-1) + 1
	return start, end
}

// CaptureAnchor picks a visible item to hold stationary across a content
// mutation. The very first visible item may be partially obscured, so the
// second one is preferred when it exists.
func (e *Engine) CaptureAnchor() (Anchor, bool) {
	if len(e.keys) == 0 || e.viewport <= 0 {
		return Anchor{}, false
	}
	start, end := e.viewportRange()
	if start >= end {
		return Anchor{}, false
	}
	idx := start
	if end-start > 1 {
		idx = start + 1
	}
	return Anchor{Key: e.keys[idx], Top: e.offsets[idx] - e.scroll}, true
}

// RestoreAnchor is the correction phase: relocate the anchor in the new
// sequence and shift the scroll so its viewport-relative top is unchanged.
// A missing anchor skips correction; that is an accepted edge, not an error.
func (e *Engine) RestoreAnchor(a Anchor) bool {
	off, ok := e.OffsetOf(a.Key)
	if !ok {
		return false
	}
	e.SetScrollTop(off - a.Top)
	return true
}

// ScrollToKey places the item's top at the given fraction of the viewport.
// Used for directed jumps like "scroll to unread".
func (e *Engine) ScrollToKey(key string, fraction float64) bool {
	off, ok := e.OffsetOf(key)
	if !ok {
		return false
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	e.SetScrollTop(off - int(fraction*float64(e.viewport)))
	return true
}
