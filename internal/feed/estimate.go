package feed

import (
	"strings"
	"sync"
)

// Heuristic height constants, in terminal rows.
const (
	separatorRows  = 1
	loaderRows     = 1
	headerRows     = 1
	reactionRows   = 1
	replyCountRows = 1

	// attachmentRowsStacked applies below narrowWidth; wide viewports lay
	// attachments out in a single row.
	attachmentRowsStacked = 2
	attachmentRowsInline  = 1
	narrowWidth           = 80

	// editingRows replaces the body estimate while a message is being
	// edited, so the edit control never gets underestimated.
	editingRows = 6

	defaultCharsPerRow = 72
)

// Context carries the per-view inputs of a height estimate.
type Context struct {
	ViewerID    string
	Width       int
	CharsPerRow int
	EditingID   string // item currently in edit mode, if any
}

func (c Context) charsPerRow() int {
	if c.CharsPerRow > 0 {
		return c.CharsPerRow
	}
	if c.Width > 8 {
		return c.Width - 4
	}
	return defaultCharsPerRow
}

// Estimator produces heuristic heights and records measured overrides in a
// side map keyed by item ID. The heuristic itself is never mutated; a
// measured value simply takes precedence until the item is forgotten.
type Estimator struct {
	mu       sync.Mutex
	measured map[string]int
}

func NewEstimator() *Estimator {
	return &Estimator{measured: make(map[string]int)}
}

// Estimate returns the current best height for the item: the measured
// value when one exists, otherwise the heuristic.
func (e *Estimator) Estimate(item Item, ctx Context) int {
	e.mu.Lock()
	if rows, ok := e.measured[item.ID]; ok {
		e.mu.Unlock()
		return rows
	}
	e.mu.Unlock()
	return Heuristic(item, ctx)
}

// SetMeasured records the true rendered height for an item.
func (e *Estimator) SetMeasured(id string, rows int) {
	if id == "" || rows <= 0 {
		return
	}
	e.mu.Lock()
	e.measured[id] = rows
	e.mu.Unlock()
}

// Forget drops the measured override for an unmounted/recycled item.
func (e *Estimator) Forget(id string) {
	e.mu.Lock()
	delete(e.measured, id)
	e.mu.Unlock()
}

// Reset discards all measurements; used when the view unmounts or the
// viewport width changes.
func (e *Estimator) Reset() {
	e.mu.Lock()
	e.measured = make(map[string]int)
	e.mu.Unlock()
}

// Heuristic seeds the windowing engine before real measurement exists.
func Heuristic(item Item, ctx Context) int {
	switch item.Kind {
	case ItemDateSeparator, ItemUnreadSeparator, ItemChannelStart:
		return separatorRows
	case ItemLoadOlder, ItemLoadNewer, ItemLoading:
		return loaderRows
	}

	msg := item.Message
	rows := bodyRows(msg.Body, ctx.charsPerRow())
	if ctx.EditingID != "" && ctx.EditingID == item.ID {
		rows = editingRows
	}
	if !item.Grouped && msg.UserID != ctx.ViewerID {
		rows += headerRows
	}
	if len(msg.Reactions) > 0 {
		rows += reactionRows
	}
	if msg.ReplyCount > 0 {
		rows += replyCountRows
	}
	if n := len(msg.Attachments); n > 0 {
		if ctx.Width > 0 && ctx.Width < narrowWidth {
			rows += n * attachmentRowsStacked
		} else {
			rows += attachmentRowsInline
		}
	}
	if rows < 1 {
		rows = 1
	}
	return rows
}

// bodyRows estimates wrapped text height: explicit line breaks plus a
// length-derived wrap count per line.
func bodyRows(body string, charsPerRow int) int {
	body = strings.TrimRight(body, "\n")
	if strings.TrimSpace(body) == "" {
		return 1
	}
	rows := 0
	for _, line := range strings.Split(body, "\n") {
		rows += 1 + len(line)/charsPerRow
	}
	return rows
}
