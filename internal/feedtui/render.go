package feedtui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mglns/feedview/internal/entity"
	"github.com/mglns/feedview/internal/feed"
)

var (
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	accentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	unreadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	systemStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	composeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	headerTimeFmt = "15:04"
)

var namePalette = []lipgloss.Style{
	lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true),
	lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Bold(true),
	lipgloss.NewStyle().Foreground(lipgloss.Color("176")).Bold(true),
	lipgloss.NewStyle().Foreground(lipgloss.Color("215")).Bold(true),
	lipgloss.NewStyle().Foreground(lipgloss.Color("147")).Bold(true),
	lipgloss.NewStyle().Foreground(lipgloss.Color("210")).Bold(true),
}

func nameStyle(userID string) lipgloss.Style {
	sum := 0
	for _, r := range userID {
		sum += int(r)
	}
	return namePalette[sum%len(namePalette)]
}

// View renders the items intersecting the viewport (plus overscan, which
// feeds the measurement cache) and slices the exact visible rows.
func (v *feedView) View() string {
	if v.width <= 0 || v.height <= 0 {
		return ""
	}

	contentH := v.height - 1 // reserve the footer row
	v.eng.SetViewport(contentH)

	start, end := v.eng.Visible()
	changed := false
	blocks := make([][]string, 0, end-start)
	for i := start; i < end; i++ {
		item := v.items[i]
		lines := v.renderItem(item)
		// Post-measurement correction: the true height takes precedence
		// over the heuristic from now on.
		if v.est.Estimate(item, v.estimateContext()) != len(lines) {
			v.est.SetMeasured(item.ID, len(lines))
			changed = true
		}
		blocks = append(blocks, lines)
	}
	if changed {
		v.eng.Remeasure()
	}

	all := make([]string, 0, contentH*2)
	for _, block := range blocks {
		all = append(all, block...)
	}

	firstOffset := 0
	if start < len(v.items) {
		if off, ok := v.eng.OffsetOf(v.items[start].ID); ok {
			firstOffset = off
		}
	}
	rel := clampInt(v.eng.ScrollTop()-firstOffset, 0, maxInt(0, len(all)-1))
	visible := all[rel:minInt(len(all), rel+contentH)]

	out := make([]string, 0, v.height)
	out = append(out, visible...)
	for len(out) < contentH {
		out = append(out, "")
	}
	out = append(out, v.renderFooter())
	return strings.Join(out, "\n")
}

func (v *feedView) renderItem(item feed.Item) []string {
	switch item.Kind {
	case feed.ItemDateSeparator:
		return []string{v.rule(item.Day.Format("Monday, January 2"), mutedStyle)}
	case feed.ItemUnreadSeparator:
		label := fmt.Sprintf("%d new messages", item.UnreadCount)
		if item.UnreadCount == 1 {
			label = "1 new message"
		}
		return []string{v.rule(label, unreadStyle)}
	case feed.ItemChannelStart:
		return []string{mutedStyle.Render("— beginning of channel —")}
	case feed.ItemLoadOlder:
		return []string{mutedStyle.Render("… loading older messages …")}
	case feed.ItemLoadNewer:
		return []string{mutedStyle.Render("… loading newer messages …")}
	case feed.ItemLoading:
		return []string{mutedStyle.Render("loading …")}
	}
	return v.renderMessage(item)
}

func (v *feedView) renderMessage(item feed.Item) []string {
	msg := item.Message
	lines := make([]string, 0, 4)

	if msg.IsSystem() {
		lines = append(lines, systemStyle.Render(truncateVis("· "+msg.Body, v.width)))
		return lines
	}

	own := msg.UserID == v.opts.ViewerID
	if !item.Grouped && !own {
		name := v.displayName(msg.UserID)
		head := nameStyle(msg.UserID).Render(name) + "  " + mutedStyle.Render(msg.CreateAt.Local().Format(headerTimeFmt))
		lines = append(lines, truncateVis(head, v.width))
	}

	body := msg.Body
	if !msg.EditAt.IsZero() {
		body += " (edited)"
	}
	bodyStyle := lipgloss.NewStyle()
	prefix := "  "
	switch {
	case msg.Failed:
		bodyStyle = failedStyle
		prefix = "! "
	case msg.Pending:
		bodyStyle = pendingStyle
	case own:
		prefix = "> "
	}
	for _, line := range wrapText(body, maxInt(8, v.width-len(prefix))) {
		lines = append(lines, bodyStyle.Render(truncateVis(prefix+line, v.width)))
	}

	if len(msg.Reactions) > 0 {
		lines = append(lines, mutedStyle.Render(truncateVis("  "+reactionSummary(msg.Reactions), v.width)))
	}
	if msg.ReplyCount > 0 {
		lines = append(lines, accentStyle.Render(fmt.Sprintf("  ↪ %d replies", msg.ReplyCount)))
	}
	for _, att := range msg.Attachments {
		lines = append(lines, mutedStyle.Render(truncateVis("  📎 "+att.Name, v.width)))
	}
	return lines
}

func (v *feedView) renderFooter() string {
	if v.composeActive {
		return composeStyle.Render(truncateVis("> "+v.composeInput+"▌", v.width))
	}
	if v.lastErr != nil {
		return errorStyle.Render(truncateVis("fetch failed: "+v.lastErr.Error()+"  (r to retry)", v.width))
	}
	if names := v.merger.Typing(v.channelID, v.now()); len(names) > 0 {
		verb := "is typing…"
		if len(names) > 1 {
			verb = "are typing…"
		}
		return mutedStyle.Render(truncateVis(strings.Join(names, ", ")+" "+verb, v.width))
	}
	return mutedStyle.Render(truncateVis("j/k scroll  u unread  G newest  i compose", v.width))
}

func (v *feedView) displayName(userID string) string {
	if v.resolve != nil {
		if name := strings.TrimSpace(v.resolve(userID)); name != "" {
			return name
		}
	}
	return userID
}

func (v *feedView) rule(label string, style lipgloss.Style) string {
	label = " " + label + " "
	pad := (v.width - lipgloss.Width(label)) / 2
	if pad < 2 {
		pad = 2
	}
	side := strings.Repeat("─", pad)
	return style.Render(truncateVis(side+label+side, v.width))
}

func reactionSummary(reactions []entity.Reaction) string {
	counts := make(map[string]int)
	order := make([]string, 0, len(reactions))
	for _, r := range reactions {
		if counts[r.EmojiName] == 0 {
			order = append(order, r.EmojiName)
		}
		counts[r.EmojiName]++
	}
	parts := make([]string, 0, len(order))
	for _, emoji := range order {
		parts = append(parts, fmt.Sprintf(":%s: %d", emoji, counts[emoji]))
	}
	return strings.Join(parts, "  ")
}

// wrapText splits text on explicit newlines and wraps each line to width.
func wrapText(text string, width int) []string {
	text = strings.TrimRight(text, "\n")
	if strings.TrimSpace(text) == "" {
		return []string{""}
	}
	out := make([]string, 0, 4)
	for _, line := range strings.Split(text, "\n") {
		runes := []rune(line)
		if len(runes) == 0 {
			out = append(out, "")
			continue
		}
		for len(runes) > width {
			out = append(out, string(runes[:width]))
			runes = runes[width:]
		}
		out = append(out, string(runes))
	}
	return out
}

func truncateVis(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:maxInt(0, width-1)]) + "…"
}
