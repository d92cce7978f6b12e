package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jumboxerox/opsconsole/internal/debounce"
	"github.com/jumboxerox/opsconsole/internal/model"
)

const (
	chartHeight = 5
	minWidth    = 60
)

type column struct {
	title string
	width int
}

var columns = []column{
	{"ORDER", 8},
	{"CUSTOMER", 22},
	{"PAYMENT", 10},
	{"AGE", 6},
	{"FILES", 6},
	{"ACTION", 12},
}

// View renders the page.
func (p *CleanupPage) View(width, height int) string {
	if width <= 0 || height <= 0 {
		return "Initializing cleanup console..."
	}
	width = max(width, minWidth)

	snap := p.list.Snapshot()
	now := p.cfg.Clock.Now()

	header := p.renderHeader(snap.Page, width)
	chart := renderAgeChart(snap.Page.Orders, now, min(width-2, 48), chartHeight)
	searchLine := p.renderSearch()
	status := p.renderStatusLine(snap.Page, width)
	toastLine := p.renderToast()

	used := lipgloss.Height(header) + lipgloss.Height(searchLine) + lipgloss.Height(status) + 2
	if chart != "" {
		used += lipgloss.Height(chart)
	}
	tableHeight := max(3, height-used)

	var table string
	switch {
	case p.loading && !snap.Loaded:
		table = renderLoadingPlaceholder(width, tableHeight)
	case len(snap.Page.Orders) == 0:
		table = lipgloss.Place(width, tableHeight, lipgloss.Center, lipgloss.Center,
			helpStyle.Render("No orders found"))
	default:
		table = p.renderTable(snap.Page.Orders, now, tableHeight)
	}

	parts := []string{header}
	if chart != "" {
		parts = append(parts, chart)
	}
	parts = append(parts, searchLine, table, toastLine, status)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (p *CleanupPage) renderHeader(page model.OrderPage, width int) string {
	title := titleStyle.Render("Storage Cleanup")
	count := fmt.Sprintf(" %d orders eligible", page.TotalOrders)
	if pending := p.registry.Snapshot(); len(pending) > 0 {
		next := pending[0]
		for _, c := range pending[1:] {
			if c.Remaining < next.Remaining {
				next = c
			}
		}
		count += stopStyle.Render(fmt.Sprintf("  %d pending, next in %ds", len(pending), next.Remaining))
	}
	if p.loading {
		count += helpStyle.Render("  refreshing…")
	}
	return lipgloss.NewStyle().Width(width).Render(title + count)
}

func (p *CleanupPage) renderSearch() string {
	pending := p.debouncer.State() == debounce.Pending
	if p.searching {
		if pending {
			return p.search.View() + helpStyle.Render("  searching…")
		}
		return p.search.View()
	}
	if pending {
		return helpStyle.Render("searching for " + p.debouncer.Pending() + "…")
	}
	if v := p.search.Value(); v != "" {
		return helpStyle.Render("search: " + v)
	}
	return helpStyle.Render("press / to search")
}

func (p *CleanupPage) renderTable(orders []model.Order, now time.Time, height int) string {
	var b strings.Builder

	cells := make([]string, len(columns))
	for i, c := range columns {
		cells[i] = headerCellStyle.Width(c.width).Render(c.title)
	}
	b.WriteString("  " + strings.Join(cells, " "))

	// Keep the cursor row visible when the page is taller than the screen.
	rows := max(1, height-1)
	start := 0
	if p.cursor >= rows {
		start = p.cursor - rows + 1
	}
	end := min(len(orders), start+rows)

	for i := start; i < end; i++ {
		o := orders[i]
		b.WriteString("\n")

		age := fmt.Sprintf("%dd", o.AgeDays(now))
		ageStyle := freshStyle
		if o.IsStale(now, p.cfg.StaleAfter) {
			ageStyle = staleStyle
		}

		row := []string{
			lipgloss.NewStyle().Width(columns[0].width).Render(o.ShortID()),
			lipgloss.NewStyle().Width(columns[1].width).Render(truncate(o.CustomerName(), columns[1].width)),
			lipgloss.NewStyle().Width(columns[2].width).Render(truncate(o.PaymentStatus, columns[2].width)),
			ageStyle.Width(columns[3].width).Render(age),
			lipgloss.NewStyle().Width(columns[4].width).Render(fmt.Sprintf("%d", o.FileCount())),
			p.renderAction(o),
		}

		marker := "  "
		line := strings.Join(row, " ")
		if i == p.cursor {
			marker = "> "
			line = selectedRowStyle.Render(line)
		}
		b.WriteString(marker + line)
	}
	return b.String()
}

// actionLabel is the text of the action column for o.
func (p *CleanupPage) actionLabel(o model.Order) string {
	if o.FilesDeleted {
		return "Deleted"
	}
	if p.registry.InFlight(o.ID) {
		return "Deleting…"
	}
	if secs, ok := p.registry.Remaining(o.ID); ok {
		return fmt.Sprintf("STOP (%ds)", secs)
	}
	return "Delete"
}

func (p *CleanupPage) renderAction(o model.Order) string {
	label := p.actionLabel(o)
	style := deleteStyle
	switch {
	case o.FilesDeleted:
		style = deletedStyle
	case strings.HasPrefix(label, "STOP"), strings.HasPrefix(label, "Deleting"):
		style = stopStyle
	}
	return style.Width(columns[5].width).Render(label)
}

func (p *CleanupPage) renderToast() string {
	if p.toast == nil {
		return ""
	}
	return toastStyles[p.toast.kind].Render(p.toast.text)
}

// renderStatusLine renders the page indicator and key help at the bottom.
func (p *CleanupPage) renderStatusLine(page model.OrderPage, width int) string {
	q := p.list.Query()
	left := fmt.Sprintf(" Page %d/%d ", q.Page, page.TotalPages)

	var help string
	switch {
	case p.searching:
		help = "Type to search • Enter/ESC: Done"
	case width < 80:
		help = "d: Delete • x: Stop • ?: Help • q: Quit"
	default:
		help = "↑↓: Select • d: Delete • x/u: Stop • D: Delete now • /: Search • ←→/home/end: Page • r: Refresh • ?: Help • q: Quit"
	}

	gap := max(1, width-lipgloss.Width(left)-lipgloss.Width(help)-1)
	return statusBarStyle.Width(width).Render(left + strings.Repeat(" ", gap) + help)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
