package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/contextbase/internal/client"
	"github.com/raphaelgruber/contextbase/internal/models"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// trackedItem is the last known state of one watched item.
type trackedItem struct {
	id       string
	source   string
	progress int
	message  string
}

func (it *trackedItem) terminal() bool {
	return it.progress == models.ProgressReady || it.progress == models.ProgressFailed
}

// tracker folds progress events into per-item state. With no items it
// follows every item seen on the stream and never finishes.
type tracker struct {
	order  []string
	items  map[string]*trackedItem
	follow bool
}

func newTracker(items []*models.ContentItem) *tracker {
	t := &tracker{items: make(map[string]*trackedItem), follow: len(items) == 0}
	for _, it := range items {
		t.add(it.ID, it.Source, it.Progress)
	}
	return t
}

func (t *tracker) add(id, source string, p int) *trackedItem {
	it := &trackedItem{id: id, source: source, progress: p}
	t.items[id] = it
	t.order = append(t.order, id)
	return it
}

// apply records ev and reports whether anything changed. Events never move
// an item backwards and nothing changes a finished item.
func (t *tracker) apply(ev models.ProgressEvent) bool {
	it, ok := t.items[ev.ItemID]
	if !ok {
		if !t.follow {
			return false
		}
		it = t.add(ev.ItemID, ev.Source, ev.Progress)
		it.message = ev.Message
		return true
	}
	if it.terminal() {
		return false
	}
	if ev.Progress != models.ProgressFailed && ev.Progress <= it.progress {
		return false
	}
	it.progress = ev.Progress
	if ev.Message != "" {
		it.message = ev.Message
	}
	if it.source == "" {
		it.source = ev.Source
	}
	return true
}

// reconcile overwrites an item's state with its stored progress.
func (t *tracker) reconcile(item *models.ContentItem) {
	it, ok := t.items[item.ID]
	if !ok || it.terminal() {
		return
	}
	if item.Progress == models.ProgressFailed || item.Progress > it.progress {
		it.progress = item.Progress
	}
}

// remove drops an item that no longer exists, counting it as failed.
func (t *tracker) remove(id string) {
	if it, ok := t.items[id]; ok && !it.terminal() {
		it.progress = models.ProgressFailed
		it.message = "item no longer exists"
	}
}

func (t *tracker) done() bool {
	if t.follow {
		return false
	}
	for _, it := range t.items {
		if !it.terminal() {
			return false
		}
	}
	return true
}

func (t *tracker) failed() int {
	n := 0
	for _, it := range t.items {
		if it.progress == models.ProgressFailed {
			n++
		}
	}
	return n
}

// eventMsg carries one streamed progress event.
type eventMsg models.ProgressEvent

// streamEndMsg reports that the stream closed.
type streamEndMsg struct{ err error }

// watchModel is the bubbletea model for item progress.
type watchModel struct {
	tracker  *tracker
	bar      progress.Model
	theme    Theme
	quitting bool
	err      error
}

func newWatchModel(t *tracker) watchModel {
	return watchModel{
		tracker: t,
		bar: progress.New(
			progress.WithDefaultBlend(),
			progress.WithWidth(30),
		),
		theme: defaultTheme,
	}
}

func (m watchModel) Init() tea.Cmd {
	if m.tracker.done() {
		return tea.Quit
	}
	return nil
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case eventMsg:
		m.tracker.apply(models.ProgressEvent(msg))
		if m.tracker.done() {
			return m, tea.Quit
		}

	case streamEndMsg:
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m watchModel) renderContent() string {
	var b strings.Builder
	for _, id := range m.tracker.order {
		it := m.tracker.items[id]
		b.WriteString(m.renderItem(it))
		b.WriteByte('\n')
	}
	switch {
	case m.err != nil:
		b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf("stream closed: %s", m.err)))
		b.WriteByte('\n')
	case m.quitting:
		b.WriteString(m.theme.hintStyle().Render("Ingestion continues in background. Use 'contextbase list' to check."))
		b.WriteByte('\n')
	case !m.tracker.done():
		b.WriteString(m.theme.hintStyle().Render("Press q to stop watching"))
		b.WriteByte('\n')
	}
	return b.String()
}

func (m watchModel) renderItem(it *trackedItem) string {
	label := it.source
	if label == "" {
		label = it.id
	}
	switch {
	case it.progress == models.ProgressFailed:
		line := m.theme.errorStyle().Render("✗ " + label)
		if it.message != "" {
			line += " " + it.message
		}
		return line
	case it.progress >= models.ProgressReady:
		return m.theme.completedStyle().Render("✓ " + label)
	default:
		status := m.theme.statusStyle().Render(fmt.Sprintf("[%3d%%]", it.progress))
		return fmt.Sprintf("%s %s %s", status, m.bar.ViewAs(float64(it.progress)/100), label)
	}
}

// printEvent writes one event as a plain line for non-interactive output.
func printEvent(w io.Writer, ev models.ProgressEvent) {
	label := ev.Source
	if label == "" {
		label = ev.ItemID
	}
	line := fmt.Sprintf("%s %5s %s", ev.ItemID, progressLabel(ev.Progress), label)
	if ev.Message != "" {
		line += ": " + ev.Message
	}
	fmt.Fprintln(w, line)
}

var watchCmd = &cobra.Command{
	Use:   "watch [item-id]...",
	Short: "Follow ingestion progress",
	Long: `Follow progress events on the tenant's room, or on --room.

With item ids, exits once every item is ready or failed. Without, shows
every item reported on the room until interrupted. Output is a live
display on a terminal and one line per event otherwise.

Examples:
  contextbase watch -t acme
  contextbase watch -t acme 3f0c... 9a1b...
  contextbase watch -t acme --room user-7 | tee progress.log`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	tenant, err := requireTenant()
	if err != nil {
		return err
	}
	items := make([]*models.ContentItem, 0, len(args))
	for _, id := range args {
		items = append(items, &models.ContentItem{ID: id})
	}
	return watchItems(cmd, tenant, items)
}

// watchItems follows items on the progress room until they finish, or
// follows the whole room when items is empty.
func watchItems(cmd *cobra.Command, tenant string, items []*models.ContentItem) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	stream, err := apiClient.OpenStream(ctx, progressRoom())
	if err != nil {
		return err
	}
	defer stream.Close()

	t := newTracker(items)
	// Events before the subscription are gone; the stored progress covers them.
	for _, it := range items {
		stored, err := apiClient.GetItem(ctx, tenant, it.ID)
		switch {
		case errors.Is(err, client.ErrNotFound):
			t.remove(it.ID)
		case err != nil:
			return fmt.Errorf("get item %s: %w", it.ID, err)
		default:
			if it.Source == "" {
				t.items[it.ID].source = stored.Source
			}
			t.reconcile(stored)
		}
	}

	out := cmd.OutOrStdout()
	if isTerminal(out) {
		err = runInteractive(ctx, stream, t, out)
	} else {
		err = runPlain(ctx, stream, t, out)
	}
	if err != nil {
		return err
	}
	if n := t.failed(); n > 0 {
		return fmt.Errorf("%d of %d items failed", n, len(t.items))
	}
	return nil
}

func runInteractive(ctx context.Context, stream *client.Stream, t *tracker, out io.Writer) error {
	p := tea.NewProgram(newWatchModel(t), tea.WithOutput(out), tea.WithContext(ctx))

	go func() {
		for {
			ev, err := stream.Next()
			if err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					err = nil
				}
				p.Send(streamEndMsg{err: err})
				return
			}
			p.Send(eventMsg(ev))
		}
	}()

	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := final.(watchModel); ok && m.err != nil {
		return m.err
	}
	return nil
}

func runPlain(ctx context.Context, stream *client.Stream, t *tracker, out io.Writer) error {
	for _, id := range t.order {
		it := t.items[id]
		printEvent(out, models.ProgressEvent{ItemID: it.id, Source: it.source, Progress: it.progress, Message: it.message})
	}

	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	for !t.done() {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if t.apply(ev) {
			printEvent(out, ev)
		}
	}
	return nil
}
