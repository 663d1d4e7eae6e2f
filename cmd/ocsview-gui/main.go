// Package main implements the OCS Configuration Visualizer desktop application.
package main

// OCS Configuration Visualizer (Desktop)
// --------------------------------------
// Features implemented in this version:
//   - Persistent YAML-backed GUI state (load on startup, save on exit & mutations)
//   - JSON/TOML/YAML configuration loading through file and folder dialogs
//   - Tabbed inspector with one tab per top-level section and help captions
//   - Case-insensitive search across field paths and values with jump-to-field
//   - Structural comparison of any two loaded files plus a merge-patch pane
//   - Per-field divergence heatmap over every pair of loaded files
//   - JSON report export (same payload as `ocsview inspect --output json`)
//   - Ring-buffer log capture with level filtering
//   - Sidebar navigation (Files, Inspector, Compare, Heatmap, Search, Logs, Settings)
//
// State Persistence:
//   Uses statepkg.LoadGUIState("") and statepkg.SaveGUIState(st, "").
//   Loaded documents are never persisted; every launch starts with an
//   empty document set. State mutations trigger a debounced save.
//
// Concurrency:
//   Loading, parsing, diffing and scoring all run synchronously inside
//   the UI event that requested them; configuration files are small
//   enough that none of this warrants a background worker. The only
//   state shared with other goroutines is the log ring buffer and the
//   save debounce timer.
//
// Build:
//   go build -o ocsview-gui ./cmd/ocsview-gui
//
// Run:
//   ./ocsview-gui

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	fapp "fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"

	"github.com/greg-hellings/ocsview/pkg/config"
	"github.com/greg-hellings/ocsview/pkg/diff"
	"github.com/greg-hellings/ocsview/pkg/document"
	"github.com/greg-hellings/ocsview/pkg/heatmap"
	"github.com/greg-hellings/ocsview/pkg/report"
	"github.com/greg-hellings/ocsview/pkg/search"
	statepkg "github.com/greg-hellings/ocsview/pkg/state"
	"github.com/greg-hellings/ocsview/pkg/tooltip"
)

// version override via -ldflags "-X main.version=..."
var version = "dev"

// maxRecentFiles caps the MRU list persisted in GUI state.
const maxRecentFiles = 10

// ----- Runtime Layer (Non-persisted fields) -----
//
// Theme handling:
// We persist the desired variant (auto|light|dark) in rt.state.GUI.Theme
// and store the preference using the app's Preferences under key
// "themeVariant". Fyne applies the variant; "auto" clears the override
// so the desktop setting wins.

// Runtime holds the live, never-persisted application state: the open
// document set, the search index derived from it, and the tooltip table
// in effect. It is touched only from the UI event loop, so it carries
// no locking.
type Runtime struct {
	state *statepkg.GUIState
	cfg   *config.Config

	// Loaded documents and projections derived from them
	set   *document.Set
	index *search.Index
	tips  tooltip.Table

	// Views register here to be re-rendered after mutations
	listeners []func()
}

// NewRuntime constructs a Runtime around the loaded GUI state and tool
// configuration, starting from an empty document set.
func NewRuntime(st *statepkg.GUIState, cfg *config.Config) *Runtime {
	rt := &Runtime{
		state: st,
		cfg:   cfg,
		set:   document.NewSet(),
	}
	rt.index = search.Build(rt.set)
	if err := rt.reloadTooltips(); err != nil {
		slog.Warn("Tooltip table unavailable, using built-ins", "error", err)
	}
	return rt
}

// tooltipPath resolves the override table location: the GUI state wins
// over the tool configuration.
func (rt *Runtime) tooltipPath() string {
	if rt.state.GUI.TooltipPath != "" {
		return rt.state.GUI.TooltipPath
	}
	return rt.cfg.Tooltips.Path
}

// reloadTooltips swaps the help-text table. A broken override file
// leaves the built-in table active and reports the error.
func (rt *Runtime) reloadTooltips() error {
	tips, err := tooltip.LoadWithBuiltin(rt.tooltipPath())
	if err != nil {
		rt.tips = tooltip.Builtin()
		return err
	}
	rt.tips = tips
	return nil
}

// onChange registers a callback run after the document set or tooltip
// table changes. Callbacks run on the UI event loop.
func (rt *Runtime) onChange(fn func()) {
	rt.listeners = append(rt.listeners, fn)
}

// notify re-renders every registered view.
func (rt *Runtime) notify() {
	for _, fn := range rt.listeners {
		fn()
	}
}

// documentsChanged rebuilds the search index and re-renders every view
// after the document set mutates.
func (rt *Runtime) documentsChanged() {
	rt.index = search.Build(rt.set)
	rt.notify()
}

// LogEntry is a structured log record captured in the in-memory ring buffer for GUI display.
// It preserves timestamp, level, message, and any structured attributes emitted with the original slog record.
type LogEntry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   []slog.Attr
}

// RingLogHandler implements slog.Handler and captures recent log entries in a
// bounded ring buffer for GUI inspection while delegating to an underlying
// handler (next). It is safe for concurrent use.
type RingLogHandler struct {
	next     slog.Handler
	capacity int

	mu    sync.RWMutex
	logs  []LogEntry
	level slog.Level
}

// NewRingLogHandler constructs a RingLogHandler that records up to 'capacity' log entries at or above the provided 'level' while forwarding all records to the wrapped 'next' handler. A non-positive capacity falls back to 5000.
func NewRingLogHandler(next slog.Handler, capacity int, level slog.Level) *RingLogHandler {
	if capacity <= 0 {
		capacity = 5000
	}
	return &RingLogHandler{
		next:     next,
		capacity: capacity,
		logs:     make([]LogEntry, 0, capacity),
		level:    level,
	}
}

// Enabled reports whether a log of the given level should be processed (captured + forwarded). Only levels >= handler level are retained.
func (h *RingLogHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	h.mu.RLock()
	min := h.level
	h.mu.RUnlock()
	return lvl >= min && h.next.Enabled(ctx, lvl)
}

// Handle records the log entry in the ring buffer if its level meets the threshold, while always delegating to the wrapped handler.
func (h *RingLogHandler) Handle(ctx context.Context, rec slog.Record) error {
	_ = h.next.Handle(ctx, rec)

	h.mu.Lock()
	defer h.mu.Unlock()
	if rec.Level < h.level {
		return nil
	}

	entry := LogEntry{
		Time:    rec.Time,
		Level:   rec.Level,
		Message: rec.Message,
	}
	rec.Attrs(func(a slog.Attr) bool {
		entry.Attrs = append(entry.Attrs, a)
		return true
	})

	if len(h.logs) == h.capacity {
		// Drop oldest to maintain bounded size.
		copy(h.logs[0:], h.logs[1:])
		h.logs = h.logs[:h.capacity-1]
	}
	h.logs = append(h.logs, entry)
	return nil
}

// SetLevel adjusts the capture threshold at runtime. The wrapped
// handler keeps its own threshold; main shares a LevelVar with it.
func (h *RingLogHandler) SetLevel(level slog.Level) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = level
}

// WithAttrs returns a new RingLogHandler wrapping the underlying handler augmented with the provided attributes; captured entries remain separate.
func (h *RingLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.mu.RLock()
	level := h.level
	h.mu.RUnlock()
	return NewRingLogHandler(h.next.WithAttrs(attrs), h.capacity, level)
}

// WithGroup returns a new RingLogHandler scoping subsequent attributes under the provided group name; ring buffer semantics are unchanged.
func (h *RingLogHandler) WithGroup(name string) slog.Handler {
	h.mu.RLock()
	level := h.level
	h.mu.RUnlock()
	return NewRingLogHandler(h.next.WithGroup(name), h.capacity, level)
}

// Entries returns a snapshot copy of all retained log entries in FIFO order.
func (h *RingLogHandler) Entries() []LogEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make([]LogEntry, len(h.logs))
	copy(cp, h.logs)
	return cp
}

// Reset discards all captured entries.
func (h *RingLogHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs = h.logs[:0]
}

// ----- Main -----

func main() {
	app := fapp.NewWithID("ocsview.desktop")
	st, err := statepkg.LoadGUIState("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load GUI state: %v\n", err)
		st = statepkg.NewDefaultGUIState()
	}
	cfg, err := config.LoadOrDefault("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		cfg = config.Default()
	}
	rt := NewRuntime(st, cfg)

	applyTheme(app, st.GUI.Theme)

	// Logging level mapping. The LevelVar is shared with the Settings
	// view so the threshold can change without rebuilding the handlers.
	logLevel := parseLogLevel(st.GUI.Logging.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(logLevel)

	baseHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar})
	logHandler := NewRingLogHandler(baseHandler, st.GUI.Logging.RingBufferSize, logLevel)
	slog.SetDefault(slog.New(logHandler))
	slog.Info("GUI starting", "version", version, "statePath", statepkg.DefaultGUIStatePath())

	w := app.NewWindow("OCS Configuration Visualizer")
	w.Resize(fyne.NewSize(float32(st.GUI.LastWindow.Width), float32(st.GUI.LastWindow.Height)))
	if st.GUI.LastWindow.Maximized {
		w.SetFullScreen(true)
	}

	root := buildUI(app, w, rt, logHandler, levelVar)
	w.SetContent(root)

	w.SetCloseIntercept(func() {
		slog.Info("Window closing - saving state")
		size := w.Canvas().Size()
		rt.state.GUI.LastWindow.Width = int(size.Width)
		rt.state.GUI.LastWindow.Height = int(size.Height)
		rt.state.GUI.LastWindow.Maximized = w.FullScreen()
		flushState(rt)
		app.Quit()
	})

	w.ShowAndRun()
}

// parseLogLevel maps a state-file level name to a slog level,
// defaulting to info for unknown names.
func parseLogLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// applyTheme stores the preferred variant; "auto" clears the override
// so the desktop setting applies.
func applyTheme(app fyne.App, name string) {
	switch strings.ToLower(name) {
	case "dark":
		app.Preferences().SetString("themeVariant", "dark")
	case "light":
		app.Preferences().SetString("themeVariant", "light")
	default:
		app.Preferences().RemoveValue("themeVariant")
	}
}

// ----- UI Composition -----

type viewID string

const (
	viewFiles     viewID = "Files"
	viewInspector viewID = "Inspector"
	viewCompare   viewID = "Compare"
	viewHeatmap   viewID = "Heatmap"
	viewSearch    viewID = "Search"
	viewLogs      viewID = "Logs"
	viewSettings  viewID = "Settings"
)

// viewForName maps the persisted activeView string back to a view.
func viewForName(name string) viewID {
	switch strings.ToLower(name) {
	case "inspector":
		return viewInspector
	case "compare":
		return viewCompare
	case "heatmap":
		return viewHeatmap
	case "search":
		return viewSearch
	case "logs":
		return viewLogs
	case "settings":
		return viewSettings
	default:
		return viewFiles
	}
}

func buildUI(app fyne.App, w fyne.Window, rt *Runtime, logHandler *RingLogHandler, levelVar *slog.LevelVar) fyne.CanvasObject {
	dyn := container.NewStack()

	// The views map is filled below; sidebar callbacks only read it
	// after construction completes.
	views := map[viewID]fyne.CanvasObject{}
	currentView := viewForName(rt.state.GUI.ActiveView)

	sidebar, setView := buildSidebar(rt, dyn, views, &currentView)

	inspector := buildInspectorView(rt)

	views[viewFiles] = buildFilesView(rt, w)
	views[viewInspector] = inspector.root
	views[viewCompare] = buildCompareView(rt, w)
	views[viewHeatmap] = buildHeatmapView(rt)
	views[viewSearch] = buildSearchView(rt, inspector, setView)
	views[viewLogs] = buildLogsView(logHandler)
	views[viewSettings] = buildSettingsView(app, rt, w, logHandler, levelVar)

	// Initial view
	dyn.Objects = []fyne.CanvasObject{views[currentView]}

	statusBar := widget.NewLabel("")
	updateStatusBar := func() {
		statusBar.SetText(fmt.Sprintf("%d file(s) loaded · %s · %d fields indexed",
			rt.set.Len(), rt.set.State(), rt.index.Size()))
	}
	rt.onChange(updateStatusBar)
	updateStatusBar()

	split := container.NewHSplit(sidebar, dyn)
	split.SetOffset(0.20)
	return container.NewBorder(nil, statusBar, nil, nil, split)
}

func buildSidebar(rt *Runtime, dyn *fyne.Container, views map[viewID]fyne.CanvasObject, currentView *viewID) (fyne.CanvasObject, func(viewID)) {
	title := widget.NewLabel(fmt.Sprintf("OCS Visualizer %s", version))
	title.Alignment = fyne.TextAlignCenter
	title.TextStyle = fyne.TextStyle{Bold: true}

	// Map to store button references for styling updates
	buttons := make(map[viewID]*widget.Button)

	setView := func(id viewID) {
		slog.Info("Switch view", "view", id)
		*currentView = id
		dyn.Objects = []fyne.CanvasObject{views[id]}
		dyn.Refresh()

		// Update button styling to highlight active view
		for viewName, button := range buttons {
			if viewName == id {
				button.Importance = widget.HighImportance
			} else {
				button.Importance = widget.MediumImportance
			}
			button.Refresh()
		}

		rt.state.GUI.ActiveView = strings.ToLower(string(id))
		saveState(rt)
	}

	navBtn := func(id viewID) *widget.Button {
		btn := widget.NewButton(string(id), func() { setView(id) })

		// Set initial importance based on current view
		if id == *currentView {
			btn.Importance = widget.HighImportance
		} else {
			btn.Importance = widget.MediumImportance
		}

		buttons[id] = btn
		return btn
	}

	box := container.NewVBox(
		title,
		widget.NewSeparator(),
		navBtn(viewFiles),
		navBtn(viewInspector),
		navBtn(viewCompare),
		navBtn(viewHeatmap),
		navBtn(viewSearch),
		navBtn(viewLogs),
		navBtn(viewSettings),
		layout.NewSpacer(),
		widget.NewLabel("© ocsview"),
	)

	// Compare and Heatmap need at least two documents.
	refreshAvailability := func() {
		multi := rt.set.State() == document.StateMultiFile
		for _, id := range []viewID{viewCompare, viewHeatmap} {
			if multi {
				buttons[id].Enable()
			} else {
				buttons[id].Disable()
			}
		}
	}
	rt.onChange(refreshAvailability)
	refreshAvailability()

	return box, setView
}

// ----- Files View -----

func buildFilesView(rt *Runtime, w fyne.Window) fyne.CanvasObject {
	status := widget.NewLabel("")
	updateStatus := func() {
		status.SetText(fmt.Sprintf("%d file(s) loaded (%s)", rt.set.Len(), rt.set.State()))
	}

	fileList := widget.NewList(
		func() int { return rt.set.Len() },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(i widget.ListItemID, o fyne.CanvasObject) {
			if i >= rt.set.Len() {
				o.(*widget.Label).SetText("")
				return
			}
			d := rt.set.At(i)
			o.(*widget.Label).SetText(fmt.Sprintf("%s (%s, %d fields)", d.Name, d.Format, len(d.Leaves())))
		},
	)
	// Row selection opens a read-only canonical JSON preview.
	fileList.OnSelected = func(i widget.ListItemID) {
		defer fileList.UnselectAll()
		if i >= rt.set.Len() {
			return
		}
		d := rt.set.At(i)
		pretty, err := d.Root.IndentedJSON()
		if err != nil {
			dialog.ShowError(err, w)
			return
		}
		body := widget.NewLabel(pretty)
		body.TextStyle = fyne.TextStyle{Monospace: true}
		dialog.ShowCustom(d.Path, "Close", container.NewVScroll(body), w)
	}

	recentList := widget.NewList(
		func() int { return len(rt.state.GUI.RecentFiles) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(i widget.ListItemID, o fyne.CanvasObject) {
			if i >= len(rt.state.GUI.RecentFiles) {
				o.(*widget.Label).SetText("")
				return
			}
			o.(*widget.Label).SetText(rt.state.GUI.RecentFiles[i])
		},
	)
	recentList.OnSelected = func(i widget.ListItemID) {
		defer recentList.UnselectAll()
		if i >= len(rt.state.GUI.RecentFiles) {
			return
		}
		loadPaths(rt, w, []string{rt.state.GUI.RecentFiles[i]})
	}

	openFileBtn := widget.NewButton("Open File...", func() {
		fd := dialog.NewFileOpen(func(rc fyne.URIReadCloser, err error) {
			if err != nil {
				dialog.ShowError(err, w)
				return
			}
			if rc == nil {
				return
			}
			path := rc.URI().Path()
			_ = rc.Close()
			loadPaths(rt, w, []string{path})
		}, w)
		fd.SetFilter(storage.NewExtensionFileFilter(document.SupportedExtensions()))
		if rt.state.GUI.LastOpenDir != "" {
			if lister, lErr := storage.ListerForURI(storage.NewFileURI(rt.state.GUI.LastOpenDir)); lErr == nil {
				fd.SetLocation(lister)
			}
		}
		fd.Show()
	})

	openFolderBtn := widget.NewButton("Open Folder...", func() {
		fd := dialog.NewFolderOpen(func(lu fyne.ListableURI, err error) {
			if err != nil {
				dialog.ShowError(err, w)
				return
			}
			if lu == nil {
				return
			}
			paths, lErr := document.ListDir(lu.Path())
			if lErr != nil {
				dialog.ShowError(lErr, w)
				return
			}
			if len(paths) == 0 {
				dialog.ShowInformation("Open Folder", "No configuration files in the selected folder.", w)
				return
			}
			loadPaths(rt, w, paths)
		}, w)
		fd.Show()
	})

	exportBtn := widget.NewButton("Export Report...", func() {
		exportJSONReport(rt, w)
	})

	rt.onChange(func() {
		updateStatus()
		fileList.Refresh()
		recentList.Refresh()
	})
	updateStatus()

	loaded := container.NewBorder(
		widget.NewLabel("Loaded:"), nil, nil, nil,
		fileList,
	)
	recent := container.NewBorder(
		widget.NewLabel("Recent (select to load):"), nil, nil, nil,
		recentList,
	)
	lists := container.NewVSplit(loaded, recent)
	lists.SetOffset(0.6)

	return container.NewBorder(
		container.NewVBox(
			widget.NewLabelWithStyle("Files", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
			widget.NewSeparator(),
			container.NewHBox(openFileBtn, openFolderBtn, exportBtn),
			status,
		),
		nil, nil, nil,
		lists,
	)
}

// loadPaths loads every path into the document set, records it in the
// MRU list and re-renders. Failures are collected into one dialog so a
// folder with one bad file still loads the rest.
func loadPaths(rt *Runtime, w fyne.Window, paths []string) {
	var failures []string
	loaded := 0
	for _, p := range paths {
		doc, err := document.Load(p)
		if err != nil {
			slog.Error("Load failed", "path", p, "error", err)
			failures = append(failures, err.Error())
			continue
		}
		replaced := rt.set.Add(doc)
		rt.state.AppendRecentFile(doc.Path, maxRecentFiles)
		rt.state.GUI.LastOpenDir = filepath.Dir(doc.Path)
		slog.Info("Loaded document",
			"name", doc.Name, "format", doc.Format,
			"fields", len(doc.Leaves()), "replaced", replaced)
		loaded++
	}
	if loaded > 0 {
		rt.documentsChanged()
		saveState(rt)
	}
	if len(failures) > 0 {
		dialog.ShowError(fmt.Errorf("%s", strings.Join(failures, "\n")), w)
	}
}

// ----- Inspector View -----

// inspectorPane bundles the inspector's widgets with the bookkeeping
// needed to jump to a field from the search view: the section behind
// each tab and the leaf rows behind each list.
type inspectorPane struct {
	rt   *Runtime
	root fyne.CanvasObject

	fileSelect *widget.Select
	tabsHolder *fyne.Container

	doc      *document.Document
	tabs     *container.AppTabs
	sections []string
	rows     map[string][]document.Leaf
	lists    map[string]*widget.List
}

func buildInspectorView(rt *Runtime) *inspectorPane {
	p := &inspectorPane{rt: rt, tabsHolder: container.NewStack()}

	p.fileSelect = widget.NewSelect(nil, func(string) { p.showSelected() })
	p.fileSelect.PlaceHolder = "Select a file"

	p.root = container.NewBorder(
		container.NewVBox(
			widget.NewLabelWithStyle("Inspector", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
			widget.NewSeparator(),
			p.fileSelect,
		),
		nil, nil, nil,
		p.tabsHolder,
	)

	rt.onChange(func() { p.syncOptions() })
	p.syncOptions()
	return p
}

// syncOptions refreshes the file selector after the set changes,
// keeping the current selection when its document is still loaded.
func (p *inspectorPane) syncOptions() {
	names := p.rt.set.Names()
	p.fileSelect.Options = names
	p.fileSelect.Refresh()
	switch {
	case len(names) == 0:
		p.fileSelect.ClearSelected()
		p.showSelected()
	case p.fileSelect.SelectedIndex() < 0:
		p.fileSelect.SetSelected(names[0])
	default:
		// Same selection, possibly a reloaded document behind it.
		p.showSelected()
	}
}

func (p *inspectorPane) showSelected() {
	idx := p.fileSelect.SelectedIndex()
	if idx < 0 || idx >= p.rt.set.Len() {
		p.doc = nil
		p.tabs = nil
		p.sections = nil
		p.rows = nil
		p.lists = nil
		p.tabsHolder.Objects = []fyne.CanvasObject{
			widget.NewLabel("Load a configuration file to inspect it."),
		}
		p.tabsHolder.Refresh()
		return
	}
	p.renderDoc(p.rt.set.At(idx))
}

// renderDoc rebuilds the section tabs for one document. Tab order
// follows the key order written in the source file.
func (p *inspectorPane) renderDoc(doc *document.Document) {
	p.doc = doc
	p.sections = doc.TopKeys()
	p.rows = make(map[string][]document.Leaf, len(p.sections))
	p.lists = make(map[string]*widget.List, len(p.sections))

	for _, leaf := range doc.Leaves() {
		key := document.TopLevelKey(leaf.Path)
		if doc.Root.Kind != document.Object {
			key = document.SyntheticSection
		}
		p.rows[key] = append(p.rows[key], leaf)
	}

	items := make([]*container.TabItem, 0, len(p.sections))
	for _, section := range p.sections {
		items = append(items, container.NewTabItem(section, p.buildSectionTab(section)))
	}
	p.tabs = container.NewAppTabs(items...)
	p.tabsHolder.Objects = []fyne.CanvasObject{p.tabs}
	p.tabsHolder.Refresh()
}

func (p *inspectorPane) buildSectionTab(section string) fyne.CanvasObject {
	leaves := p.rows[section]

	list := widget.NewList(
		func() int { return len(leaves) },
		func() fyne.CanvasObject {
			value := widget.NewLabel("")
			value.TextStyle = fyne.TextStyle{Monospace: true}
			help := widget.NewLabel("")
			help.TextStyle = fyne.TextStyle{Italic: true}
			return container.NewVBox(value, help)
		},
		func(i widget.ListItemID, o fyne.CanvasObject) {
			if i >= len(leaves) {
				return
			}
			leaf := leaves[i]
			box := o.(*fyne.Container)
			box.Objects[0].(*widget.Label).SetText(fmt.Sprintf("%s = %s", rowLabel(section, leaf.Path), displayValue(leaf.Node)))
			helpLbl := box.Objects[1].(*widget.Label)
			if tip, ok := p.rt.tips.ForPath(leaf.Path); ok {
				helpLbl.SetText(tip)
			} else {
				helpLbl.SetText("")
			}
		},
	)
	p.lists[section] = list

	if tip, ok := p.rt.tips.ForSection(section); ok {
		header := widget.NewLabel(tip)
		header.Wrapping = fyne.TextWrapWord
		return container.NewBorder(header, nil, nil, nil, list)
	}
	return list
}

// jumpTo selects the file and section tab containing path and scrolls
// its row into view. Drives search result activation.
func (p *inspectorPane) jumpTo(doc *document.Document, path string) {
	names := p.rt.set.Names()
	for i, d := range p.rt.set.Docs() {
		if d.Path != doc.Path {
			continue
		}
		if p.fileSelect.SelectedIndex() != i {
			p.fileSelect.SetSelected(names[i])
		} else if p.doc != d {
			p.renderDoc(d)
		}
		break
	}
	if p.tabs == nil {
		return
	}
	section := document.TopLevelKey(path)
	if p.doc != nil && p.doc.Root.Kind != document.Object {
		section = document.SyntheticSection
	}
	for i, s := range p.sections {
		if s == section {
			p.tabs.SelectIndex(i)
			break
		}
	}
	list := p.lists[section]
	if list == nil {
		return
	}
	for i, leaf := range p.rows[section] {
		if leaf.Path == path {
			list.ScrollTo(i)
			list.Select(i)
			break
		}
	}
}

// rowLabel trims the owning section from a field path so tab rows
// read relative to their tab. Paths outside the section pass through.
func rowLabel(section, path string) string {
	switch {
	case path == section:
		return path
	case strings.HasPrefix(path, section+"."):
		return path[len(section)+1:]
	case strings.HasPrefix(path, section+"["):
		return path[len(section):]
	default:
		return path
	}
}

// displayValue renders a node for a single inspector or diff row:
// strings quoted, containers as compact JSON, long values truncated.
func displayValue(n *document.Node) string {
	if n == nil {
		return ""
	}
	s := n.Display()
	if n.Kind == document.String {
		s = strconv.Quote(s)
	}
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}

// ----- Compare View -----

func buildCompareView(rt *Runtime, w fyne.Window) fyne.CanvasObject {
	status := widget.NewLabel("Load at least two files to compare.")

	patchLabel := widget.NewLabel("")
	patchLabel.TextStyle = fyne.TextStyle{Monospace: true}
	patchLabel.Wrapping = fyne.TextWrapWord

	// Forward declarations so the select callbacks can reference the
	// list before it is assigned.
	var leftSel, rightSel *widget.Select
	var changeList *widget.List
	var changes []diff.Change

	pair := func() (*document.Document, *document.Document, bool) {
		li, ri := leftSel.SelectedIndex(), rightSel.SelectedIndex()
		if li < 0 || ri < 0 || li >= rt.set.Len() || ri >= rt.set.Len() || li == ri {
			return nil, nil, false
		}
		return rt.set.At(li), rt.set.At(ri), true
	}

	recompare := func() {
		left, right, ok := pair()
		if !ok {
			changes = nil
			patchLabel.SetText("")
			if rt.set.Len() < 2 {
				status.SetText("Load at least two files to compare.")
			} else {
				status.SetText("Pick two different files.")
			}
			if changeList != nil {
				changeList.UnselectAll()
				changeList.Refresh()
			}
			return
		}
		result := diff.Compare(left, right)
		changes = result.Changes
		st := result.Stats()
		if result.Equal() {
			status.SetText(fmt.Sprintf("%s vs %s: documents are identical", left.Name, right.Name))
		} else {
			status.SetText(fmt.Sprintf("%s vs %s: %d added, %d removed, %d changed",
				left.Name, right.Name, st.Added, st.Removed, st.Changed))
		}
		if patch, pErr := diff.MergePatch(left, right); pErr != nil {
			patchLabel.SetText(fmt.Sprintf("merge patch unavailable: %v", pErr))
		} else {
			patchLabel.SetText(patch)
		}
		if changeList != nil {
			changeList.UnselectAll()
			changeList.Refresh()
		}
	}

	leftSel = widget.NewSelect(nil, func(string) { recompare() })
	leftSel.PlaceHolder = "Left file"
	rightSel = widget.NewSelect(nil, func(string) { recompare() })
	rightSel.PlaceHolder = "Right file"

	changeList = widget.NewList(
		func() int { return len(changes) },
		func() fyne.CanvasObject {
			lbl := widget.NewLabel("")
			lbl.TextStyle = fyne.TextStyle{Monospace: true}
			return lbl
		},
		func(i widget.ListItemID, o fyne.CanvasObject) {
			if i >= len(changes) {
				o.(*widget.Label).SetText("")
				return
			}
			o.(*widget.Label).SetText(changeLine(changes[i]))
		},
	)
	changeList.OnSelected = func(i widget.ListItemID) {
		defer changeList.UnselectAll()
		if i >= len(changes) {
			return
		}
		showChangeDetail(changes[i], w)
	}

	syncOptions := func() {
		names := rt.set.Names()
		leftSel.Options = names
		rightSel.Options = names
		leftSel.Refresh()
		rightSel.Refresh()
		if rt.set.Len() >= 2 {
			if leftSel.SelectedIndex() < 0 {
				leftSel.SetSelected(names[0])
			}
			if rightSel.SelectedIndex() < 0 {
				rightSel.SetSelected(names[1])
			}
		} else {
			leftSel.ClearSelected()
			rightSel.ClearSelected()
		}
		recompare()
	}

	rt.onChange(syncOptions)
	syncOptions()

	changesPane := container.NewBorder(
		widget.NewLabel("Changes (select a row for details):"), nil, nil, nil,
		changeList,
	)
	patchPane := container.NewBorder(
		widget.NewLabel("Merge patch (left -> right):"), nil, nil, nil,
		container.NewVScroll(patchLabel),
	)
	split := container.NewVSplit(changesPane, patchPane)
	split.SetOffset(0.65)

	return container.NewBorder(
		container.NewVBox(
			widget.NewLabelWithStyle("Compare", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
			widget.NewSeparator(),
			container.NewHBox(leftSel, widget.NewLabel("vs"), rightSel),
			status,
		),
		nil, nil, nil,
		split,
	)
}

// changeLine renders one change the way the console diff does.
func changeLine(c diff.Change) string {
	switch c.Kind {
	case diff.Added:
		return fmt.Sprintf("+ %s: %s", c.Path, displayValue(c.Right))
	case diff.Removed:
		return fmt.Sprintf("- %s: %s", c.Path, displayValue(c.Left))
	default:
		return fmt.Sprintf("~ %s: %s -> %s", c.Path, displayValue(c.Left), displayValue(c.Right))
	}
}

// showChangeDetail opens a modal with both sides of a change, adding
// an inline character diff when both sides are strings.
func showChangeDetail(c diff.Change, w fyne.Window) {
	lines := []string{
		fmt.Sprintf("Field: %s", c.Path),
		fmt.Sprintf("Kind:  %s", c.Kind),
	}
	if c.Left != nil {
		lines = append(lines, fmt.Sprintf("Left:  %s", displayValue(c.Left)))
	}
	if c.Right != nil {
		lines = append(lines, fmt.Sprintf("Right: %s", displayValue(c.Right)))
	}
	if c.Kind == diff.Changed && c.Left != nil && c.Right != nil &&
		c.Left.Kind == document.String && c.Right.Kind == document.String {
		spans := diff.InlineDiff(c.Left.Value, c.Right.Value)
		lines = append(lines, fmt.Sprintf("Inline: %s", diff.Markup(spans)))
	}
	body := widget.NewLabel(strings.Join(lines, "\n"))
	body.TextStyle = fyne.TextStyle{Monospace: true}
	body.Wrapping = fyne.TextWrapWord
	dialog.ShowCustom(c.Path, "Close", container.NewVScroll(body), w)
}

// ----- Heatmap View -----

func buildHeatmapView(rt *Runtime) fyne.CanvasObject {
	status := widget.NewLabel("Load at least two files to build the heatmap.")
	grid := container.NewVBox()

	var rebuild func()
	hottestFirst := widget.NewCheck("Hottest first", func(bool) {
		if rebuild != nil {
			rebuild()
		}
	})

	rebuild = func() {
		grid.Objects = nil
		if rt.set.State() != document.StateMultiFile {
			status.SetText("Load at least two files to build the heatmap.")
			grid.Refresh()
			return
		}
		matrix, err := heatmap.Build(rt.set)
		if err != nil {
			status.SetText(err.Error())
			grid.Refresh()
			return
		}
		rows := matrix.Rows
		if hottestFirst.Checked {
			rows = matrix.Hottest(-1)
		}
		status.SetText(fmt.Sprintf("%d fields x %d pairs (warm >= %.2f, hot >= %.2f)",
			len(rows), len(matrix.Pairs), rt.cfg.Heatmap.Warn, rt.cfg.Heatmap.Hot))

		cols := len(matrix.Pairs) + 2
		header := make([]fyne.CanvasObject, 0, cols)
		header = append(header, widget.NewLabelWithStyle("Field", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}))
		for _, pr := range matrix.Pairs {
			header = append(header, widget.NewLabelWithStyle(pr.Label(), fyne.TextAlignCenter, fyne.TextStyle{Bold: true}))
		}
		header = append(header, widget.NewLabelWithStyle("Max", fyne.TextAlignCenter, fyne.TextStyle{Bold: true}))
		grid.Objects = append(grid.Objects, container.NewGridWithColumns(cols, header...))

		for _, row := range rows {
			cells := make([]fyne.CanvasObject, 0, cols)
			pathLbl := widget.NewLabel(row.Path)
			pathLbl.TextStyle = fyne.TextStyle{Monospace: true}
			cells = append(cells, pathLbl)
			for _, score := range row.Scores {
				cells = append(cells, heatCell(score))
			}
			cells = append(cells, heatCell(row.Max))
			grid.Objects = append(grid.Objects, container.NewGridWithColumns(cols, cells...))
		}
		grid.Refresh()
	}

	rt.onChange(rebuild)
	rebuild()

	return container.NewBorder(
		container.NewVBox(
			widget.NewLabelWithStyle("Heatmap", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
			widget.NewSeparator(),
			container.NewHBox(hottestFirst),
			status,
		),
		nil, nil, nil,
		container.NewVScroll(grid),
	)
}

// heatCell renders one divergence score as a label over a color ramp.
func heatCell(score float64) fyne.CanvasObject {
	rect := canvas.NewRectangle(heatColor(score))
	rect.SetMinSize(fyne.NewSize(64, 24))
	lbl := widget.NewLabel(fmt.Sprintf("%.2f", score))
	lbl.Alignment = fyne.TextAlignCenter
	return container.NewStack(rect, lbl)
}

// heatColor maps a score in [0,1] onto a white-to-red ramp. The ramp
// floor keeps cell text legible on the hottest cells.
func heatColor(score float64) color.Color {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	ch := uint8(255 - score*200)
	return color.NRGBA{R: 0xff, G: ch, B: ch, A: 0xff}
}

// ----- Search View -----

func buildSearchView(rt *Runtime, inspector *inspectorPane, setView func(viewID)) fyne.CanvasObject {
	query := widget.NewEntry()
	query.SetPlaceHolder("Search field paths and values (case-insensitive)")

	status := widget.NewLabel("")

	var results *widget.List
	var hits []search.Entry

	runQuery := func() {
		hits = rt.index.Query(query.Text)
		if strings.TrimSpace(query.Text) == "" {
			status.SetText(fmt.Sprintf("%d fields indexed across %d file(s)", rt.index.Size(), rt.set.Len()))
		} else {
			status.SetText(fmt.Sprintf("%d match(es)", len(hits)))
		}
		if results != nil {
			results.UnselectAll()
			results.Refresh()
		}
	}
	query.OnChanged = func(string) { runQuery() }

	results = widget.NewList(
		func() int { return len(hits) },
		func() fyne.CanvasObject {
			row := widget.NewLabel("")
			row.TextStyle = fyne.TextStyle{Monospace: true}
			return row
		},
		func(i widget.ListItemID, o fyne.CanvasObject) {
			if i >= len(hits) {
				o.(*widget.Label).SetText("")
				return
			}
			h := hits[i]
			o.(*widget.Label).SetText(fmt.Sprintf("%s · %s = %s", h.File, h.Path, h.Value))
		},
	)
	results.OnSelected = func(i widget.ListItemID) {
		defer results.UnselectAll()
		if i >= len(hits) {
			return
		}
		h := hits[i]
		doc, ok := rt.set.ByPath(h.FilePath)
		if !ok {
			return
		}
		setView(viewInspector)
		inspector.jumpTo(doc, h.Path)
	}

	rt.onChange(runQuery)
	runQuery()

	return container.NewBorder(
		container.NewVBox(
			widget.NewLabelWithStyle("Search", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
			widget.NewSeparator(),
			query,
			status,
		),
		nil, nil, nil,
		results,
	)
}

// ----- Logs View -----

func buildLogsView(logHandler *RingLogHandler) fyne.CanvasObject {
	searchEntry := widget.NewEntry()
	searchEntry.SetPlaceHolder("Filter text (substring)")

	// Forward declarations so callbacks can reference logList after assignment.
	var logList *widget.List
	errorOnlyToggle := widget.NewCheck("Show only errors", func(bool) {
		if logList != nil {
			logList.Refresh()
		}
	})

	levelSelect := widget.NewSelect([]string{"ALL", "DEBUG", "INFO", "WARN", "ERROR"}, func(string) {
		if logList != nil {
			logList.Refresh()
		}
	})
	levelSelect.SetSelected("ALL")

	logList = widget.NewList(
		func() int {
			entries := filteredLogs(logHandler, searchEntry.Text, levelSelect.Selected, errorOnlyToggle.Checked)
			return len(entries)
		},
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(i widget.ListItemID, o fyne.CanvasObject) {
			entries := filteredLogs(logHandler, searchEntry.Text, levelSelect.Selected, errorOnlyToggle.Checked)
			if i < len(entries) {
				e := entries[i]
				o.(*widget.Label).SetText(fmt.Sprintf("%s [%s] %s",
					e.Time.Format(time.RFC3339), e.Level.String(), e.Message))
			} else {
				o.(*widget.Label).SetText("")
			}
		},
	)
	searchEntry.OnChanged = func(string) {
		if logList != nil {
			logList.Refresh()
		}
	}

	refreshBtn := widget.NewButton("Refresh", func() {
		if logList != nil {
			logList.Refresh()
		}
	})
	clearBtn := widget.NewButton("Clear", func() {
		logHandler.Reset()
		if logList != nil {
			logList.Refresh()
		}
	})

	controls := container.NewVBox(
		widget.NewLabelWithStyle("Logs", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		widget.NewSeparator(),
		container.NewHBox(searchEntry, levelSelect),
		container.NewHBox(errorOnlyToggle, refreshBtn, clearBtn),
	)

	return container.NewBorder(
		controls,
		nil, nil, nil,
		logList,
	)
}

func filteredLogs(logHandler *RingLogHandler, search, levelFilter string, errorsOnly bool) []LogEntry {
	entries := logHandler.Entries()
	if len(entries) == 0 {
		return nil
	}
	search = strings.TrimSpace(strings.ToLower(search))
	levelFilter = strings.ToUpper(strings.TrimSpace(levelFilter))

	var out []LogEntry
	for _, e := range entries {
		if levelFilter != "" && levelFilter != "ALL" && strings.ToUpper(e.Level.String()) != levelFilter {
			continue
		}
		if errorsOnly && strings.ToUpper(e.Level.String()) != "ERROR" {
			continue
		}
		if search != "" {
			if !strings.Contains(strings.ToLower(e.Message), search) &&
				!strings.Contains(strings.ToLower(e.Level.String()), search) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// ----- Settings View -----

func buildSettingsView(app fyne.App, rt *Runtime, w fyne.Window, logHandler *RingLogHandler, levelVar *slog.LevelVar) fyne.CanvasObject {
	themeSelect := widget.NewSelect([]string{"auto", "light", "dark"}, func(v string) {
		if v == rt.state.GUI.Theme {
			return
		}
		rt.state.GUI.Theme = v
		applyTheme(app, v)
		saveState(rt)
	})
	themeSelect.SetSelected(rt.state.GUI.Theme)

	levelSelect := widget.NewSelect([]string{"debug", "info", "warn", "error"}, func(v string) {
		if v == rt.state.GUI.Logging.Level {
			return
		}
		rt.state.GUI.Logging.Level = v
		lvl := parseLogLevel(v)
		levelVar.Set(lvl)
		logHandler.SetLevel(lvl)
		slog.Info("Log level changed", "level", v)
		saveState(rt)
	})
	levelSelect.SetSelected(strings.ToLower(rt.state.GUI.Logging.Level))

	tipPath := widget.NewEntry()
	tipPath.SetText(rt.state.GUI.TooltipPath)
	tipPath.SetPlaceHolder("Optional tooltip YAML (merged over built-ins)")

	browseBtn := widget.NewButton("Browse...", func() {
		fd := dialog.NewFileOpen(func(rc fyne.URIReadCloser, err error) {
			if err != nil {
				dialog.ShowError(err, w)
				return
			}
			if rc == nil {
				return
			}
			tipPath.SetText(rc.URI().Path())
			_ = rc.Close()
		}, w)
		fd.SetFilter(storage.NewExtensionFileFilter([]string{".yaml", ".yml"}))
		fd.Show()
	})

	applyBtn := widget.NewButton("Apply Tooltips", func() {
		rt.state.GUI.TooltipPath = strings.TrimSpace(tipPath.Text)
		if err := rt.reloadTooltips(); err != nil {
			dialog.ShowError(err, w)
		} else {
			dialog.ShowInformation("Tooltips", fmt.Sprintf("%d help entries active.", len(rt.tips)), w)
		}
		saveState(rt)
		rt.notify()
	})

	info := widget.NewLabel(fmt.Sprintf("State file: %s\nLog ring capacity: %d entries",
		statepkg.DefaultGUIStatePath(), rt.state.GUI.Logging.RingBufferSize))
	info.Wrapping = fyne.TextWrapWord

	return container.NewVBox(
		widget.NewLabelWithStyle("Settings", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		widget.NewSeparator(),
		widget.NewForm(
			&widget.FormItem{Text: "Theme", Widget: themeSelect},
			&widget.FormItem{Text: "Log level", Widget: levelSelect},
			&widget.FormItem{Text: "Tooltip table", Widget: container.NewBorder(nil, nil, nil, browseBtn, tipPath)},
		),
		container.NewHBox(applyBtn),
		widget.NewSeparator(),
		info,
		layout.NewSpacer(),
	)
}

// ----- JSON Export -----

func exportJSONReport(rt *Runtime, w fyne.Window) {
	if rt.set.Len() == 0 {
		dialog.ShowInformation("Export Report", "No documents loaded.", w)
		return
	}
	rpt, err := report.NewGenerator().Generate(rt.set)
	if err != nil {
		dialog.ShowError(err, w)
		return
	}

	fs := dialog.NewFileSave(func(uc fyne.URIWriteCloser, err error) {
		if err != nil {
			dialog.ShowError(err, w)
			return
		}
		if uc == nil {
			return
		}
		defer func() { _ = uc.Close() }()

		data, mErr := rpt.JSON()
		if mErr != nil {
			dialog.ShowError(mErr, w)
			return
		}
		if _, wErr := uc.Write(data); wErr != nil {
			dialog.ShowError(wErr, w)
			return
		}
		slog.Info("Report exported", "files", len(rpt.Files), "pairs", len(rpt.Pairs))
		dialog.ShowInformation("Export Report", "Report exported successfully.", w)
	}, w)
	fs.SetFileName("ocs-report.json")
	fs.Show()
}

// ----- State Saving (Debounced) -----

var saveMu sync.Mutex

var saveTimer *time.Timer

func saveState(rt *Runtime) {
	saveMu.Lock()
	defer saveMu.Unlock()

	if saveTimer != nil {
		saveTimer.Stop()
	}
	// Debounce writes (250ms)
	saveTimer = time.AfterFunc(250*time.Millisecond, func() {
		if err := statepkg.SaveGUIState(rt.state, ""); err != nil {
			slog.Error("Failed to save state", "error", err)
		} else {
			slog.Debug("State saved", "path", statepkg.DefaultGUIStatePath())
		}
	})
}

// flushState cancels any pending debounced write and saves immediately.
// Used on window close, where a pending timer would not get to fire.
func flushState(rt *Runtime) {
	saveMu.Lock()
	if saveTimer != nil {
		saveTimer.Stop()
		saveTimer = nil
	}
	saveMu.Unlock()

	if err := statepkg.SaveGUIState(rt.state, ""); err != nil {
		slog.Error("Failed to save state", "error", err)
	}
}
