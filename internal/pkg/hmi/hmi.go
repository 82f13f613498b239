// Package hmi is a terminal monitor of the latest clearing and controller bids.
package hmi

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gdamore/tcell"
	"github.com/ohowland/cgc_market/internal/pkg/msg"
	"github.com/ohowland/cgc_market/internal/pkg/substation"
	"github.com/rivo/tview"
)

const logo = `
 ___________________________________________
 ___/\/\/\/\/\____/\/\/\/\/\____/\/\/\/\/\__
 _/\/\__________/\/\__________/\/\__________
 _/\/\__________/\/\__/\/\/\__/\/\__________
 _/\/\__________/\/\____/\/\__/\/\__________
 ___/\/\/\/\/\____/\/\/\/\/\____/\/\/\/\/\__
 ___________________________________________
`

// Header is the first table row
var Header = []string{"Name", "Time", "Type", "Price", "Quantity"}

// ClearingRow formats a clearing as a table row
func ClearingRow(c substation.Clearing) []string {
	return []string{
		c.Market,
		fmt.Sprintf("%d", c.Time),
		c.Result.Type.String(),
		fmt.Sprintf("%.5f", c.Result.Price),
		fmt.Sprintf("%.3f", c.Result.Quantity),
	}
}

// BidRow formats a controller bid as a table row. The type column shows
// whether the device is running.
func BidRow(b substation.ControllerBid) []string {
	state := "OFF"
	if b.Bid.On {
		state = "ON"
	}
	return []string{
		b.Name,
		fmt.Sprintf("%d", b.Time),
		state,
		fmt.Sprintf("%.5f", b.Bid.Price),
		fmt.Sprintf("%.3f", b.Bid.Quantity),
	}
}

// Model is the monitor's view state
type Model struct {
	mux      *sync.Mutex
	clearing substation.Clearing
	cleared  bool
	bids     map[string]substation.ControllerBid
}

// NewModel returns an empty Model
func NewModel() *Model {
	return &Model{
		mux:  &sync.Mutex{},
		bids: make(map[string]substation.ControllerBid),
	}
}

// Update applies a published message and reports whether the view changed
func (m *Model) Update(v msg.Msg) bool {
	m.mux.Lock()
	defer m.mux.Unlock()
	switch p := v.Payload().(type) {
	case substation.Clearing:
		m.clearing = p
		m.cleared = true
	case substation.ControllerBid:
		m.bids[p.Name] = p
	default:
		return false
	}
	return true
}

// Rows returns the header, the clearing if any, then bids by controller name
func (m *Model) Rows() [][]string {
	m.mux.Lock()
	defer m.mux.Unlock()
	rows := [][]string{Header}
	if m.cleared {
		rows = append(rows, ClearingRow(m.clearing))
	}
	names := make([]string, 0, len(m.bids))
	for name := range m.bids {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows = append(rows, BidRow(m.bids[name]))
	}
	return rows
}

// Monitor draws a Model in a tview table.
type Monitor struct {
	app   *tview.Application
	pages *tview.Pages
	table *tview.Table
	model *Model
}

// NewMonitor builds the splash and market pages
func NewMonitor(title string) *Monitor {
	m := &Monitor{
		app:   tview.NewApplication(),
		pages: tview.NewPages(),
		model: NewModel(),
	}
	m.table = tview.NewTable().SetFixed(1, 1)
	m.table.SetBorder(true).SetTitle(" " + title + " ")
	m.table.SetBorders(false).SetSeparator(' ')

	m.pages.AddPage("Splash", m.splash(), true, true)
	m.pages.AddPage("Market", m.table, true, false)
	m.draw()
	return m
}

func (m *Monitor) splash() tview.Primitive {
	lines := strings.Split(logo, "\n")
	width := 0
	for _, line := range lines {
		if len(line) > width {
			width = len(line)
		}
	}
	logoBox := tview.NewTextView().
		SetTextColor(tcell.ColorBlue).
		SetDoneFunc(func(key tcell.Key) {
			m.pages.SwitchToPage("Market")
		})
	fmt.Fprint(logoBox, logo)

	frame := tview.NewFrame(tview.NewBox()).
		SetBorders(0, 0, 0, 0, 0, 0).
		AddText("Transactive Market Monitor", true, tview.AlignCenter, tcell.ColorWhite).
		AddText("press enter", true, tview.AlignCenter, tcell.ColorDarkMagenta)

	return tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tview.NewBox(), 0, 5, false).
		AddItem(tview.NewFlex().
			AddItem(tview.NewBox(), 0, 1, false).
			AddItem(logoBox, width, 1, true).
			AddItem(tview.NewBox(), 0, 1, false), len(lines), 1, true).
		AddItem(frame, 0, 10, false)
}

func (m *Monitor) draw() {
	m.table.Clear()
	for row, line := range m.model.Rows() {
		for column, cell := range line {
			color := tcell.ColorWhite
			if row == 0 {
				color = tcell.ColorYellow
			} else if column == 0 {
				color = tcell.ColorDarkCyan
			}
			m.table.SetCell(row, column, tview.NewTableCell(cell).
				SetTextColor(color).
				SetAlign(tview.AlignLeft).
				SetSelectable(row != 0))
		}
	}
}

// Run blocks drawing messages from ch until the user quits
func (m *Monitor) Run(ch <-chan msg.Msg) error {
	go func() {
		for v := range ch {
			if m.model.Update(v) {
				m.app.QueueUpdateDraw(m.draw)
			}
		}
	}()
	return m.app.SetRoot(m.pages, true).Run()
}

// Stop ends Run
func (m *Monitor) Stop() {
	m.app.Stop()
}
