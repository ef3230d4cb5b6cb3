package ecg

import "fmt"

// Nominal print geometry at standard paper settings. A 10-second strip at
// 25 mm/s is 250 mm wide; panel rows are nominally 40 mm tall with 12x1
// compressed to 20 mm.
const (
	NominalDurationSec = 10.0
	NominalStripWidthMM = 250.0
)

// Layout describes one canonical spatial arrangement of the 12 leads on a
// printed ECG strip.
type Layout struct {
	// Name is the registry key, e.g. "3x4+rhythm".
	Name string `json:"name"`

	// Rows and Cols give the panel grid of the standard leads.
	Rows int `json:"rows"`
	Cols int `json:"cols"`

	// Rhythm lists the leads of full-width rhythm strips printed below the
	// panel grid, top to bottom. Empty when the layout has no rhythm strip.
	Rhythm []Lead `json:"rhythm,omitempty"`

	// NominalAspect is the expected width/height ratio of the printed grid
	// area, used as a layout-scoring prior.
	NominalAspect float64 `json:"nominal_aspect"`
}

// Validate checks the layout invariants.
func (l *Layout) Validate() error {
	if l.Name == "" {
		return fmt.Errorf("layout name is required")
	}
	if l.Rows*l.Cols != NumStandardLeads {
		return fmt.Errorf("layout %s: %dx%d does not cover 12 leads", l.Name, l.Rows, l.Cols)
	}
	if l.NominalAspect <= 0 {
		return fmt.Errorf("layout %s: nominal aspect must be positive", l.Name)
	}
	for _, r := range l.Rhythm {
		if r < LeadI || r > LeadV6 {
			return fmt.Errorf("layout %s: invalid rhythm lead %v", l.Name, r)
		}
	}
	return nil
}

// TotalRows returns panel rows plus rhythm strip rows.
func (l *Layout) TotalRows() int {
	return l.Rows + len(l.Rhythm)
}

// LeadAt returns the lead printed at panel position (row, col). Panels are
// filled column-major: column 0 holds the first Rows leads of the order.
func (l *Layout) LeadAt(row, col int, cabrera bool) Lead {
	order := StandardOrder
	if cabrera {
		order = CabreraOrder
	}
	return order[col*l.Rows+row]
}

// PanelDurationSec returns the time span covered by one panel column.
func (l *Layout) PanelDurationSec() float64 {
	return NominalDurationSec / float64(l.Cols)
}

// Registry of canonical layouts. Order of registration is the deterministic
// tie-break preference: when two layouts score equally the earlier (more
// common in practice) one wins.
var registry []*Layout

// Register adds a layout to the registry. Panics on invalid layouts since
// registration happens at init time with fixed definitions.
func Register(l *Layout) {
	if err := l.Validate(); err != nil {
		panic(err)
	}
	registry = append(registry, l)
}

// GetLayout returns a layout by name, or nil.
func GetLayout(name string) *Layout {
	for _, l := range registry {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// Layouts returns all registered layouts in preference order.
func Layouts() []*Layout {
	out := make([]*Layout, len(registry))
	copy(out, registry)
	return out
}

func init() {
	// Aspect priors assume 250 mm of trace width and nominal row heights:
	// 3x4 rows at 40 mm, 6x2 at 40 mm, 12x1 at 20 mm, rhythm strips 40 mm.
	Register(&Layout{Name: "3x4+rhythm", Rows: 3, Cols: 4, Rhythm: []Lead{LeadII}, NominalAspect: 250.0 / 160.0})
	Register(&Layout{Name: "3x4", Rows: 3, Cols: 4, NominalAspect: 250.0 / 120.0})
	Register(&Layout{Name: "6x2", Rows: 6, Cols: 2, NominalAspect: 250.0 / 240.0})
	Register(&Layout{Name: "12x1", Rows: 12, Cols: 1, NominalAspect: 250.0 / 240.0})
}
