package board

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxColumns bounds every board to at most five columns; NewBoard also
// rejects boards with none.
const MaxColumns = 5

type ColumnType string

const (
	ColumnCustom    ColumnType = "custom"
	ColumnWell      ColumnType = "well"
	ColumnNotWell   ColumnType = "notWell"
	ColumnIdeas     ColumnType = "ideas"
	ColumnStart     ColumnType = "start"
	ColumnStop      ColumnType = "stop"
	ColumnContinue  ColumnType = "continue"
	ColumnLiked     ColumnType = "liked"
	ColumnLearned   ColumnType = "learned"
	ColumnLacked    ColumnType = "lacked"
	ColumnLongedFor ColumnType = "longedFor"
	ColumnAnchor    ColumnType = "anchor"
	ColumnCargo     ColumnType = "cargo"
	ColumnIsland    ColumnType = "island"
	ColumnWind      ColumnType = "wind"
	ColumnRock      ColumnType = "rock"
)

// ColumnSpec describes one column of a board template before the board
// is created; ids and indices are assigned by NewBoard.
type ColumnSpec struct {
	Type  ColumnType `json:"type"`
	Label string     `json:"label"`
	Color string     `json:"color"`
	Icon  string     `json:"icon"`
}

var templateColumns = map[ColumnType]ColumnSpec{
	ColumnCustom:    {Type: ColumnCustom, Label: "Custom", Color: "#ab47bc", Icon: "help"},
	ColumnWell:      {Type: ColumnWell, Label: "What went well?", Color: "#9ccc65", Icon: "satisfied"},
	ColumnNotWell:   {Type: ColumnNotWell, Label: "What could be improved?", Color: "#ef5350", Icon: "disatisfied"},
	ColumnIdeas:     {Type: ColumnIdeas, Label: "A brilliant idea to share?", Color: "#ffca28", Icon: "sunny"},
	ColumnStart:     {Type: ColumnStart, Label: "Start", Color: "#9ccc65", Icon: "play"},
	ColumnStop:      {Type: ColumnStop, Label: "Stop", Color: "#ef5350", Icon: "pause"},
	ColumnContinue:  {Type: ColumnContinue, Label: "Continue", Color: "#29b6f6", Icon: "fast-forward"},
	ColumnLiked:     {Type: ColumnLiked, Label: "Liked", Color: "#9ccc65", Icon: "liked"},
	ColumnLearned:   {Type: ColumnLearned, Label: "Learned", Color: "#ef5350", Icon: "disatisfied"},
	ColumnLacked:    {Type: ColumnLacked, Label: "Lacked", Color: "#29b6f6", Icon: "help"},
	ColumnLongedFor: {Type: ColumnLongedFor, Label: "Longed for", Color: "#ec407a", Icon: "cocktail"},
	ColumnAnchor:    {Type: ColumnAnchor, Label: "Anchor", Color: "#9ccc65", Icon: "link"},
	ColumnCargo:     {Type: ColumnCargo, Label: "Cargo", Color: "#ef5350", Icon: "boat"},
	ColumnIsland:    {Type: ColumnIsland, Label: "Island", Color: "#29b6f6", Icon: "cocktail"},
	ColumnWind:      {Type: ColumnWind, Label: "Wind", Color: "#ec407a", Icon: "gesture"},
	ColumnRock:      {Type: ColumnRock, Label: "Rock", Color: "#ff7043", Icon: "fitness"},
}

// TemplateColumn returns the catalog defaults for a column type.
func TemplateColumn(t ColumnType) (ColumnSpec, bool) {
	spec, ok := templateColumns[t]
	return spec, ok
}

// DefaultTemplate is the classic retrospective layout padded with
// custom columns to the full five.
func DefaultTemplate() []ColumnSpec {
	base := []ColumnType{ColumnWell, ColumnNotWell, ColumnIdeas}
	specs := make([]ColumnSpec, 0, MaxColumns)
	for _, t := range base {
		specs = append(specs, templateColumns[t])
	}
	for len(specs) < MaxColumns {
		specs = append(specs, templateColumns[ColumnCustom])
	}
	return specs
}

// NormalizeSpec fills missing label, color or icon from the catalog
// defaults for the spec's type. Unknown types become custom.
func NormalizeSpec(spec ColumnSpec) ColumnSpec {
	defaults, ok := templateColumns[spec.Type]
	if !ok {
		defaults = templateColumns[ColumnCustom]
		spec.Type = ColumnCustom
	}
	if spec.Label == "" {
		spec.Label = defaults.Label
	}
	if spec.Color == "" {
		spec.Color = defaults.Color
	}
	if spec.Icon == "" {
		spec.Icon = defaults.Icon
	}
	return spec
}

// NewBoard builds a board from column specs, assigning column ids and
// a contiguous 0-based index range. Column count must be between 1 and
// MaxColumns.
func NewBoard(owner User, specs []ColumnSpec, settings Settings) (*Board, error) {
	if len(specs) == 0 || len(specs) > MaxColumns {
		return nil, fmt.Errorf("%w: board needs between 1 and %d columns, got %d", ErrValidation, MaxColumns, len(specs))
	}
	b := &Board{
		ID:        uuid.NewString(),
		OwnerID:   owner.ID,
		Columns:   make([]Column, len(specs)),
		Posts:     []Post{},
		Settings:  settings,
		CreatedAt: time.Now().UTC(),
	}
	b.AddParticipant(owner)
	for i, spec := range specs {
		spec = NormalizeSpec(spec)
		b.Columns[i] = Column{
			ID:    uuid.NewString(),
			Index: i,
			Type:  spec.Type,
			Label: spec.Label,
			Color: spec.Color,
			Icon:  spec.Icon,
		}
	}
	return b, nil
}
