package world

import "slices"

// Block is the state of one cell. The zero value is air.
type Block struct {
	Kind   string   // palette name, e.g. "rail", "sign"; "" means air
	Facing Face     // attachment face for wall-mounted blocks
	Text   []string // sign lines, nil for everything else
}

var Air = Block{}

func (b Block) IsAir() bool { return b.Kind == "" || b.Kind == "air" }

func (b Block) Equal(o Block) bool {
	return b.Kind == o.Kind && b.Facing == o.Facing && slices.Equal(b.Text, o.Text)
}

// BlockAccess is the read-only view track strategies and marker discovery use.
type BlockAccess interface {
	Block(pos BlockPos) Block
}
