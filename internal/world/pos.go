package world

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// BlockPos is an integer grid cell inside one world.
type BlockPos struct {
	X, Y, Z int
}

func (p BlockPos) Add(dx, dy, dz int) BlockPos {
	return BlockPos{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz}
}

func (p BlockPos) Up() BlockPos   { return p.Add(0, 1, 0) }
func (p BlockPos) Down() BlockPos { return p.Add(0, -1, 0) }

func (p BlockPos) Offset(f Face) BlockPos {
	dx, dy, dz := f.Delta()
	return p.Add(dx, dy, dz)
}

func (p BlockPos) String() string {
	return fmt.Sprintf("%d/%d/%d", p.X, p.Y, p.Z)
}

// Vec returns the corner of the cell closest to negative infinity.
func (p BlockPos) Vec() mgl64.Vec3 {
	return mgl64.Vec3{float64(p.X), float64(p.Y), float64(p.Z)}
}

// BlockPosFromVec quantizes a continuous position to the cell containing it.
func BlockPosFromVec(v mgl64.Vec3) BlockPos {
	return BlockPos{
		X: int(math.Floor(v[0])),
		Y: int(math.Floor(v[1])),
		Z: int(math.Floor(v[2])),
	}
}

// Pos is a grid cell qualified by its world. Comparable, used as a map key.
type Pos struct {
	World uuid.UUID
	BlockPos
}

func At(world uuid.UUID, x, y, z int) Pos {
	return Pos{World: world, BlockPos: BlockPos{X: x, Y: y, Z: z}}
}

func (p Pos) String() string {
	return fmt.Sprintf("%s@%s", p.BlockPos, p.World)
}

// Face is one of the six axis directions.
type Face uint8

const (
	FaceDown Face = iota
	FaceUp
	FaceNorth // -Z
	FaceSouth // +Z
	FaceWest  // -X
	FaceEast  // +X
)

// HorizontalFaces lists the four sideways directions in a fixed order.
var HorizontalFaces = [4]Face{FaceNorth, FaceEast, FaceSouth, FaceWest}

func (f Face) Delta() (dx, dy, dz int) {
	switch f {
	case FaceDown:
		return 0, -1, 0
	case FaceUp:
		return 0, 1, 0
	case FaceNorth:
		return 0, 0, -1
	case FaceSouth:
		return 0, 0, 1
	case FaceWest:
		return -1, 0, 0
	default:
		return 1, 0, 0
	}
}

func (f Face) Opposite() Face {
	switch f {
	case FaceDown:
		return FaceUp
	case FaceUp:
		return FaceDown
	case FaceNorth:
		return FaceSouth
	case FaceSouth:
		return FaceNorth
	case FaceWest:
		return FaceEast
	default:
		return FaceWest
	}
}

func (f Face) String() string {
	switch f {
	case FaceDown:
		return "down"
	case FaceUp:
		return "up"
	case FaceNorth:
		return "north"
	case FaceSouth:
		return "south"
	case FaceWest:
		return "west"
	default:
		return "east"
	}
}
