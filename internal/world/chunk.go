package world

import "github.com/google/uuid"

// Chunks are 16x16 columns of unbounded height. Accessed only from the game
// loop goroutine.
const chunkSize = 16

type ChunkKey struct {
	CX int
	CZ int
}

func toChunkCoord(v int) int {
	if v < 0 {
		return (v - chunkSize + 1) / chunkSize
	}
	return v / chunkSize
}

func ChunkOf(p BlockPos) ChunkKey {
	return ChunkKey{CX: toChunkCoord(p.X), CZ: toChunkCoord(p.Z)}
}

type chunk struct {
	blocks map[BlockPos]Block // sparse; absent means air
}

// Grid is the block store of one world. Reads from unloaded chunks return air.
type Grid struct {
	id       uuid.UUID
	name     string
	chunks   map[ChunkKey]*chunk
	onChange func(Pos)
}

func NewGrid(id uuid.UUID, name string) *Grid {
	return &Grid{
		id:     id,
		name:   name,
		chunks: make(map[ChunkKey]*chunk),
	}
}

func (g *Grid) ID() uuid.UUID { return g.id }
func (g *Grid) Name() string  { return g.name }

// OnChange installs the hook SetBlock and UnloadChunk report edits through.
func (g *Grid) OnChange(fn func(Pos)) { g.onChange = fn }

func (g *Grid) Block(pos BlockPos) Block {
	c := g.chunks[ChunkOf(pos)]
	if c == nil {
		return Air
	}
	return c.blocks[pos]
}

// SetBlock writes a cell, loading its chunk if needed.
func (g *Grid) SetBlock(pos BlockPos, b Block) {
	k := ChunkOf(pos)
	c := g.chunks[k]
	if c == nil {
		c = &chunk{blocks: make(map[BlockPos]Block)}
		g.chunks[k] = c
	}
	if old, ok := c.blocks[pos]; ok && old.Equal(b) {
		return
	}
	if b.IsAir() {
		if _, ok := c.blocks[pos]; !ok {
			return
		}
		delete(c.blocks, pos)
	} else {
		c.blocks[pos] = b
	}
	g.changed(pos)
}

func (g *Grid) changed(pos BlockPos) {
	if g.onChange != nil {
		g.onChange(Pos{World: g.id, BlockPos: pos})
	}
}

func (g *Grid) IsChunkLoaded(k ChunkKey) bool {
	_, ok := g.chunks[k]
	return ok
}

// LoadChunk marks an empty chunk as loaded. Existing chunks are kept.
func (g *Grid) LoadChunk(k ChunkKey) {
	if _, ok := g.chunks[k]; !ok {
		g.chunks[k] = &chunk{blocks: make(map[BlockPos]Block)}
	}
}

// UnloadChunk drops a chunk. Every non-air cell it held reports a change,
// because readers now see air there.
func (g *Grid) UnloadChunk(k ChunkKey) {
	c := g.chunks[k]
	if c == nil {
		return
	}
	delete(g.chunks, k)
	for pos := range c.blocks {
		g.changed(pos)
	}
}

func (g *Grid) ChunkCount() int {
	return len(g.chunks)
}
