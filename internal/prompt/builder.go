package prompt

import (
	"sort"
	"strings"
)

// Block is one titled section of a prompt.
type Block struct {
	ID       string
	Priority int
	Heading  string
	Content  string
}

// Builder assembles blocks into a prompt. MaxChars, when positive, bounds
// the rendered size: blocks are trimmed lowest priority first, each losing
// its oldest lines, and a block that cannot keep a single line is dropped.
type Builder struct {
	MaxChars int
	blocks   []Block
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Add queues a block; blocks with blank content are dropped.
func (b *Builder) Add(block Block) {
	block.Content = strings.TrimSpace(block.Content)
	if block.Content == "" {
		return
	}
	b.blocks = append(b.blocks, block)
}

func (b *Builder) Len() int {
	return len(b.blocks)
}

// Build renders blocks by descending priority, ties broken by ID.
func (b *Builder) Build() string {
	if len(b.blocks) == 0 {
		return ""
	}
	blocks := make([]Block, len(b.blocks))
	copy(blocks, b.blocks)
	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].Priority == blocks[j].Priority {
			return blocks[i].ID < blocks[j].ID
		}
		return blocks[i].Priority > blocks[j].Priority
	})
	if b.MaxChars > 0 {
		blocks = fit(blocks, b.MaxChars)
	}

	var sb strings.Builder
	for i, block := range blocks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(render(block))
	}
	return sb.String()
}

func render(block Block) string {
	if block.Heading == "" {
		return block.Content
	}
	return block.Heading + ":\n" + block.Content
}

func renderedLen(blocks []Block) int {
	n := 0
	for i, block := range blocks {
		if i > 0 {
			n += 2
		}
		n += len(render(block))
	}
	return n
}

// fit trims sorted blocks, walking from the tail, until they fit in limit.
func fit(blocks []Block, limit int) []Block {
	for i := len(blocks) - 1; i >= 0 && renderedLen(blocks) > limit; i-- {
		over := renderedLen(blocks) - limit
		lines := strings.Split(blocks[i].Content, "\n")
		for over > 0 && len(lines) > 0 {
			over -= len(lines[0]) + 1
			lines = lines[1:]
		}
		if len(lines) == 0 {
			blocks = append(blocks[:i], blocks[i+1:]...)
			continue
		}
		blocks[i].Content = strings.Join(lines, "\n")
	}
	return blocks
}
