// Package reporter implements the nine-slot progress board: the text of
// a mirror message, edited one slot at a time so unrelated slots are
// preserved across updates.
package reporter

import (
	"fmt"
	"strings"

	"vidreel/internal/jobstore"
)

// Slot indexes the nine labeled lines of a board, in on-wire order.
type Slot int

const (
	SlotStatus Slot = iota
	SlotDisplayName
	SlotBasename
	SlotSize
	SlotGeometry
	SlotPinned
	SlotInfo
	SlotTargetFolder
	SlotLastError
	slotCount
)

var slotLabels = [slotCount]string{
	SlotStatus:       "Status",
	SlotDisplayName:  "Name",
	SlotBasename:     "File",
	SlotSize:         "Size",
	SlotGeometry:     "Geometry",
	SlotPinned:       "Pinned",
	SlotInfo:         "Info",
	SlotTargetFolder: "Target",
	SlotLastError:    "Last error",
}

// Board is the nine-slot text board for one Job's mirror message.
type Board struct {
	lines [slotCount]string
}

// NewBoard builds a fresh board from the Job's current fields, its
// status slot included.
func NewBoard(job *jobstore.Job) *Board {
	b := &Board{}
	b.lines[SlotStatus] = job.Status.Glyph() + " " + string(job.Status)
	b.lines[SlotDisplayName] = job.DisplayName
	b.lines[SlotBasename] = job.FileBasename
	b.lines[SlotSize] = formatSize(job.SizeBytes, 0)
	b.lines[SlotGeometry] = formatGeometry(job.Attributes)
	b.lines[SlotPinned] = formatPinned(job.Pinned)
	b.lines[SlotInfo] = ""
	b.lines[SlotTargetFolder] = abbreviateFolder(job.TargetFolder)
	b.lines[SlotLastError] = job.LastError
	return b
}

// Parse reconstructs a Board from a mirror message's text. SetLine does
// not call it: SetLine edits the Reporter's in-memory copy of the board
// (built by NewBoard from the Job) and does not read the current
// message text back.
func Parse(text string) *Board {
	b := &Board{}
	lines := strings.Split(text, "\n")
	for i := 0; i < int(slotCount) && i < len(lines); i++ {
		b.lines[Slot(i)] = stripLabel(lines[i], slotLabels[i])
	}
	return b
}

func stripLabel(line, label string) string {
	prefix := label + ": "
	if strings.HasPrefix(line, prefix) {
		return line[len(prefix):]
	}
	return line
}

// String renders the board back into the nine-line mirror text.
func (b *Board) String() string {
	var sb strings.Builder
	for i := 0; i < int(slotCount); i++ {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(slotLabels[Slot(i)])
		sb.WriteString(": ")
		sb.WriteString(b.lines[Slot(i)])
	}
	return sb.String()
}

// Set writes one slot's raw text.
func (b *Board) Set(slot Slot, text string) {
	b.lines[slot] = text
}

// Get reads one slot's raw text.
func (b *Board) Get(slot Slot) string {
	return b.lines[slot]
}

func formatPinned(pinned bool) string {
	if pinned {
		return "📌 yes"
	}
	return "no"
}

func formatGeometry(g *jobstore.Geometry) string {
	if g == nil {
		return "-"
	}
	return fmt.Sprintf("%dx%d", g.W, g.H)
}

// abbreviateFolder keeps the board compact by showing only the last two
// path segments (slot 8 is meant to be glanceable, not a full path).
func abbreviateFolder(folder string) string {
	if folder == "" {
		return "-"
	}
	parts := strings.Split(strings.TrimRight(folder, "/"), "/")
	if len(parts) <= 2 {
		return folder
	}
	return ".../" + strings.Join(parts[len(parts)-2:], "/")
}
