package plan

import (
	"fmt"
	"io"
)

// Population modes.
const (
	ModeFull        = "full"
	ModeFile        = "file"
	ModeInteractive = "interactive"
)

// Source carries what each population mode needs.
type Source struct {
	Mode  string
	File  string
	Tray  int
	Board int
	In    io.Reader
	Out   io.Writer
}

// Build populates a plan according to src.Mode.
func Build(src Source) (*ChipPlan, error) {
	switch src.Mode {
	case ModeFull, "":
		return FullTray(src.Tray, src.Board)
	case ModeFile:
		return LoadFile(src.File)
	case ModeInteractive:
		return Interactive(src.In, src.Out)
	default:
		return nil, fmt.Errorf("unknown plan mode %q", src.Mode)
	}
}
