package amp

import (
	"fmt"
	"strings"
)

// Level is the mixed-precision aggressiveness, named after the optimization
// levels the big frameworks use.
type Level int

const (
	// LevelO0 disables mixed precision entirely.
	LevelO0 Level = iota
	// LevelO1 enables autocast: allow-listed ops compute through fp16,
	// parameters stay fp32.
	LevelO1
	// LevelO2 additionally stores parameters in fp16 with fp32 master
	// weights (requires Decorate).
	LevelO2
)

func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "O0":
		return LevelO0, nil
	case "O1":
		return LevelO1, nil
	case "O2":
		return LevelO2, nil
	default:
		return LevelO0, fmt.Errorf("amp: unknown level %q (want O0, O1 or O2)", s)
	}
}

func (l Level) String() string {
	switch l {
	case LevelO0:
		return "O0"
	case LevelO1:
		return "O1"
	case LevelO2:
		return "O2"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}
