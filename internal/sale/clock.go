// internal/sale/clock.go
package sale

import (
	"fmt"
	"time"
)

// Stage is one of the time windows of the sale.
type Stage int

const (
	NotStarted Stage = iota
	PreSale
	PublicSale
	Ended
)

func (s Stage) String() string {
	switch s {
	case NotStarted:
		return "Not Started"
	case PreSale:
		return "Pre-Sale"
	case PublicSale:
		return "Public Sale"
	case Ended:
		return "Ended"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	for _, candidate := range []Stage{NotStarted, PreSale, PublicSale, Ended} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown sale stage %q", text)
}

// Active reports whether purchases are accepted during the stage.
func (s Stage) Active() bool {
	return s == PreSale || s == PublicSale
}

// CurrentStage maps a wall-clock instant to a stage. Every window includes its
// lower bound and excludes its upper bound.
func CurrentStage(now time.Time, cfg Config) Stage {
	switch {
	case now.Before(cfg.StartTime):
		return NotStarted
	case now.Before(cfg.PublicStageTime):
		return PreSale
	case now.Before(cfg.EndTime):
		return PublicSale
	default:
		return Ended
	}
}
