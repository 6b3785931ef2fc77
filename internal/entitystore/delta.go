package entitystore

import (
	"time"

	"github.com/coachlink/rvcd/internal/decode"
)

// Delta describes what changed about one entity as the result of applying
// a decoded update or a staleness transition. An availability-only
// transition carries ChangedFields == ["available"] and a NewState
// snapshot equal to the entity's prior state.
type Delta struct {
	EntityID      string
	ChangedFields []string
	NewState      map[string]decode.Value
	Available     bool
	Timestamp     time.Time
}
