package pool

import (
	"time"

	"github.com/seekerror/stdlib/pkg/lang"
)

func optionalDuration(d time.Duration) lang.Optional[time.Duration] {
	return lang.Some(d)
}
