package sensors

import (
	"context"
	"os"
	"time"

	"github.com/containerd/log"
)

// LEDBlinker toggles a sysfs LED brightness file on an interval while
// active, e.g. to indicate "archiving in progress". No GPIO/LED library
// appears in the corpus; this is a documented standard-library exception
// (see DESIGN.md).
type LEDBlinker struct {
	// BrightnessPath is e.g. "/sys/class/leds/led0/brightness".
	BrightnessPath string
	Interval       time.Duration
}

const defaultBlinkInterval = 500 * time.Millisecond

// Run toggles the LED between off and on every Interval until ctx is
// cancelled, then turns it off. Write failures are logged and otherwise
// ignored: a missing LED must never affect the coordinator loop.
func (l *LEDBlinker) Run(ctx context.Context) {
	interval := l.Interval
	if interval <= 0 {
		interval = defaultBlinkInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer l.set(ctx, false)

	on := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			on = !on
			l.set(ctx, on)
		}
	}
}

func (l *LEDBlinker) set(ctx context.Context, on bool) {
	value := []byte("0")
	if on {
		value = []byte("1")
	}
	if err := os.WriteFile(l.BrightnessPath, value, 0o200); err != nil {
		log.G(ctx).WithError(err).Debug("led write failed")
	}
}
