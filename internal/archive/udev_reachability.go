package archive

import (
	"context"
	"time"

	udev "github.com/farjump/go-libudev"
)

// UdevReachability wraps a TCPReachability with an early-wake signal: when
// the USB gadget's host-side link comes up (a "usb_device" add event on
// the netlink udev monitor), AwaitReachable re-dials immediately instead of
// waiting out the next poll tick. This only shortens the wait; IsReachable
// is always the source of truth and a udev event is never trusted on its
// own, following the device-watch shape of the corpus's own udev monitor
// (which caches "add"/"remove" events keyed by major:minor and is always
// re-confirmed by the caller rather than acted on directly).
type UdevReachability struct {
	TCP *TCPReachability
}

func (u *UdevReachability) IsReachable(ctx context.Context) bool {
	return u.TCP.IsReachable(ctx)
}

// AwaitReachable polls IsReachable on TCP.PollInterval, but also wakes
// early whenever udev reports a new "usb_device" has appeared.
func (u *UdevReachability) AwaitReachable(ctx context.Context) error {
	if u.IsReachable(ctx) {
		return nil
	}

	wake := make(chan struct{}, 1)
	monitorCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go u.watchUSBAttach(monitorCtx, wake)

	interval := u.TCP.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
		if u.IsReachable(ctx) {
			return nil
		}
	}
}

func (u *UdevReachability) watchUSBAttach(ctx context.Context, wake chan<- struct{}) {
	var ud udev.Udev
	mon := ud.NewMonitorFromNetlink("udev")
	mon.FilterAddMatchSubsystemDevtype("usb", "usb_device")

	ch, err := mon.DeviceChan(ctx)
	if err != nil {
		return
	}
	for d := range ch {
		if d.Action() != "add" {
			continue
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

var _ Reachability = (*UdevReachability)(nil)
