// Package policy holds the pure decision logic of EchoShock: what the public
// may see, which routes need an admin, and when pinning is legal.
//
// NOTHING IN HERE DOES I/O:
// Every function takes the current time and the records it decides about as
// plain parameters. Services load the records, ask the policy, then act. That
// keeps the rules trivially testable and means a cancelled request can never
// leave half-applied policy state behind.
package policy

import (
	"cmp"
	"slices"
	"time"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/model"
)

// EchoVisible reports whether the public may see e at now.
// The boundary is inclusive: an Echo becomes visible at its publish instant.
func EchoVisible(e model.Echo, now time.Time) bool {
	return !e.PublishDate.After(now)
}

// FilterVisibleEchoes returns the echoes visible at now, preserving order.
func FilterVisibleEchoes(echoes []model.Echo, now time.Time) []model.Echo {
	visible := make([]model.Echo, 0, len(echoes))
	for _, e := range echoes {
		if EchoVisible(e, now) {
			visible = append(visible, e)
		}
	}
	return visible
}

// Window is where a game sits relative to its Glade interval.
type Window int

const (
	WindowUpcoming Window = iota
	WindowCurrent
	WindowPrevious
)

func (w Window) String() string {
	switch w {
	case WindowCurrent:
		return "current"
	case WindowPrevious:
		return "previous"
	default:
		return "upcoming"
	}
}

// GameWindowAt classifies g at now.
//
//	current:  entry < now < exit
//	previous: exit <= now
//	upcoming: everything else
//
// Previous is checked first so a malformed record with exit <= entry can never
// be reported as current and previous at the same time.
func GameWindowAt(g model.Game, now time.Time) Window {
	switch {
	case !g.GladeExit.After(now):
		return WindowPrevious
	case g.GladeEntry.Before(now):
		return WindowCurrent
	default:
		return WindowUpcoming
	}
}

func GameCurrent(g model.Game, now time.Time) bool {
	return GameWindowAt(g, now) == WindowCurrent
}

func GamePrevious(g model.Game, now time.Time) bool {
	return GameWindowAt(g, now) == WindowPrevious
}

// PartitionGames splits games into the current and previous Glade lists.
// Upcoming games are in neither.
func PartitionGames(games []model.Game, now time.Time) (current, previous []model.Game) {
	current = []model.Game{}
	previous = []model.Game{}
	for _, g := range games {
		switch GameWindowAt(g, now) {
		case WindowCurrent:
			current = append(current, g)
		case WindowPrevious:
			previous = append(previous, g)
		}
	}
	return current, previous
}

// NextGladeChange returns the earliest instant at or after now where some
// game moves between windows, or the zero time if none ever will. A Glade
// built at now stays correct until then.
func NextGladeChange(games []model.Game, now time.Time) time.Time {
	var next time.Time
	consider := func(t time.Time) {
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	for _, g := range games {
		if !g.GladeEntry.Before(now) {
			consider(g.GladeEntry)
		}
		if g.GladeExit.After(now) {
			consider(g.GladeExit)
		}
	}
	return next
}

// SelectFeatured returns the pinned echo, or nil when none is pinned.
//
// The store should never hold two pinned echoes, but if it does the choice is
// deterministic: latest PublishDate, then latest CreatedAt, then greatest ID.
func SelectFeatured(echoes []model.Echo) *model.Echo {
	var pinned []model.Echo
	for _, e := range echoes {
		if e.Pinned {
			pinned = append(pinned, e)
		}
	}
	if len(pinned) == 0 {
		return nil
	}

	best := slices.MaxFunc(pinned, func(a, b model.Echo) int {
		if c := a.PublishDate.Compare(b.PublishDate); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return &best
}

// CanPin reports whether id may be pinned given every echo in the store,
// published or not. Pinning is only legal while nothing is pinned; replacing
// a pin means unpinning first.
func CanPin(echoes []model.Echo, id string) error {
	if current := SelectFeatured(echoes); current != nil {
		if current.ID == id {
			return apperror.Conflict(apperror.CodeAlreadyPinned, "this echo is already pinned")
		}
		return apperror.Conflict(apperror.CodeAlreadyPinned,
			"another echo is already pinned; unpin it first")
	}
	return nil
}

// CanUnpin reports whether e may be unpinned.
func CanUnpin(e model.Echo) error {
	if !e.Pinned {
		return apperror.Conflict(apperror.CodeNotPinned, "this echo is not pinned")
	}
	return nil
}
