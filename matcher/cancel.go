package matcher

import "errors"

// ErrCancelled is returned by Match when the Matcher's Cancelled hook
// reports true. Per spec §5, "cancellation is cooperative: every rule
// execution checks a shared flag... between top-level children of
// composite patterns" — checked here at each child of Either/Any/All
// before it is evaluated, so a cancelled run aborts without finishing a
// rule already most of the way through a large pattern list.
var ErrCancelled = errors.New("matcher: cancelled")

func (m *Matcher) cancelled() bool {
	return m.Cancelled != nil && m.Cancelled()
}
