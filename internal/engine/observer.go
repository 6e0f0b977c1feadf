package engine

import "github.com/efreitasn/portfoliofeed/internal/domain"

// Observer receives the events of one portfolio. Calls are made from the
// portfolio's dispatch goroutine, one at a time and in the order the
// events were produced. An observer that has just been detached may still
// receive events that were queued before the detach.
type Observer interface {
	// OnSnapshot delivers the full holdings. It always precedes the
	// updates that follow an attach.
	OnSnapshot(s Snapshot)

	// OnUpdate delivers one change of a holding.
	OnUpdate(u domain.Update)
}

// ObserverFuncs adapts plain functions to the Observer interface. Nil
// fields ignore the corresponding event.
type ObserverFuncs struct {
	Snapshot func(Snapshot)
	Update   func(domain.Update)
}

func (f ObserverFuncs) OnSnapshot(s Snapshot) {
	if f.Snapshot != nil {
		f.Snapshot(s)
	}
}

func (f ObserverFuncs) OnUpdate(u domain.Update) {
	if f.Update != nil {
		f.Update(u)
	}
}
