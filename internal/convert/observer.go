package convert

// ItemEvent is published when one item settles.
type ItemEvent struct {
	BatchID      string
	Index        int
	OriginalName string
	State        ItemState
	// OutputName is set for completed items.
	OutputName string
	Err        error
}

// BatchEvent is published when every admitted item of a batch has settled.
type BatchEvent struct {
	BatchID   string
	Admitted  int
	Completed int
	Failed    int
	Rejected  int
}

// Observer is notified at item and batch settlement. Implementations must be safe
// for concurrent use and must not block.
type Observer interface {
	ItemSettled(ItemEvent)
	BatchSettled(BatchEvent)
}

type nopObserver struct{}

func (nopObserver) ItemSettled(ItemEvent)   {}
func (nopObserver) BatchSettled(BatchEvent) {}

type multiObserver []Observer

// MultiObserver fans every notification out to observers in order. Nil entries are skipped.
func MultiObserver(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	if len(m) == 0 {
		return nopObserver{}
	}
	return m
}

func (m multiObserver) ItemSettled(e ItemEvent) {
	for _, o := range m {
		o.ItemSettled(e)
	}
}

func (m multiObserver) BatchSettled(e BatchEvent) {
	for _, o := range m {
		o.BatchSettled(e)
	}
}
