package cosched

// Stats is a snapshot of a scheduler's counters.
type Stats struct {
	// TasksCreated counts every task created, including nested runs.
	TasksCreated uint64
	// TasksFinished counts every task destroyed, including killed tasks.
	TasksFinished uint64
	// TasksKilled counts tasks destroyed by Close, without having returned.
	TasksKilled uint64
	// Polls counts poller waits.
	Polls uint64
	// Events counts readiness events dispatched to nodes.
	Events uint64
	// Cancellations counts waits that returned ErrCancelled.
	Cancellations uint64
	// Live is the number of tasks not yet finished.
	Live int
	// Scheduled is the number of tasks in the time-ordered set.
	Scheduled int
	// PendingIO is the number of tasks blocked waiting for readiness.
	PendingIO int
	// Nodes is the number of active nodes.
	Nodes int
}

// Stats returns a snapshot of the scheduler's counters. It must be called
// from the scheduler's own thread.
func (s *Scheduler) Stats() Stats {
	v := s.stats
	v.Live = s.driver.live()
	v.Scheduled = s.driver.pending()
	v.PendingIO = s.nbpending
	v.Nodes = len(s.nodes)
	return v
}
