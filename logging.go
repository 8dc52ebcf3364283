package cosched

// Structured logging helpers. The logger is optional: every helper is a
// no-op when the scheduler was created without [WithLogger].

func (s *Scheduler) logTaskPanic(t *Task, value any) {
	s.logger.Err().
		Int(`scheduler`, s.id).
		Uint64(`task`, t.id).
		Any(`panic`, value).
		Log(`task panicked`)
}

func (s *Scheduler) logPollError(err error) {
	s.logger.Err().
		Int(`scheduler`, s.id).
		Err(err).
		Log(`poll failed`)
}

func (s *Scheduler) logKilled(count int) {
	s.logger.Warning().
		Int(`scheduler`, s.id).
		Int(`count`, count).
		Log(`killed tasks that ignored cancellation`)
}

func (s *Scheduler) logDiscarded(count int) {
	s.logger.Warning().
		Int(`scheduler`, s.id).
		Int(`count`, count).
		Log(`discarded submitted tasks`)
}

func (s *Scheduler) logLifecycle(msg string) {
	s.logger.Debug().
		Int(`scheduler`, s.id).
		Log(msg)
}
