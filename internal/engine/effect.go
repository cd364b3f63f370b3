package engine

// Effect is a calculation run for its side effects. It reruns in full on
// every flush that reaches it, and reading it from another calculation does
// not record a dependency.
//
// An effect runs only while retained: Retain schedules the first run and
// Release stops further runs.
type Effect struct {
	*Calc[struct{}]
}

// NewEffect creates an effect and registers it with the engine.
func NewEffect(e *Engine, label string, fn func() error) *Effect {
	c := NewCalc(e, label, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	c.effect = true
	c.eq = func(struct{}, struct{}) bool { return false }
	return &Effect{Calc: c}
}

// OnError installs a handler for errors returned by the effect body and for
// cycles through it.
func (f *Effect) OnError(handler func(error)) *Effect {
	f.Calc.OnError(func(err error) struct{} {
		handler(err)
		return struct{}{}
	})
	return f
}

// Run runs the effect now if it has no cached run and returns the error, if
// any, of its latest run.
func (f *Effect) Run() error {
	_, err := f.Get()
	return err
}
