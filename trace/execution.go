package trace

// Execution carries the number of the execution currently being replayed.
// Structures with snapshot lifetime consult it to tell whether their cached
// observations belong to the current execution or to a stale one.
type Execution struct {
	number int
}

func NewExecution() *Execution {
	return &Execution{number: 1}
}

func (e *Execution) Number() int { return e.number }

// Advance moves to the next execution. Snapshot-scope state recorded under
// the previous number becomes stale.
func (e *Execution) Advance() { e.number++ }
