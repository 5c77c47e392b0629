package main

import (
	"fmt"

	"Warp/analysis/history"
	u "Warp/utils"

	c "github.com/fatih/color"
)

// runStats aggregates what happened over all executions of a run.
type runStats struct {
	executions              int
	actions                 int
	completeExecutions      int
	contradictoryExecutions int
	contradictions          int
	rmwViolations           int

	promisesCreated         int
	promisesResolved        int
	forcedResolutions       int
	incompatibleResolutions int
	failedPromises          int
	unresolvedPromises      int
}

var colorize = struct {
	OK  func(...interface{}) string
	Bad func(...interface{}) string
}{
	OK: func(is ...interface{}) string {
		return u.CanColorize(c.New(c.FgHiGreen).SprintFunc())(is...)
	},
	Bad: func(is ...interface{}) string {
		return u.CanColorize(c.New(c.FgHiRed).SprintFunc())(is...)
	},
}

func (s runStats) print(hist *history.ModelHistory) {
	fmt.Println("================ Results =====================")
	fmt.Printf("Executions: %d (%d actions replayed)\n", s.executions, s.actions)
	fmt.Printf("Complete executions: %d\n", s.completeExecutions)

	verdict := colorize.OK("none")
	if s.contradictoryExecutions > 0 {
		verdict = colorize.Bad(fmt.Sprint(s.contradictoryExecutions,
			" (", s.contradictions, " rolled-back extensions, ",
			s.rmwViolations, " RMW atomicity violations)"))
	}
	fmt.Println("Contradictory executions:", verdict)

	fmt.Printf("Promises: %d created, %d resolved (%d forced), %d incompatible, %d failed, %d left unresolved\n",
		s.promisesCreated, s.promisesResolved, s.forcedResolutions,
		s.incompatibleResolutions, s.failedPromises, s.unresolvedPromises)

	if !opts.Metrics() {
		return
	}

	fmt.Println()
	fmt.Println("Function exploration:")
	for _, fn := range hist.FuncNodes() {
		frontier := fn.Frontier(1)
		top := 0.0
		if len(frontier) > 0 {
			top = frontier[0].Weight()
		}
		fmt.Printf("  %-20s sites %-3d exits %-4d frontier weight %.2f\n",
			fn.Name(), len(fn.Insts()), fn.ExitCount(), top)
	}
}
