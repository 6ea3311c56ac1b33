package discovery

import (
	"fmt"
	"strings"
	"time"
)

const reportRule = "--------------------------------------------------"

// Report renders a run's results as plain text for manual sharing. It
// lists every test, the pass count, and the best-performing combination
// by total latency.
func Report(results []TestResult) string {
	var b strings.Builder
	b.WriteString("Protocol Discovery Report\n")
	b.WriteString(reportRule + "\n")

	passed := 0
	best := -1
	for i, r := range results {
		status := "FAIL"
		detail := ""
		if r.Success {
			status = "PASS"
			passed++
			detail = fmt.Sprintf("connect %v, init %v, total %v",
				r.ConnectTime.Round(time.Millisecond),
				r.InitTime.Round(time.Millisecond),
				r.TotalTime().Round(time.Millisecond))
			if best < 0 || r.TotalTime() < results[best].TotalTime() {
				best = i
			}
		} else if r.Err != nil {
			detail = r.Err.Error()
		}
		fmt.Fprintf(&b, "Test %2d  %-16s  delay %-5v  %s  %s\n",
			r.Config.Index, r.Config.Protocol, r.Config.Delay.Duration(), status, detail)
	}

	b.WriteString(reportRule + "\n")
	fmt.Fprintf(&b, "%d/%d passed\n", passed, len(results))
	if best >= 0 {
		r := results[best]
		fmt.Fprintf(&b, "Best combination: %s with %v delay (total %v)\n",
			r.Config.Protocol, r.Config.Delay.Duration(), r.TotalTime().Round(time.Millisecond))
	} else {
		b.WriteString("No working combination found\n")
	}
	return b.String()
}

// CycleReport renders an exercise cycle's phase results as plain text.
func CycleReport(result CycleResult) string {
	var b strings.Builder
	b.WriteString("Exercise Cycle Report\n")
	b.WriteString(reportRule + "\n")
	for _, p := range result.Phases {
		status := "OK"
		detail := ""
		if p.Err != nil {
			status = "FAIL"
			detail = "  " + p.Err.Error()
		}
		fmt.Fprintf(&b, "%-14s %-5s %v%s\n", p.Name, status, p.Duration.Round(time.Millisecond), detail)
	}
	b.WriteString(reportRule + "\n")
	if result.Success {
		b.WriteString("Cycle completed\n")
	} else {
		b.WriteString("Cycle aborted\n")
	}
	return b.String()
}
