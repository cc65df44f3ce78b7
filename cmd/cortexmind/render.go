package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/normanking/cortexmind/internal/orchestrator"
	"github.com/normanking/cortexmind/internal/router"
	"github.com/normanking/cortexmind/pkg/brain"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	valueStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true)
	boxStyle     = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#7D56F4")).
		Padding(0, 1)
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// confidenceBar renders c in [0,1] as a ten-cell bar.
func confidenceBar(c float64) string {
	filled := int(c*10 + 0.5)
	if filled > 10 {
		filled = 10
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", 10-filled)
}

func printFused(f *brain.FusedResult, asJSON bool) error {
	if asJSON {
		return printJSON(f)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("task:      "), valueStyle.Render(f.Task))
	if f.PrimaryResult != nil {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("answer:    "), valueStyle.Render(f.PrimaryResult.OutputString()))
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("primary:   "), f.PrimaryModule)
	}
	fmt.Fprintf(&b, "%s %s %.3f\n", labelStyle.Render("confidence:"), confidenceBar(f.CombinedConfidence), f.CombinedConfidence)
	if f.Consensus {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("consensus: "), successStyle.Render("yes"))
	}

	if len(f.SystemsUsed) > 0 {
		b.WriteString("\n")
		for _, id := range f.SystemsUsed {
			r := f.AllResults[id]
			fmt.Fprintf(&b, "  %-10s w=%.3f c=%.3f  %s\n", id, f.Weights[id], r.Confidence, r.OutputString())
		}
	}
	for _, d := range f.Dropped {
		fmt.Fprintf(&b, "  %s\n", warnStyle.Render(fmt.Sprintf("%-10s dropped: %s", d.Module, d.Reason)))
	}

	fmt.Println(titleStyle.Render("Fused result"))
	fmt.Println(boxStyle.Render(strings.TrimRight(b.String(), "\n")))
	return nil
}

func printRouting(table map[router.TaskType][]brain.ModuleID) {
	tasks := make([]string, 0, len(table))
	for t := range table {
		tasks = append(tasks, t.String())
	}
	sort.Strings(tasks)

	var b strings.Builder
	for _, t := range tasks {
		ids := table[router.TaskType(t)]
		names := make([]string, len(ids))
		for i, id := range ids {
			names[i] = id.String()
		}
		fmt.Fprintf(&b, "%-20s %s\n", t, strings.Join(names, " → "))
	}
	fmt.Println(titleStyle.Render("Routing"))
	fmt.Println(boxStyle.Render(strings.TrimRight(b.String(), "\n")))
}

func printStatus(s *orchestrator.Status, asJSON bool) error {
	if asJSON {
		return printJSON(s)
	}

	var b strings.Builder
	for _, m := range s.Modules {
		ready := successStyle.Render("ready")
		if !m.Ready {
			ready = warnStyle.Render("disabled")
		}
		fmt.Fprintf(&b, "%-10s %s  calls=%d done=%d dropped=%d conf=%.3f latency=%s\n",
			m.ID, ready, m.Invocations, m.Completed, m.Dropped, m.MeanConfidence, m.MeanLatency)
		switch {
		case m.Spiking != nil:
			fmt.Fprintf(&b, "           neurons=%d edges=%d firings=%d\n", m.Spiking.Neurons, m.Spiking.Edges, m.Spiking.TotalFirings)
		case m.Amplitude != nil:
			fmt.Fprintf(&b, "           qubits=%d samples=%d\n", m.Amplitude.Qubits, m.Amplitude.Calls)
		case m.Learner != nil:
			fmt.Fprintf(&b, "           architecture=%v hidden=%s epochs=%d\n", m.Learner.Architecture, m.Learner.Hidden, m.Learner.EpochsTrained)
		case m.Agent != nil:
			fmt.Fprintf(&b, "           knowledge=%d goals=%d learned=%d decisions=%d\n",
				m.Agent.Knowledge, m.Agent.Goals, m.Agent.Metrics.LearningIterations, m.Agent.Metrics.Decisions)
		}
	}
	fmt.Println(titleStyle.Render("Modules"))
	fmt.Println(boxStyle.Render(strings.TrimRight(b.String(), "\n")))

	fmt.Printf("%s %d/%d\n", labelStyle.Render("history:"), s.HistorySize, s.HistoryCapacity)
	fmt.Printf("%s working=%d short=%d long=%d pending=%d\n", labelStyle.Render("memory: "),
		s.Memory.Working, s.Memory.ShortTerm, s.Memory.LongTerm, s.Memory.Pending)
	printRouting(s.RoutingTable)
	return nil
}
