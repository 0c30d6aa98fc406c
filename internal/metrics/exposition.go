package metrics

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// TextContentType is the media type written by WriteText.
const TextContentType = "text/plain; version=0.0.4; charset=utf-8"

// WriteText renders the snapshot in the Prometheus text exposition format.
// Timers become summaries in milliseconds named <name>_ms.
func (s Snapshot) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)

	writeFamilies(bw, "counter", s.Counters)
	writeFamilies(bw, "gauge", s.Gauges)

	for _, name := range timerNames(s.Timers) {
		family := name + "_ms"
		series := timersNamed(s.Timers, name)
		writeHeader(bw, family, "summary", series[0].Description)
		for _, t := range series {
			writeSample(bw, family, withLabel(t.Labels, "quantile", "0.95"), t.P95)
			writeSample(bw, family, withLabel(t.Labels, "quantile", "0.99"), t.P99)
			writeSample(bw, family+"_sum", t.Labels, t.Sum)
			writeSample(bw, family+"_count", t.Labels, float64(t.Count))
		}
	}

	return bw.Flush()
}

func writeFamilies(w *bufio.Writer, kind string, set map[string]Metric) {
	byName := make(map[string][]Metric)
	for _, m := range set {
		byName[m.Name] = append(byName[m.Name], m)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		series := byName[name]
		sort.Slice(series, func(i, j int) bool {
			return metricKey(name, series[i].Labels) < metricKey(name, series[j].Labels)
		})
		writeHeader(w, name, kind, series[0].Description)
		for _, m := range series {
			writeSample(w, name, m.Labels, m.Value)
		}
	}
}

func timerNames(set map[string]TimerMetric) []string {
	seen := make(map[string]bool)
	var names []string
	for _, t := range set {
		if !seen[t.Name] {
			seen[t.Name] = true
			names = append(names, t.Name)
		}
	}
	sort.Strings(names)
	return names
}

func timersNamed(set map[string]TimerMetric, name string) []TimerMetric {
	var out []TimerMetric
	for _, t := range set {
		if t.Name == name {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return metricKey(name, out[i].Labels) < metricKey(name, out[j].Labels)
	})
	return out
}

func writeHeader(w *bufio.Writer, name, kind, help string) {
	if help != "" {
		fmt.Fprintf(w, "# HELP %s %s\n", name, strings.ReplaceAll(help, "\n", " "))
	}
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
}

func writeSample(w *bufio.Writer, name string, labels map[string]string, value float64) {
	w.WriteString(name)
	if len(labels) > 0 {
		w.WriteByte('{')
		for i, k := range sortedKeys(labels) {
			if i > 0 {
				w.WriteByte(',')
			}
			w.WriteString(k)
			w.WriteString(`="`)
			w.WriteString(escapeLabel(labels[k]))
			w.WriteByte('"')
		}
		w.WriteByte('}')
	}
	w.WriteByte(' ')
	w.WriteString(strconv.FormatFloat(value, 'g', -1, 64))
	w.WriteByte('\n')
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	out := copyLabels(labels)
	if out == nil {
		out = make(map[string]string, 1)
	}
	out[key] = value
	return out
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(v string) string {
	return labelEscaper.Replace(v)
}
