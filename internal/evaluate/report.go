package evaluate

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// tally accumulates one worker's counts
type tally struct {
	tp, fp, tn, fn int64
	rules          map[string]*RuleReport
	misses         []Miss
}

func newTally() *tally {
	return &tally{rules: make(map[string]*RuleReport)}
}

func (t *tally) rule(name string) *RuleReport {
	r, ok := t.rules[name]
	if !ok {
		r = &RuleReport{Name: name}
		t.rules[name] = r
	}
	return r
}

func (t *tally) add(rec *Record, names []string, fired map[string]bool, expected []string) {
	positive := rec.Label == 1
	flagged := len(names) > 0

	switch {
	case positive && flagged:
		t.tp++
	case positive:
		t.fn++
	case flagged:
		t.fp++
	default:
		t.tn++
	}

	for _, name := range names {
		r := t.rule(name)
		r.Fired++
		if positive {
			r.OnPositive++
		} else {
			r.OnNegative++
		}
	}
	for _, name := range expected {
		r := t.rule(name)
		r.Expected++
		if fired[name] {
			r.Found++
		}
	}

	if positive != flagged {
		t.misses = append(t.misses, Miss{Text: rec.Text, Label: rec.Label, Detected: names})
	}
}

func (t *tally) merge(o *tally, maxMisses int) {
	t.tp += o.tp
	t.fp += o.fp
	t.tn += o.tn
	t.fn += o.fn
	for name, r := range o.rules {
		dst := t.rule(name)
		dst.Fired += r.Fired
		dst.OnPositive += r.OnPositive
		dst.OnNegative += r.OnNegative
		dst.Expected += r.Expected
		dst.Found += r.Found
	}
	for _, m := range o.misses {
		if len(t.misses) >= maxMisses {
			break
		}
		t.misses = append(t.misses, m)
	}
}

// report lists rules in scan order, including ones that never fired
func (t *tally) report(name string, order []string) *Report {
	r := &Report{
		Dataset:        name,
		TotalRecords:   t.tp + t.fp + t.tn + t.fn,
		TruePositives:  t.tp,
		FalsePositives: t.fp,
		TrueNegatives:  t.tn,
		FalseNegatives: t.fn,
		Precision:      ratio(t.tp, t.tp+t.fp),
		Recall:         ratio(t.tp, t.tp+t.fn),
		Accuracy:       ratio(t.tp+t.tn, t.tp+t.fp+t.tn+t.fn),
		Rules:          make([]RuleReport, 0, len(order)),
		Misses:         t.misses,
	}
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	for _, ruleName := range order {
		rr := *t.rule(ruleName)
		rr.Precision = ratio(rr.OnPositive, rr.Fired)
		rr.Recall = ratio(rr.Found, rr.Expected)
		r.Rules = append(r.Rules, rr)
	}
	return r
}

// WriteTable prints the report as aligned text
func (r *Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Dataset:\t%s\n", r.Dataset)
	fmt.Fprintf(tw, "Records:\t%d (skipped %d)\n", r.TotalRecords, r.Skipped)
	fmt.Fprintf(tw, "Confusion:\tTP %d  FP %d  TN %d  FN %d\n",
		r.TruePositives, r.FalsePositives, r.TrueNegatives, r.FalseNegatives)
	fmt.Fprintf(tw, "Precision:\t%.3f\n", r.Precision)
	fmt.Fprintf(tw, "Recall:\t%.3f\n", r.Recall)
	fmt.Fprintf(tw, "F1:\t%.3f\n", r.F1)
	fmt.Fprintf(tw, "Accuracy:\t%.3f\n\n", r.Accuracy)

	fmt.Fprintln(tw, "RULE\tFIRED\tON POSITIVE\tON NEGATIVE\tEXPECTED\tFOUND\tPRECISION\tRECALL")
	for _, rr := range r.Rules {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%.3f\t%.3f\n",
			rr.Name, rr.Fired, rr.OnPositive, rr.OnNegative, rr.Expected, rr.Found, rr.Precision, rr.Recall)
	}
	return tw.Flush()
}
