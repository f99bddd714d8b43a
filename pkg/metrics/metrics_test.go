// Unit tests for Prometheus metrics implementation
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"strings"
	"sync"
	"testing"
)

func TestCounterBasic(t *testing.T) {
	c := NewCounter("test_counter", "A test counter")

	if v := c.Get(nil); v != 0 {
		t.Errorf("expected initial value 0, got %v", v)
	}
	c.Inc(nil)
	c.Add(nil, 10)
	if v := c.Get(nil); v != 11 {
		t.Errorf("expected 11, got %v", v)
	}

	// counters never go down
	c.Add(nil, -5)
	if v := c.Get(nil); v != 11 {
		t.Errorf("negative add changed counter to %v", v)
	}
	if c.Type() != TypeCounter || c.Type().String() != "counter" {
		t.Errorf("unexpected type %v", c.Type())
	}
}

func TestCounterWithLabels(t *testing.T) {
	c := NewCounter("disaster_jams_total", "Jams")

	t0 := Labels{"tool": "0"}
	t1 := Labels{"tool": "1"}
	c.Inc(t0)
	c.Inc(t0)
	c.Inc(t1)

	if v := c.Get(t0); v != 2 {
		t.Errorf("expected tool 0 count 2, got %v", v)
	}
	if v := c.Get(t1); v != 1 {
		t.Errorf("expected tool 1 count 1, got %v", v)
	}
	if v := c.Get(Labels{"tool": "2"}); v != 0 {
		t.Errorf("expected tool 2 count 0, got %v", v)
	}
}

func TestCounterConcurrency(t *testing.T) {
	c := NewCounter("concurrent_counter", "Test concurrent access")
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Inc(Labels{"command": "G1"})
			}
		}()
	}
	wg.Wait()

	if v := c.Get(Labels{"command": "G1"}); v != 10000 {
		t.Errorf("expected 10000, got %v", v)
	}
}

func TestGaugeBasic(t *testing.T) {
	g := NewGauge("test_gauge", "A test gauge")

	g.Set(nil, 42.5)
	if v := g.Get(nil); v != 42.5 {
		t.Errorf("expected 42.5, got %v", v)
	}
	g.Add(nil, -2.5)
	if v := g.Get(nil); v != 40 {
		t.Errorf("expected 40, got %v", v)
	}
	g.SetBool(nil, true)
	if v := g.Get(nil); v != 1 {
		t.Errorf("expected 1, got %v", v)
	}
	g.SetBool(nil, false)
	if v := g.Get(nil); v != 0 {
		t.Errorf("expected 0, got %v", v)
	}
}

func TestHistogramBasic(t *testing.T) {
	h := NewHistogram("latency_seconds", "Latency", []float64{1, 0.1, 0.5})

	for _, v := range []float64{0.05, 0.1, 0.3, 0.7, 2} {
		h.Observe(nil, v)
	}

	snap := h.GetSnapshot(nil)
	if snap.Count != 5 {
		t.Errorf("expected count 5, got %d", snap.Count)
	}
	if snap.Sum < 3.149 || snap.Sum > 3.151 {
		t.Errorf("expected sum 3.15, got %v", snap.Sum)
	}
	want := map[float64]uint64{0.1: 2, 0.5: 3, 1: 4}
	for bound, n := range want {
		if snap.Buckets[bound] != n {
			t.Errorf("bucket le=%v: expected %d, got %d", bound, n, snap.Buckets[bound])
		}
	}
}

func TestHistogramTimer(t *testing.T) {
	h := NewHistogram("handle_seconds", "Handle time", DefaultBuckets())
	done := h.Timer(Labels{"op": "parse"})
	done()
	if snap := h.GetSnapshot(Labels{"op": "parse"}); snap.Count != 1 {
		t.Errorf("expected one observation, got %d", snap.Count)
	}
}

func TestExponentialBuckets(t *testing.T) {
	b := ExponentialBuckets(1, 2, 4)
	want := []float64{1, 2, 4, 8}
	for i := range want {
		if b[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, b)
		}
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewCounter("a_total", "a")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NewGauge("a_total", "again")); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if r.Get("a_total") == nil {
		t.Error("registered metric not found")
	}
}

func TestRegistryGather(t *testing.T) {
	r := NewRegistry()
	c := NewCounter("lines_total", "Lines")
	g := NewGauge("drift_mm", "Drift")
	r.MustRegister(c, g)

	c.Inc(Labels{"command": "G1"})
	c.Inc(Labels{"command": "G92"})
	g.Set(Labels{"tool": "0"}, 1.5)

	out := r.Gather()
	for _, want := range []string{
		"# HELP lines_total Lines\n# TYPE lines_total counter\n",
		`lines_total{command="G1"} 1`,
		`lines_total{command="G92"} 1`,
		"# TYPE drift_mm gauge\n",
		`drift_mm{tool="0"} 1.5`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	// registration order, then label order
	if strings.Index(out, "lines_total") > strings.Index(out, "drift_mm") {
		t.Error("metrics not in registration order")
	}
	if strings.Index(out, `"G1"`) > strings.Index(out, `"G92"`) {
		t.Error("series not sorted by labels")
	}
}

func TestHistogramGather(t *testing.T) {
	h := NewHistogram("handle_seconds", "Handle", []float64{0.1, 1})
	h.Observe(nil, 0.05)
	h.Observe(nil, 5)

	var sb strings.Builder
	h.Write(&sb)
	out := sb.String()
	for _, want := range []string{
		`handle_seconds_bucket{le="0.1"} 1`,
		`handle_seconds_bucket{le="1"} 1`,
		`handle_seconds_bucket{le="+Inf"} 2`,
		"handle_seconds_sum 5.05",
		"handle_seconds_count 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestLabelsKey(t *testing.T) {
	a := Labels{"tool": "1", "command": "G1"}
	b := Labels{"command": "G1", "tool": "1"}
	if a.Key() != b.Key() {
		t.Errorf("keys differ: %q vs %q", a.Key(), b.Key())
	}
	if Labels(nil).Key() != "" || Labels(nil).String() != "" {
		t.Error("nil labels should render empty")
	}
}

func TestLabelsWithDoesNotMutate(t *testing.T) {
	l := Labels{"tool": "0"}
	w := l.With("le", "1")
	if _, ok := l["le"]; ok {
		t.Error("With mutated the receiver")
	}
	if w.String() != `{le="1",tool="0"}` {
		t.Errorf("unexpected labels %s", w)
	}
}

func TestSpecialCharacterEscaping(t *testing.T) {
	l := Labels{"msg": "a \"quoted\"\\path\nnext"}
	want := `{msg="a \"quoted\"\\path\nnext"}`
	if l.String() != want {
		t.Errorf("expected %s, got %s", want, l.String())
	}
}

func BenchmarkCounterIncWithLabels(b *testing.B) {
	c := NewCounter("bench_total", "bench")
	l := Labels{"tool": "0"}
	for i := 0; i < b.N; i++ {
		c.Inc(l)
	}
}
