package batch

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

// collect adds n documents sequentially and returns flushed and drained batches.
func collect(t *testing.T, n, size int) (flushed []Batch, drained []Batch) {
	t.Helper()
	acc, err := New(size)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < n; i++ {
		if b, ok := acc.Add(fmt.Sprintf("doc-%d", i)); ok {
			flushed = append(flushed, b)
		}
	}
	if b, ok := acc.Drain(); ok {
		drained = append(drained, b)
	}
	return flushed, drained
}

func TestAccumulator_Scenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		total, size int
		wantFlushed int
		wantDrained int
		wantLast    int
	}{
		{name: "even split", total: 100, size: 20, wantFlushed: 5, wantDrained: 0},
		{name: "remainder", total: 95, size: 20, wantFlushed: 4, wantDrained: 1, wantLast: 15},
		{name: "empty", total: 0, size: 20, wantFlushed: 0, wantDrained: 0},
		{name: "smaller than batch", total: 3, size: 20, wantFlushed: 0, wantDrained: 1, wantLast: 3},
		{name: "batch of one", total: 4, size: 1, wantFlushed: 4, wantDrained: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			flushed, drained := collect(t, tc.total, tc.size)

			if len(flushed) != tc.wantFlushed {
				t.Fatalf("flushed %d batches, want %d", len(flushed), tc.wantFlushed)
			}
			for _, b := range flushed {
				if b.Len() != tc.size {
					t.Errorf("batch %d has %d texts, want %d", b.Number, b.Len(), tc.size)
				}
			}
			if len(drained) != tc.wantDrained {
				t.Fatalf("drained %d batches, want %d", len(drained), tc.wantDrained)
			}
			if tc.wantDrained == 1 && drained[0].Len() != tc.wantLast {
				t.Errorf("drained batch has %d texts, want %d", drained[0].Len(), tc.wantLast)
			}

			all := append(flushed, drained...)
			for i, b := range all {
				if b.Number != i+1 {
					t.Errorf("batch %d has number %d, want %d", i, b.Number, i+1)
				}
			}
		})
	}
}

func TestAccumulator_PreservesAppendOrder(t *testing.T) {
	t.Parallel()

	flushed, drained := collect(t, 7, 3)
	var got []string
	for _, b := range append(flushed, drained...) {
		got = append(got, b.Texts...)
	}
	for i, s := range got {
		if want := fmt.Sprintf("doc-%d", i); s != want {
			t.Errorf("position %d = %q, want %q", i, s, want)
		}
	}
}

func TestAccumulator_SecondDrainIsEmpty(t *testing.T) {
	t.Parallel()

	acc, _ := New(5)
	acc.Add("a")
	if _, ok := acc.Drain(); !ok {
		t.Fatal("first drain returned nothing")
	}
	if b, ok := acc.Drain(); ok {
		t.Errorf("second drain returned %+v", b)
	}
	b, _ := acc.Add("b")
	if b.Number != 0 {
		t.Errorf("unexpected flush %+v", b)
	}
	last, ok := acc.Drain()
	if !ok || last.Number != 2 {
		t.Errorf("expected batch number 2 after an empty drain, got %+v ok=%v", last, ok)
	}
}

func TestAccumulator_SnapshotIsIndependent(t *testing.T) {
	t.Parallel()

	acc, _ := New(2)
	acc.Add("a")
	b, ok := acc.Add("b")
	if !ok {
		t.Fatal("expected flush")
	}
	acc.Add("c")
	if b.Texts[0] != "a" || b.Texts[1] != "b" || len(b.Texts) != 2 {
		t.Errorf("flushed batch mutated by later adds: %v", b.Texts)
	}
	if acc.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", acc.Pending())
	}
}

func TestAccumulator_ConcurrentAddsExactlyOnce(t *testing.T) {
	t.Parallel()

	const (
		producers = 50
		perWorker = 41
		size      = 17
	)
	acc, _ := New(size)

	var (
		mu      sync.Mutex
		batches []Batch
		wg      sync.WaitGroup
	)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if b, ok := acc.Add(fmt.Sprintf("%d-%d", p, i)); ok {
					mu.Lock()
					batches = append(batches, b)
					mu.Unlock()
				}
			}
		}(p)
	}
	wg.Wait()
	if b, ok := acc.Drain(); ok {
		batches = append(batches, b)
	}

	total := producers * perWorker
	wantBatches := (total + size - 1) / size
	if len(batches) != wantBatches {
		t.Fatalf("got %d batches, want %d", len(batches), wantBatches)
	}

	sort.Slice(batches, func(i, j int) bool { return batches[i].Number < batches[j].Number })
	seen := make(map[string]bool, total)
	short := 0
	for i, b := range batches {
		if b.Number != i+1 {
			t.Errorf("batch numbers not gapless: position %d has %d", i, b.Number)
		}
		if b.Len() != size {
			short++
		}
		for _, s := range b.Texts {
			if seen[s] {
				t.Errorf("document %q appears in more than one batch", s)
			}
			seen[s] = true
		}
	}
	if len(seen) != total {
		t.Errorf("saw %d distinct documents, want %d", len(seen), total)
	}
	if short > 1 {
		t.Errorf("%d batches are short, want at most 1", short)
	}
}

func TestNew_RejectsNonPositiveSize(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, -1} {
		if _, err := New(n); err == nil {
			t.Errorf("New(%d) succeeded", n)
		}
	}
}
