package klw

import (
	"errors"
	"testing"
)

func TestBufferDedup(t *testing.T) {
	b := NewBuffer(CategoryDevice, "device", nil)

	var adds, changes int
	b.Listen("count", func(ev BufferEvent, _ string, _ Instruction) error {
		switch ev {
		case BufferAdd:
			adds++
		case BufferChange:
			changes++
		}
		return nil
	})

	ins := NewInstruction(243, 199, 1, 2, 3, 0, 1)
	if ev := b.Add(ins, 0, 1, 2, 3, 4); ev != BufferAdd {
		t.Errorf("first Add = %v, want add", ev)
	}
	if ev := b.Add(ins, 0, 1, 2, 3, 4); ev != BufferUnchanged {
		t.Errorf("second Add = %v, want unchanged", ev)
	}
	if adds != 1 || changes != 0 {
		t.Fatalf("adds=%d changes=%d, want 1 and 0", adds, changes)
	}

	changed := NewInstruction(243, 199, 1, 2, 3, 0, 0)
	if ev := b.Add(changed, 0, 1, 2, 3, 4); ev != BufferChange {
		t.Errorf("differing Add = %v, want change", ev)
	}
	if adds != 1 || changes != 1 {
		t.Errorf("adds=%d changes=%d, want 1 and 1", adds, changes)
	}

	got, ok := b.Get("243-199-1-2-3")
	if !ok || got != changed {
		t.Errorf("Get() = %v, %v; want latest instruction", got, ok)
	}
}

func TestBufferAddIgnoring(t *testing.T) {
	b := NewBuffer(CategorySensor, "sensor", nil)
	first := NewInstruction(243, 198, 1, 2, 30, 20, 0)
	b.AddIgnoring(first, []int{7}, 0, 1, 2, 3, 5)

	again := NewInstruction(243, 198, 1, 2, 30, 20, 1)
	if ev := b.AddIgnoring(again, []int{6, 7}, 0, 1, 2, 3, 5); ev != BufferUnchanged {
		t.Errorf("AddIgnoring = %v, want unchanged", ev)
	}
}

func TestBufferFirstKeepsInsertionOrder(t *testing.T) {
	b := NewBuffer(CategoryFM, "fm", nil)
	if _, ok := b.First(); ok {
		t.Fatal("First() on empty buffer returned ok")
	}

	a := NewInstruction(243, 202, 1, 1, 3, 10, 20)
	c := NewInstruction(243, 202, 0, 0, 3, 11, 21)
	b.Add(a, 0, 1, 2, 3, 4)
	b.Add(c, 0, 1, 2, 3, 4)
	b.Add(NewInstruction(243, 202, 1, 1, 3, 12, 22), 0, 1, 2, 3, 4)

	first, _ := b.First()
	if first.D3() != 1 || first.D6() != 12 {
		t.Errorf("First() = %v, want the updated first uid", first)
	}

	b.Clear()
	if b.Len() != 0 {
		t.Errorf("Len() after Clear = %d", b.Len())
	}
}

func TestBufferFailingListenerIsRemoved(t *testing.T) {
	b := NewBuffer(CategoryScene, "scene", nil)

	var failing, healthy, panicking int
	b.Listen("failing", func(BufferEvent, string, Instruction) error {
		failing++
		return errors.New("boom")
	})
	b.Listen("panicking", func(BufferEvent, string, Instruction) error {
		panicking++
		panic("listener bug")
	})
	b.Listen("healthy", func(BufferEvent, string, Instruction) error {
		healthy++
		return nil
	})

	b.Add(NewInstruction(243, 129, 1, 1, 130, 0, 0), 0, 1, 2, 3, 4)
	b.Add(NewInstruction(243, 129, 1, 1, 131, 0, 0), 0, 1, 2, 3, 4)

	if failing != 1 {
		t.Errorf("failing listener called %d times, want 1", failing)
	}
	if panicking != 1 {
		t.Errorf("panicking listener called %d times, want 1", panicking)
	}
	if healthy != 2 {
		t.Errorf("healthy listener called %d times, want 2", healthy)
	}
}

func TestBufferListenReplacesSameKey(t *testing.T) {
	b := NewBuffer(CategoryDevice, "device", nil)
	var first, second int
	b.Listen("k", func(BufferEvent, string, Instruction) error { first++; return nil })
	b.Listen("k", func(BufferEvent, string, Instruction) error { second++; return nil })

	b.Add(NewInstruction(243, 199, 1, 1, 1, 0, 0), 0, 1, 2, 3, 4)
	if first != 0 || second != 1 {
		t.Errorf("first=%d second=%d, want 0 and 1", first, second)
	}

	b.Unlisten("k")
	b.Add(NewInstruction(243, 199, 1, 1, 2, 0, 0), 0, 1, 2, 3, 4)
	if second != 1 {
		t.Errorf("listener called after Unlisten")
	}
}

func TestBufferFailedListenerKeepsReplacement(t *testing.T) {
	b := NewBuffer(CategoryDevice, "device", nil)

	var replaced int
	b.Listen("k", func(BufferEvent, string, Instruction) error {
		b.Listen("k", func(BufferEvent, string, Instruction) error {
			replaced++
			return nil
		})
		return errors.New("stale")
	})

	b.Add(NewInstruction(243, 199, 1, 2, 3, 0, 0), 0, 1, 2, 3, 4)
	b.Add(NewInstruction(243, 199, 1, 2, 4, 0, 0), 0, 1, 2, 3, 4)

	if keys := b.Listeners(); len(keys) != 1 || keys[0] != "k" {
		t.Fatalf("Listeners() = %v, want the re-registered k", keys)
	}
	if replaced != 1 {
		t.Errorf("replacement listener called %d times, want 1", replaced)
	}
}
