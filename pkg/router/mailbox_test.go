package router

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/parley/pkg/model"
)

func TestMailboxDrainTwice(t *testing.T) {
	s := newMailboxStore()
	s.ensure(1)

	var want []model.Message
	for i := range 3 {
		m := model.Message{Sender: "a", Receiver: "b", Content: fmt.Sprint(i)}
		s.push(1, m)
		want = append(want, m)
	}

	if diff := cmp.Diff(want, s.drain(1)); diff != "" {
		t.Errorf("first drain mismatch (-want +got):\n%s", diff)
	}
	if got := s.drain(1); len(got) != 0 {
		t.Errorf("second drain = %v, want empty", got)
	}
	if got := s.drain(42); got != nil {
		t.Errorf("drain of unknown id = %v, want nil", got)
	}
}

func TestMailboxConcurrentPushDrain(t *testing.T) {
	s := newMailboxStore()
	const writers, perWriter = 8, 200

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				s.push(1, model.Message{Sender: fmt.Sprint(w), Content: fmt.Sprint(i)})
			}
		}()
	}

	done := make(chan struct{})
	seen := make(map[string]int)
	var got []model.Message
	go func() {
		defer close(done)
		for {
			got = append(got, s.drain(1)...)
			if len(got) == writers*perWriter {
				return
			}
		}
	}()
	wg.Wait()
	<-done

	for _, m := range got {
		seen[m.Sender+"/"+m.Content]++
	}
	if len(seen) != writers*perWriter {
		t.Fatalf("distinct messages = %d, want %d", len(seen), writers*perWriter)
	}
	for k, n := range seen {
		if n != 1 {
			t.Errorf("message %s delivered %d times", k, n)
		}
	}
	if s.pending() != 0 {
		t.Errorf("pending = %d, want 0", s.pending())
	}
}

func TestMailboxPreservesPerWriterOrder(t *testing.T) {
	s := newMailboxStore()
	for i := range 5 {
		s.push(7, model.Message{Content: fmt.Sprint(i)})
	}
	if s.depth(7) != 5 {
		t.Fatalf("depth = %d, want 5", s.depth(7))
	}
	var got []string
	for _, m := range s.drain(7) {
		got = append(got, m.Content)
	}
	if diff := cmp.Diff([]string{"0", "1", "2", "3", "4"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}
