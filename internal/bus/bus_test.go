package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusFIFOWithinGroup(t *testing.T) {
	b := NewMemoryBus()

	var mu sync.Mutex
	var seen []int

	done := make(chan struct{})
	count := 0

	b.Subscribe("topic.a", func(_ context.Context, payload []byte) error {
		var n int
		require.NoError(t, json.Unmarshal(payload, &n))

		mu.Lock()
		seen = append(seen, n)
		count++
		finished := count == 20
		mu.Unlock()

		if finished {
			close(done)
		}
		return nil
	})

	for i := 0; i < 20; i++ {
		require.NoError(t, b.Emit(context.Background(), "topic.a", "group-1", i))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all messages")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, n := range seen {
		assert.Equal(t, i, n, "messages within a group must be delivered in emit order")
	}
}

func TestMemoryBusGroupsAreIndependent(t *testing.T) {
	b := NewMemoryBus()

	var mu sync.Mutex
	groupOrder := map[string][]int{}
	var wg sync.WaitGroup
	wg.Add(40)

	b.Subscribe("topic.b", func(_ context.Context, payload []byte) error {
		var msg struct {
			Group string
			N     int
		}
		_ = json.Unmarshal(payload, &msg)
		mu.Lock()
		groupOrder[msg.Group] = append(groupOrder[msg.Group], msg.N)
		mu.Unlock()
		wg.Done()
		return nil
	})

	for g := 0; g < 4; g++ {
		for i := 0; i < 10; i++ {
			group := []string{"a", "b", "c", "d"}[g]
			payload := struct {
				Group string
				N     int
			}{Group: group, N: i}
			require.NoError(t, b.Emit(context.Background(), "topic.b", group, payload))
		}
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all messages")
	}

	mu.Lock()
	defer mu.Unlock()
	for group, order := range groupOrder {
		for i, n := range order {
			assert.Equal(t, i, n, "group %s out of order", group)
		}
	}
}

func TestMemoryBusNoSubscriberDoesNotBlock(t *testing.T) {
	b := NewMemoryBus()
	err := b.Emit(context.Background(), "unsubscribed.topic", "g", map[string]string{"k": "v"})
	require.NoError(t, err)
}
