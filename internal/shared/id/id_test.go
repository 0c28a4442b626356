package id

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixedIDs(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() string
		prefix string
	}{
		{"packet", func() string { return NewPacketID().String() }, "pkt_"},
		{"consumer", func() string { return NewConsumerID().String() }, "con_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.gen()
			assert.True(t, strings.HasPrefix(got, tt.prefix), got)
			assert.Len(t, strings.TrimPrefix(got, tt.prefix), 26)
		})
	}
}

func TestGeneratorIsMonotonic(t *testing.T) {
	gen := NewGenerator()

	ids := make([]string, 1000)
	for i := range ids {
		ids[i] = gen.Generate().String()
	}

	assert.True(t, sort.StringsAreSorted(ids), "ULIDs from one generator should sort by creation")
}

func TestGeneratorConcurrentUse(t *testing.T) {
	gen := NewGenerator()

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s := gen.WithPrefix(PacketPrefix)
				mu.Lock()
				seen[s] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1600)
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := Timestamp(NewPacketID().String())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Timestamp("pkt_not-a-ulid")
	assert.Error(t, err)
}

func TestRunnerID(t *testing.T) {
	a, b := NewRunnerID(), NewRunnerID()
	assert.NotEqual(t, a, b)
	assert.True(t, IsValidRunnerID(a.String()))
	assert.False(t, IsValidRunnerID("runner-1"))
}
