// Package id generates identifiers for packets, consumers and runner instances.
//
// Packets and consumers get prefixed ULIDs so that ids sort by creation time and
// are recognisable in logs (pkt_01H..., con_01H...). Runner instances get a UUID,
// which is what the grid manager keys its registrations on.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// PacketID identifies a packet for its whole lifetime in a pipeline.
type PacketID string

// ConsumerID identifies one registered downstream consumer connection.
type ConsumerID string

// RunnerID identifies one brick runner process.
type RunnerID string

const (
	PacketPrefix   = "pkt"
	ConsumerPrefix = "con"
)

// Generator produces ULIDs. Ids generated within the same millisecond are
// strictly increasing.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator seeded from crypto/rand.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: ulid.Monotonic(entropy, 0)}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// WithPrefix creates a "prefix_ULID" string.
func (g *Generator) WithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewPacketID generates a packet id.
func NewPacketID() PacketID {
	return PacketID(Default().WithPrefix(PacketPrefix))
}

// NewConsumerID generates a consumer id.
func NewConsumerID() ConsumerID {
	return ConsumerID(Default().WithPrefix(ConsumerPrefix))
}

// NewRunnerID generates a runner instance id.
func NewRunnerID() RunnerID {
	return RunnerID(uuid.New().String())
}

func (id PacketID) String() string   { return string(id) }
func (id ConsumerID) String() string { return string(id) }
func (id RunnerID) String() string   { return string(id) }

// Timestamp extracts the creation time of a prefixed or bare ULID.
func Timestamp(s string) (time.Time, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

// IsValidRunnerID reports whether s parses as a runner UUID.
func IsValidRunnerID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
