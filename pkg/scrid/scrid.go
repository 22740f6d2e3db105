package scrid

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

const timeLayout = "20060102150405"

// Generator hands out correlation ids shaped YYYYMMDDhhmmss-<host>-<pid>-<counter>.
// The counter never goes back, so ids are unique for the process lifetime.
type Generator struct {
	host    string
	pid     int
	counter atomic.Uint64
}

func NewGenerator(host string, pid int) *Generator {
	return &Generator{
		host: sanitizeHost(host),
		pid:  pid,
	}
}

var defaultGenerator = newDefault()

func newDefault() *Generator {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return NewGenerator(host, os.Getpid())
}

// Next returns a new id using t (converted to UTC) as its time prefix.
func (g *Generator) Next(t time.Time) string {
	n := g.counter.Add(1)
	return fmt.Sprintf("%s-%s-%d-%d", t.UTC().Format(timeLayout), g.host, g.pid, n)
}

// Default returns the process-wide generator.
func Default() *Generator {
	return defaultGenerator
}

// New returns an id from the process-wide generator.
func New(t time.Time) string {
	return defaultGenerator.Next(t)
}

func sanitizeHost(host string) string {
	host = strings.TrimSpace(host)
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, host)
}
