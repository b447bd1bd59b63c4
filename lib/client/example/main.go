// Example demonstrates caching and connection pooling around a TCP service.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/torontoai/reservoir/lib/cache"
	"github.com/torontoai/reservoir/lib/client"
	"github.com/torontoai/reservoir/lib/pool"
	"github.com/torontoai/reservoir/lib/registry"
)

func main() {
	reg := registry.New()
	defer reg.Close()

	p := createPool(reg)
	c := client.New(cache.New(cache.DefaultConfig()), p)

	fetchTwice(c)
	printStats(c)
}

// createPool registers a TCP connection pool for the echo service.
func createPool(reg *registry.Registry) *pool.Pool {
	cfg := pool.DefaultConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 5

	p, err := reg.CreatePool("echo", pool.LifecycleFuncs{
		CreateFunc: func(ctx context.Context) (pool.Connection, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", "127.0.0.1:7070")
		},
		ValidateFunc: func(conn pool.Connection) bool {
			return conn.(net.Conn).SetDeadline(time.Now().Add(time.Second)) == nil
		},
		DestroyFunc: func(conn pool.Connection) error {
			return conn.(net.Conn).Close()
		},
	}, cfg)
	if err != nil {
		log.Fatalf("Failed to create pool: %v", err)
	}
	return p
}

// fetchTwice runs the same cached read twice; the second call is served
// from the cache without borrowing a connection.
func fetchTwice(c *client.Client) {
	op := func(ctx context.Context, conn pool.Connection) (any, error) {
		tcp := conn.(net.Conn)
		if _, err := fmt.Fprintln(tcp, "GET motd"); err != nil {
			return nil, err
		}
		return bufio.NewReader(tcp).ReadString('\n')
	}

	for i := 0; i < 2; i++ {
		result, err := c.Cached(context.Background(), "motd", time.Minute, op)
		if err != nil {
			log.Fatalf("Fetch failed: %v", err)
		}
		fmt.Printf("motd: %v\n", result)
	}
}

// printStats prints the combined cache and pool statistics.
func printStats(c *client.Client) {
	s := c.Stats()
	fmt.Printf("\n=== Stats ===\n")
	fmt.Printf("Cache hits:   %d\n", s.Cache.Hits)
	fmt.Printf("Cache misses: %d\n", s.Cache.Misses)
	fmt.Printf("Pool open:    %d\n", s.Pool.Open)
	fmt.Printf("Pool idle:    %d\n", s.Pool.Idle)
}
