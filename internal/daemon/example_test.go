package daemon_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/mschirtzinger/todosync/internal/daemon"
	"github.com/mschirtzinger/todosync/internal/schema"
	todosync "github.com/mschirtzinger/todosync/internal/sync"
)

// Example_basicUsage demonstrates daemon setup and a submitted create.
func Example_basicUsage() {
	dir, err := os.MkdirTemp("", "todosync-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "todo.txt")

	logger := log.New(os.Stderr, "[daemon] ", log.Ltime)

	watcher, err := daemon.NewFileWatcher(logger)
	if err != nil {
		log.Fatal(err)
	}
	engine := todosync.New(watcher, todosync.NopHost{}, nil)

	d, err := daemon.NewWithConfig(engine, watcher, path, &daemon.Config{
		DebounceInterval: 50 * time.Millisecond,
		Logger:           logger,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()
	<-d.Ready()

	result, err := d.Submit(ctx, daemon.Request{
		Kind: daemon.RequestCreate,
		Item: &schema.Item{Payload: &schema.Todo{Summary: "water the plants"}},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("created", result.Item.Identifier())

	cancel()
	<-errCh
}
