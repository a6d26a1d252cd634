package ctconfig

import (
	"fmt"
	"log"
	"os"
	"os/signal"

	consul "github.com/hashicorp/consul/api"
)

// Leadership holds a single-active-instance Consul lock. Only one process
// sharing lockPath at a time runs the poll scheduler; the rest block in
// Acquire until the lock is released. Running N redundant copies of every
// LogPoller against the same upstream logs would be wasteful and noisy, so
// a single-active-instance pattern gates the poll scheduler the same way a
// distributed lock gates any other single-writer resource.
type Leadership struct {
	lock  *consul.Lock
	eStop <-chan struct{}
}

// Acquire blocks until lockPath is held. If the lock is later lost (Consul
// session expiry, network partition), a background goroutine started here
// logs it and exits the process via log.Fatal.
func Acquire(consulAddress, lockPath string) (*Leadership, error) {
	cfg := consul.DefaultConfig()
	if consulAddress != "" {
		cfg.Address = consulAddress
	}

	client, err := consul.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("ctconfig: creating consul client: %w", err)
	}

	lock, err := client.LockKey(lockPath)
	if err != nil {
		return nil, fmt.Errorf("ctconfig: creating lock for %s: %w", lockPath, err)
	}

	eStop, err := lock.Lock(nil)
	if err != nil {
		return nil, fmt.Errorf("ctconfig: acquiring lock %s: %w", lockPath, err)
	}

	l := &Leadership{lock: lock, eStop: eStop}

	go func() {
		<-l.eStop
		log.Fatal("ctconfig: consul lock lost, exiting")
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		log.Println("ctconfig: interrupted, releasing lock")
		lock.Unlock()
	}()

	return l, nil
}

// Release gives up leadership voluntarily, e.g. during graceful shutdown.
func (l *Leadership) Release() {
	if l == nil {
		return
	}
	l.lock.Unlock()
}
