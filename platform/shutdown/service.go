package shutdown

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rohanthewiz/logger"
)

const gracePeriod = 15 * time.Second

type HookFunc func(duration time.Duration) error

type shutdownHooks struct {
	Hooks []HookFunc
	lock  sync.Mutex
}

var hooks shutdownHooks

// RegisterHook adds a hook to run at shutdown. Hooks run concurrently
// and share the grace period.
func RegisterHook(fn HookFunc) {
	hooks.lock.Lock()
	defer hooks.lock.Unlock()
	hooks.Hooks = append(hooks.Hooks, fn)
}

// InitShutdownService installs signal handling so things can shutdown
// gracefully. It closes the done channel once all hooks complete or
// the grace period expires.
func InitShutdownService(done chan struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer close(done)
		wg := sync.WaitGroup{}

		sig := <-sigChan
		log.Printf("Received shutdown signal: %v", sig)
		setShutdown()

		log.Printf("Shutting down %d hooks (grace period is: %s)", len(hooks.Hooks), gracePeriod)

		for i, hook := range hooks.Hooks {
			wg.Add(1)
			go func(it int) {
				defer wg.Done()
				_ = hook(gracePeriod)
				log.Printf("Shutdown hook %d completed", it)
			}(i)
		}

		holdForWaitGroup := make(chan struct{})
		go func() {
			wg.Wait()
			logger.F("All shutdown hooks completed")
			close(holdForWaitGroup)
		}()

		select {
		case <-holdForWaitGroup:
			// Wait completed normally
		case <-time.After(gracePeriod):
			log.Printf("Shutdown hooks timed out after %v", gracePeriod)
		}
		logger.Info("Shutdown service done")
	}()
}
