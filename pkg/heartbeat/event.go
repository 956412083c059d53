package heartbeat

import (
	"os"
	"os/signal"
	"time"
)

// Event is one input of the control loop
type Event int

const (
	EventHeartbeat Event = iota
	EventTerminate
	EventProcessExited
)

func (e Event) String() string {
	switch e {
	case EventHeartbeat:
		return "heartbeat"
	case EventTerminate:
		return "terminate"
	case EventProcessExited:
		return "process_exited"
	default:
		return "unknown"
	}
}

const DefaultInterval = 3 * time.Second

// ForwardSignals pushes EventTerminate into events for every received signal.
// The returned function stops forwarding; the keeper never calls it and lets
// the goroutine die with the process.
func ForwardSignals(events chan<- Event, signals ...os.Signal) func() {
	if len(signals) == 0 {
		// signal.Notify without signals would relay every signal
		return func() {}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, signals...)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigChan:
				select {
				case events <- EventTerminate:
				case <-stop:
					return
				}
			case <-stop:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(stop)
	}
}

// StartTicker pushes EventHeartbeat into events every interval
func StartTicker(events chan<- Event, interval time.Duration) func() {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case events <- EventHeartbeat:
				case <-stop:
					return
				}
			case <-stop:
				return
			}
		}
	}()

	return func() { close(stop) }
}

// WatchExit pushes EventProcessExited once done is closed
func WatchExit(events chan<- Event, done <-chan struct{}) {
	go func() {
		<-done
		events <- EventProcessExited
	}()
}
