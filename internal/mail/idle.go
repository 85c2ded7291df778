package mail

import (
	"sync"
	"time"

	"mailengine/internal/eventbus"
	"mailengine/internal/logging"
)

// idleTimeout is the RFC 2177-recommended reissue interval: servers may drop
// an idle connection after 30 minutes of inactivity, so the loop refreshes
// a few minutes early, matching idle_timeout_secs in
// original_source/src-tauri/src/email/idle.rs.
const idleTimeout = 29 * time.Minute

// idleRetryDelay is how long the supervisor waits after a connect or
// protocol error before trying again, matching retry_delay in idle.rs.
const idleRetryDelay = 30 * time.Second

// NewMailEvent is the payload published on eventbus.TopicMailNew.
type NewMailEvent struct {
	AccountID string `json:"account_id"`
	Folder    string `json:"folder"`
}

// IdleSupervisor runs one IDLE loop per account, translating idle.rs's
// per-account tokio::sync::watch shutdown broadcast into a close-to-signal
// chan struct{}, and its outer retry/reissue loop into the
// ticker/stop-channel idiom used by internal/task/scheduler/scheduler.go.
type IdleSupervisor struct {
	bus *eventbus.Bus
	log *logging.Logger

	mu      sync.Mutex
	stopFns map[string]func()
}

func NewIdleSupervisor(bus *eventbus.Bus) *IdleSupervisor {
	return &IdleSupervisor{
		bus:     bus,
		log:     logging.New("mail.idle"),
		stopFns: make(map[string]func()),
	}
}

// StartIdle launches a supervisor goroutine for accountID/folder. connect
// must return a fresh, already-authenticated IdleCapable transport; the
// supervisor calls it again after every error, so credential refresh
// belongs inside connect.
func (s *IdleSupervisor) StartIdle(accountID, folder string, connect func() (IdleCapable, error)) {
	s.mu.Lock()
	if _, running := s.stopFns[accountID]; running {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.stopFns[accountID] = func() { close(stop) }
	s.mu.Unlock()

	go s.loop(accountID, folder, connect, stop)
}

// StopIdle stops the loop for a single account, if running.
func (s *IdleSupervisor) StopIdle(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stopFn, ok := s.stopFns[accountID]; ok {
		stopFn()
		delete(s.stopFns, accountID)
	}
}

// StopAll stops every running loop, used on process shutdown.
func (s *IdleSupervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for accountID, stopFn := range s.stopFns {
		stopFn()
		delete(s.stopFns, accountID)
	}
}

func (s *IdleSupervisor) loop(accountID, folder string, connect func() (IdleCapable, error), stop chan struct{}) {
	log := s.log.With(accountID)
	log.Printf("starting idle loop on %s", folder)

	var transport IdleCapable
	defer func() {
		if transport != nil {
			_ = transport.Close()
		}
	}()

	for {
		select {
		case <-stop:
			log.Printf("stopping idle loop")
			return
		default:
		}

		if transport == nil {
			t, err := connect()
			if err != nil {
				log.Printf("connect failed: %v, retrying in %s", err, idleRetryDelay)
				if !sleepOrStop(idleRetryDelay, stop) {
					return
				}
				continue
			}
			transport = t
		}

		gotMail, err := transport.IdleWait(folder, idleTimeout)
		if err != nil {
			log.Printf("idle error: %v, reconnecting in %s", err, idleRetryDelay)
			_ = transport.Close()
			transport = nil
			if !sleepOrStop(idleRetryDelay, stop) {
				return
			}
			continue
		}

		if gotMail {
			s.bus.Publish(eventbus.TopicMailNew, NewMailEvent{AccountID: accountID, Folder: folder})
		}
		// On timeout, gotMail is false and the loop simply reissues IDLE.
	}
}

// sleepOrStop waits for d or an early stop signal, returning false if
// stopped so the caller can exit rather than retry.
func sleepOrStop(d time.Duration, stop chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	}
}
