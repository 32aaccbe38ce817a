package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jaakkos/deaddrop/internal/store"
)

const (
	defaultDebounceMs   = 200
	defaultPollInterval = 10 * time.Second

	methodToolsListChanged = "notifications/tools/list_changed"
	methodLogMessage       = "notifications/message"
)

// PushFunc delivers one server-initiated notification to a session. A non-nil
// error means the session is dead.
type PushFunc func(sessionID, method string, params map[string]any) error

// AlertText renders the unread alert pushed as a log message and injected
// into the check_inbox tool description.
func AlertText(unread int, senders []string) string {
	return fmt.Sprintf("YOU HAVE %d UNREAD MESSAGE(S) from %s. Call check_inbox now.",
		unread, strings.Join(senders, ", "))
}

// Notifier wakes idle agents. After a commit the mutating handler calls
// Notify with the recipient set; each connected recipient gets a
// tools-list-changed push (so its client re-fetches the now-prefixed
// check_inbox description) followed by an alert-level log push naming the
// senders. It also watches the store's signal file so writes from another
// process sharing the database reach this process's sessions, with a poll
// fallback when fsnotify is unavailable.
type Notifier struct {
	signalPath   string
	store        *store.Store
	registry     *SessionRegistry
	push         PushFunc
	evict        func(sessionID string)
	logger       *log.Logger
	debounceMs   int
	pollInterval time.Duration

	mu            sync.Mutex
	lastPushedRev string
	debounceTimer *time.Timer
	watcher       *fsnotify.Watcher
	useFsnotify   bool
	stopCh        chan struct{}
	doneCh        chan struct{}
	pushMu        sync.Mutex // serializes signal-driven sweeps
}

// NotifierOption configures the notifier.
type NotifierOption func(*Notifier)

// WithPollInterval sets the fallback poll interval.
func WithPollInterval(d time.Duration) NotifierOption {
	return func(n *Notifier) { n.pollInterval = d }
}

// NewNotifier creates a notifier. evict is called with the session id of any
// session whose push failed; it must drop the session from the registry and
// the session store.
func NewNotifier(signalPath string, st *store.Store, registry *SessionRegistry,
	push PushFunc, evict func(string), logger *log.Logger, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		signalPath:   signalPath,
		store:        st,
		registry:     registry,
		push:         push,
		evict:        evict,
		logger:       logger,
		debounceMs:   defaultDebounceMs,
		pollInterval: defaultPollInterval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Notify pushes to every named recipient with a live session. Recipients
// without a session are skipped; their alert surfaces on their next
// capability fetch. A failed push evicts the session, no retry.
func (n *Notifier) Notify(agents []string) {
	for _, agent := range agents {
		sid := n.registry.SessionFor(agent)
		if sid == "" {
			continue
		}
		if err := n.push(sid, methodToolsListChanged, nil); err != nil {
			n.logger.Printf("Notifier: push to %s failed, evicting session %s: %v", agent, sid, err)
			n.evict(sid)
			continue
		}
		unread, senders, err := n.store.UnreadFor(agent)
		if err != nil {
			n.logger.Printf("Notifier: unread lookup for %s: %v", agent, err)
			continue
		}
		if unread == 0 {
			continue
		}
		params := map[string]any{
			"level":  "alert",
			"logger": "dead-drop",
			"data":   AlertText(unread, senders),
		}
		if err := n.push(sid, methodLogMessage, params); err != nil {
			n.logger.Printf("Notifier: alert to %s failed, evicting session %s: %v", agent, sid, err)
			n.evict(sid)
		}
	}
}

// Start runs the signal-file watcher and the fallback poll until ctx is
// cancelled. If fsnotify cannot be initialized, poll-only.
func (n *Notifier) Start(ctx context.Context) {
	defer close(n.doneCh)

	watchDir := filepath.Dir(n.signalPath)
	signalName := filepath.Base(n.signalPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		n.logger.Printf("Notifier: fsnotify init failed (%v), using poll-only", err)
	} else if err := watcher.Add(watchDir); err != nil {
		n.logger.Printf("Notifier: fsnotify add %s failed (%v), using poll-only", watchDir, err)
		_ = watcher.Close()
	} else {
		n.watcher = watcher
		n.useFsnotify = true
	}

	if n.useFsnotify {
		defer n.watcher.Close()
		go n.watchLoop(ctx, signalName)
	}
	n.pollLoop(ctx)
}

// Stop signals the notifier to stop. Call after cancelling Start's context.
func (n *Notifier) Stop() {
	close(n.stopCh)
	<-n.doneCh
}

// CheckOnce runs one signal sweep (manual trigger, used in tests).
func (n *Notifier) CheckOnce() {
	n.sweep()
}

func (n *Notifier) watchLoop(ctx context.Context, signalName string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != signalName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			n.triggerDebounced()
		case _, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (n *Notifier) triggerDebounced() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.debounceTimer != nil {
		n.debounceTimer.Stop()
	}
	n.debounceTimer = time.AfterFunc(time.Duration(n.debounceMs)*time.Millisecond, n.sweep)
}

func (n *Notifier) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.sweep()
		}
	}
}

// sweep pushes to every connected agent that has unread mail. Driven by the
// signal file, deduplicated by its revision so one external write causes one
// sweep.
func (n *Notifier) sweep() {
	n.pushMu.Lock()
	defer n.pushMu.Unlock()

	rev := n.readSignalRevision()
	if rev == "" {
		return
	}
	n.mu.Lock()
	if rev == n.lastPushedRev {
		n.mu.Unlock()
		return
	}
	n.lastPushedRev = rev
	n.mu.Unlock()

	var withUnread []string
	for _, agent := range n.registry.ConnectedAgents() {
		unread, _, err := n.store.UnreadFor(agent)
		if err != nil {
			n.logger.Printf("Notifier: unread lookup for %s: %v", agent, err)
			continue
		}
		if unread > 0 {
			withUnread = append(withUnread, agent)
		}
	}
	if len(withUnread) > 0 {
		n.Notify(withUnread)
	}
}

func (n *Notifier) readSignalRevision() string {
	data, err := os.ReadFile(n.signalPath)
	if err != nil {
		return ""
	}
	return string(data)
}
