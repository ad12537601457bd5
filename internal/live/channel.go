package live

import (
	"context"
	"sync"
	"time"

	"remessa-import/internal/logger"
	"remessa-import/internal/model"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// State is the client-side connection status, shown to the user as a
// tri-state indicator rather than as error popups.
type State string

const (
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateDisconnected State = "DISCONNECTED"
)

// Options configures the channel. Zero values fall back to the reference
// behavior: 300 ms debounce, backoff immediate / 2s / 5s / 10s repeating
// at the ceiling, retried without bound until Close.
type Options struct {
	URL      string
	Debounce time.Duration
	Backoff  []time.Duration
}

// Callbacks are delivered by the channel's own task. ReloadJob is
// best-effort: its error is logged at debug level and deliberately
// discarded, never surfaced.
type Callbacks struct {
	ReloadList   func(ctx context.Context)
	ReloadJob    func(ctx context.Context, jobID string) error
	StateChanged func(State)
}

type cmdKind int

const (
	cmdSetTenants cmdKind = iota
	cmdOpenJob
)

type command struct {
	kind    cmdKind
	tenants []string
	jobID   string
}

// Channel keeps the registry's client-side view fresh without polling.
// A single goroutine owns the connection, the subscribed tenant set, the
// open-job id and the debounce timer; callers talk to it over commands.
type Channel struct {
	opts   Options
	cb     Callbacks
	log    zerolog.Logger
	dialer *websocket.Dialer

	ctx     context.Context
	cancel  context.CancelFunc
	cmds    chan command
	runDone chan struct{}

	mu     sync.Mutex
	state  State
	closed bool
	cbWG   sync.WaitGroup
}

// Open starts the channel and asynchronously connects, subscribing the
// given tenant set once connected.
func Open(opts Options, tenants []string, cb Callbacks) *Channel {
	if opts.Debounce == 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		opts:    opts,
		cb:      cb,
		log:     logger.Get(),
		dialer:  websocket.DefaultDialer,
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan command, 8),
		runDone: make(chan struct{}),
		state:   StateConnecting,
	}

	go c.run(append([]string(nil), tenants...))
	return c
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetTenants replaces the subscribed tenant set. While connected this
// issues a re-subscribe frame, not a reconnect; while disconnected the
// set is picked up by the next (re)connect.
func (c *Channel) SetTenants(ids []string) {
	c.send(command{kind: cmdSetTenants, tenants: append([]string(nil), ids...)})
}

// SetOpenJob marks the job whose detail view is currently open. A change
// notification for that job triggers an immediate silent detail reload in
// addition to the debounced list reload.
func (c *Channel) SetOpenJob(jobID string) {
	c.send(command{kind: cmdOpenJob, jobID: jobID})
}

// ClearOpenJob removes the open-job mark.
func (c *Channel) ClearOpenJob() {
	c.send(command{kind: cmdOpenJob})
}

// Close tears the channel down: the pending debounce timer is cancelled,
// the connection is closed and no further callbacks fire once Close
// returns.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	<-c.runDone
	c.cbWG.Wait()
}

func (c *Channel) send(cmd command) {
	select {
	case c.cmds <- cmd:
	case <-c.ctx.Done():
	}
}

func (c *Channel) run(tenants []string) {
	defer close(c.runDone)

	openJob := ""
	attempt := 0
	for {
		if c.ctx.Err() != nil {
			return
		}
		c.notifyState(StateConnecting)

		conn, _, err := c.dialer.DialContext(c.ctx, c.opts.URL, nil)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Debug().Err(err).Int("attempt", attempt+1).Msg("Live channel connect failed")
			c.notifyState(StateDisconnected)
			if !c.waitBackoff(c.backoff(attempt), &tenants, &openJob) {
				return
			}
			attempt++
			continue
		}

		attempt = 0
		c.notifyState(StateConnected)
		// Always subscribe the set active at the moment of (re)connect,
		// not the set active when the channel was first opened.
		c.subscribe(conn, tenants)

		again := c.serve(conn, &tenants, &openJob)
		conn.Close()
		if !again {
			return
		}
		c.notifyState(StateDisconnected)
		if !c.waitBackoff(c.backoff(attempt), &tenants, &openJob) {
			return
		}
		attempt++
	}
}

func (c *Channel) backoff(attempt int) time.Duration {
	if attempt >= len(c.opts.Backoff) {
		return c.opts.Backoff[len(c.opts.Backoff)-1]
	}
	return c.opts.Backoff[attempt]
}

// waitBackoff sleeps between connection attempts while still applying
// commands, so a tenant-set change during an outage is reflected by the
// next subscribe. Returns false when the channel is being torn down.
func (c *Channel) waitBackoff(d time.Duration, tenants *[]string, openJob *string) bool {
	if d <= 0 {
		return c.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return false
		case cmd := <-c.cmds:
			c.apply(cmd, nil, tenants, openJob)
		case <-timer.C:
			return true
		}
	}
}

// serve owns one established connection. Returns true to reconnect,
// false when the channel is closed.
func (c *Channel) serve(conn *websocket.Conn, tenants *[]string, openJob *string) bool {
	msgs := make(chan model.ChangeNotification, 16)
	go c.read(conn, msgs)

	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return false

		case cmd := <-c.cmds:
			c.apply(cmd, conn, tenants, openJob)

		case n, ok := <-msgs:
			if !ok {
				// Connection dropped. A pending coalesced reload still
				// owes the caller "at least one reload after the last
				// event in a burst".
				if debounceC != nil {
					c.reloadList()
				}
				return true
			}
			if n.ImportacaoID == "" {
				continue
			}
			if debounceC == nil {
				debounce = time.NewTimer(c.opts.Debounce)
				debounceC = debounce.C
			}
			if *openJob != "" && n.ImportacaoID == *openJob {
				c.silentJobReload(n.ImportacaoID)
			}

		case <-debounceC:
			debounceC = nil
			c.reloadList()
		}
	}
}

func (c *Channel) apply(cmd command, conn *websocket.Conn, tenants *[]string, openJob *string) {
	switch cmd.kind {
	case cmdSetTenants:
		*tenants = cmd.tenants
		if conn != nil {
			c.subscribe(conn, *tenants)
		}
	case cmdOpenJob:
		*openJob = cmd.jobID
	}
}

func (c *Channel) read(conn *websocket.Conn, msgs chan<- model.ChangeNotification) {
	defer close(msgs)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		n, err := model.DecodeNotification(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("Ignoring malformed change notification")
			continue
		}
		select {
		case msgs <- n:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Channel) subscribe(conn *websocket.Conn, tenants []string) {
	req := model.SubscribeRequest{Action: "subscribe", Empresas: tenants}
	if err := conn.WriteJSON(req); err != nil {
		c.log.Warn().Err(err).Msg("Failed to send subscribe frame")
		return
	}
	c.log.Debug().Int("tenants", len(tenants)).Msg("Subscribed tenant set")
}

func (c *Channel) reloadList() {
	if c.cb.ReloadList == nil {
		return
	}
	c.invoke(func(ctx context.Context) {
		c.cb.ReloadList(ctx)
	})
}

func (c *Channel) silentJobReload(jobID string) {
	if c.cb.ReloadJob == nil {
		return
	}
	c.invoke(func(ctx context.Context) {
		if err := c.cb.ReloadJob(ctx, jobID); err != nil {
			// Best-effort refresh: the failure is deliberately discarded.
			c.log.Debug().Err(err).Str("job_id", jobID).Msg("Silent job reload failed")
		}
	})
}

// invoke runs a callback on its own goroutine unless the channel is
// already closed. Close waits for all in-flight callbacks.
func (c *Channel) invoke(f func(context.Context)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.cbWG.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.cbWG.Done()
		f(c.ctx)
	}()
}

func (c *Channel) notifyState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	closed := c.closed
	c.mu.Unlock()

	if changed && !closed && c.cb.StateChanged != nil {
		c.cb.StateChanged(s)
	}
}
